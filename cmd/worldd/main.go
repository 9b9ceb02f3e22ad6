package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/blockworld/internal/api"
	"github.com/annel0/blockworld/internal/config"
	"github.com/annel0/blockworld/internal/engine"
	"github.com/annel0/blockworld/internal/eventbus"
	"github.com/annel0/blockworld/internal/logging"
	"github.com/annel0/blockworld/internal/observability"
	"github.com/annel0/blockworld/internal/scheduler"
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "Путь к YAML конфигурации (или BLOCKWORLD_CONFIG)")
		inline     = flag.Bool("inline", false, "Синхронный режим без воркеров")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if *inline {
		cfg.Workers.Enabled = false
	}

	// === ЛОГИРОВАНИЕ ===
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logs := logging.GetLoggerManager()
	defer logs.CloseAll()
	if cfg.Logging.File {
		fileLevel, _ := logging.ParseLevel(cfg.Logging.FileLevel)
		logs.EnableFiles(level, fileLevel)
		if err := logging.InitDefaultLogger("worldd"); err != nil {
			log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
		}
	}
	logging.SetDefaultLevel(level)

	logging.Info("🧱 Запуск blockworld: сид %d, радиус %d", cfg.World.Seed, cfg.World.ViewRadius)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("❌ %v", err)
		logs.CloseAll()
		log.Fatalf("❌ %v", err)
	}
	if components := logs.ListComponents(); len(components) > 0 {
		logging.Info("🗂 Логи компонентов: %v", components)
	}
	logging.Info("👋 blockworld остановлен")
}

func run(ctx context.Context, cfg *config.Config) error {
	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("Остановка OpenTelemetry: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// === ШИНА СОБЫТИЙ ===
	bus := eventbus.NewMemoryBus(1024)
	eventbus.Init(bus)
	defer bus.Close()

	busMetrics := eventbus.NewMetricsExporter(bus, reg, time.Second)
	busMetrics.Start()
	defer busMetrics.Stop()

	if level, _ := logging.ParseLevel(cfg.Logging.Level); level <= logging.DEBUG {
		if _, err := eventbus.StartLoggingListener(bus); err != nil {
			logging.Warn("Слушатель событий не запущен: %v", err)
		}
	}

	// === ПЛАНИРОВЩИК ===
	opts := engine.Options{
		Seed:         cfg.World.Seed,
		Config:       cfg.World.GenConfig(),
		ViewRadius:   cfg.World.ViewRadius,
		TickInterval: cfg.World.TickInterval(),
		Spawn:        spawnPoint(cfg),
		Bus:          bus,
	}
	if cfg.Workers.Enabled {
		schedOpts := cfg.Workers.SchedulerOptions()
		schedOpts.Registerer = reg
		sched, err := scheduler.New(schedOpts)
		if err != nil {
			return err
		}
		defer sched.Dispose()
		opts.Scheduler = sched
	}

	eng := engine.New(opts)
	server := api.NewRestServer(api.Config{
		Addr:     cfg.Server.GetHTTPAddr(),
		Engine:   eng,
		Registry: reg,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("📡 Завершение работы...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(sctx)
	})

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://%s", cfg.Server.GetHTTPAddr())
	logging.Info("   ❤️  Health check: http://%s/health", cfg.Server.GetHTTPAddr())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// spawnPoint ставит игрока над рельефом в центре мира
func spawnPoint(cfg *config.Config) vec.Vec3Float {
	gen := world.NewGenerator(cfg.World.Seed, cfg.World.GenConfig())
	return vec.Vec3Float{X: 0.5, Y: float64(gen.Height(0, 0)) + 2, Z: 0.5}
}
