package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/blockworld/internal/eventbus"
	"github.com/annel0/blockworld/internal/logging"
	"github.com/annel0/blockworld/internal/mesh"
	"github.com/annel0/blockworld/internal/protocol"
	"github.com/annel0/blockworld/internal/scheduler"
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world"
	"github.com/google/uuid"
)

const (
	// DefaultViewRadius горизонтальный радиус подгрузки в чанках
	DefaultViewRadius = 3
	// DefaultTickInterval период оркестрирующего цикла (~60 Гц)
	DefaultTickInterval = 16 * time.Millisecond

	commandBuffer = 64
)

// ErrEngineStopped цикл движка завершён
var ErrEngineStopped = errors.New("движок остановлен")

// Scheduler фоновый исполнитель задач генерации и построения мешей.
// *scheduler.Scheduler реализует этот интерфейс.
type Scheduler interface {
	Submit(ctx context.Context, req protocol.Request, priority scheduler.Priority, kind scheduler.PoolKind) *scheduler.Future
	ClearQueue() int
	Stats() scheduler.Stats
}

// logger логгер компонента engine
func logger() *logging.Logger {
	return logging.Component("engine")
}

// Options параметры движка
type Options struct {
	Seed         int64
	Config       world.GenConfig
	ViewRadius   int
	Spawn        vec.Vec3Float
	TickInterval time.Duration

	// Scheduler nil означает синхронный режим: генерация и меши в цикле
	Scheduler Scheduler
	// Renderer по умолчанию MemoryRenderer
	Renderer Renderer
	// Bus nil означает глобальную шину событий
	Bus eventbus.EventBus
}

// inflight фоновая задача, запрошенная движком
type inflight struct {
	future  *scheduler.Future
	worldID string
	version uint64 // версия чанка на момент копирования (только меши)
	started time.Time
}

// counters накопительная статистика движка
type counters struct {
	ticks     uint64
	generated uint64
	meshed    uint64
	failed    uint64
	discarded uint64
	cancelled uint64
}

// Engine оркестрирующий цикл мира.
//
// Хранилище чанков, позиция игрока и таблицы задач принадлежат
// горутине цикла. Внешние вызовы передаются в цикл замыканиями
// через канал команд и выполняются в начале тика. Команды, отправленные
// до Run, ждут в буфере канала.
type Engine struct {
	opts     Options
	world    *world.World
	worldID  string
	player   vec.Vec3Float
	sched    Scheduler
	renderer Renderer
	bus      eventbus.EventBus

	commands chan func()
	stopped  chan struct{}

	generating map[vec.Vec3]*inflight
	meshing    map[vec.Vec3]*inflight

	stats counters
}

// New создаёт движок. Цикл не запускается до вызова Run.
func New(opts Options) *Engine {
	if opts.ViewRadius <= 0 {
		opts.ViewRadius = DefaultViewRadius
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Renderer == nil {
		opts.Renderer = NewMemoryRenderer()
	}

	e := &Engine{
		opts:       opts,
		world:      world.NewWorld(opts.Seed, opts.Config),
		worldID:    uuid.NewString(),
		player:     opts.Spawn,
		sched:      opts.Scheduler,
		renderer:   opts.Renderer,
		bus:        opts.Bus,
		commands:   make(chan func(), commandBuffer),
		stopped:    make(chan struct{}),
		generating: make(map[vec.Vec3]*inflight),
		meshing:    make(map[vec.Vec3]*inflight),
	}

	mode := "синхронный"
	if e.Background() {
		mode = "фоновый"
	}
	logger().Info("🌍 Движок создан: мир %s, сид %d, радиус %d, режим %s", e.worldID, opts.Seed, opts.ViewRadius, mode)
	return e
}

// Background возвращает true, если работа уходит воркерам
func (e *Engine) Background() bool {
	return e.sched != nil
}

// World возвращает хранилище. Использовать только из горутины цикла
// или пока цикл не запущен.
func (e *Engine) World() *world.World {
	return e.world
}

// WorldID идентификатор текущего экземпляра мира
func (e *Engine) WorldID() string {
	return e.worldID
}

// Renderer возвращает потребителя мешей
func (e *Engine) Renderer() Renderer {
	return e.renderer
}

// Run крутит цикл до отмены ctx. Вызывается один раз.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	logger().Info("🚀 Цикл движка запущен (тик %v)", e.opts.TickInterval)
	for {
		select {
		case <-ctx.Done():
			logger().Info("🛑 Цикл движка остановлен после %d тиков", e.stats.ticks)
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick один проход цикла: команды, готовые результаты, подгрузка, рендер
func (e *Engine) Tick(ctx context.Context) {
	e.stats.ticks++
	e.drainCommands()
	e.collectChunks()
	e.collectMeshes()
	e.stream(ctx)
	e.renderPass(ctx)
}

func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.commands:
			cmd()
		default:
			return
		}
	}
}

// stream запрашивает недостающие чанки вокруг игрока
func (e *Engine) stream(ctx context.Context) {
	if !e.Background() {
		if n := e.world.GenerateAroundPosition(e.player, e.opts.ViewRadius); n > 0 {
			e.stats.generated += uint64(n)
			logger().Debug("Сгенерировано синхронно %d чанков вокруг %v", n, e.player)
		}
		return
	}

	center := e.player.Floor().ToChunkCoords()
	for _, coords := range e.world.MissingAround(e.player, e.opts.ViewRadius) {
		if _, busy := e.generating[coords]; busy {
			continue
		}
		req := protocol.GenerateChunk{
			ChunkX: coords.X,
			ChunkY: coords.Y,
			ChunkZ: coords.Z,
			Seed:   e.world.Seed(),
			Config: e.world.Config(),
		}
		prio := priorityFor(coords.ChebyshevXZ(center))
		e.generating[coords] = &inflight{
			future:  e.sched.Submit(ctx, req, prio, scheduler.PoolGeneration),
			worldID: e.worldID,
			started: time.Now(),
		}
		logger().Trace("Запрошена генерация %v (%s)", coords, prio)
	}
}

// priorityFor ближние чанки важнее дальних
func priorityFor(distance int) scheduler.Priority {
	switch {
	case distance <= 1:
		return scheduler.Critical
	case distance <= 2:
		return scheduler.High
	case distance <= 4:
		return scheduler.Normal
	default:
		return scheduler.Low
	}
}

// collectChunks переносит готовые фоновые чанки в хранилище
func (e *Engine) collectChunks() {
	for coords, job := range e.generating {
		if !ready(job.future) {
			continue
		}
		delete(e.generating, coords)

		resp, err := job.future.Result()
		if job.worldID != e.worldID {
			e.stats.discarded++
			continue
		}
		if err != nil {
			e.taskFailed("generate", coords, err)
			continue
		}

		msg, ok := resp.(protocol.ChunkReady)
		if !ok {
			e.taskFailed("generate", coords, fmt.Errorf("неожиданный ответ %s", resp.Type()))
			continue
		}
		chunk, err := msg.Chunk.ToChunk()
		if err != nil {
			e.taskFailed("generate", coords, err)
			continue
		}
		if chunk.Coords != coords {
			e.taskFailed("generate", coords, fmt.Errorf("ответ для чужого чанка %v", chunk.Coords))
			continue
		}

		if e.world.PutChunk(chunk) {
			e.stats.generated++
			e.publish(eventbus.EventChunkGenerated, eventbus.PriorityLow, eventbus.ChunkGenerated{
				WorldID: e.worldID, X: coords.X, Y: coords.Y, Z: coords.Z, Background: true,
			})
		}
	}
}

// collectMeshes передаёт готовые меши рендереру и снимает флаг dirty
func (e *Engine) collectMeshes() {
	for coords, job := range e.meshing {
		if !ready(job.future) {
			continue
		}
		delete(e.meshing, coords)

		resp, err := job.future.Result()
		if job.worldID != e.worldID {
			e.stats.discarded++
			continue
		}
		if err != nil {
			// флаг dirty остаётся: следующий проход рендера повторит попытку
			e.taskFailed("mesh", coords, err)
			continue
		}

		msg, ok := resp.(protocol.MeshReady)
		if !ok {
			e.taskFailed("mesh", coords, fmt.Errorf("неожиданный ответ %s", resp.Type()))
			continue
		}
		e.upload(coords, msg.Mesh, job.version)
	}
}

// renderPass строит меши грязных чанков, ближайших к игроку первыми
func (e *Engine) renderPass(ctx context.Context) {
	center := e.player.Floor().ToChunkCoords()
	for _, chunk := range e.world.DirtyChunks(center) {
		coords := chunk.Coords
		if _, busy := e.meshing[coords]; busy {
			continue
		}

		neighbors := e.world.Neighbors(coords)
		if !e.Background() {
			data, err := mesh.Build(chunk, neighbors)
			if err != nil {
				e.taskFailed("mesh", coords, err)
				continue
			}
			e.upload(coords, data, chunk.Version())
			continue
		}

		req := protocol.BuildMesh{Chunk: protocol.FromChunk(chunk)}
		for _, nb := range neighbors {
			req.Neighbors = append(req.Neighbors, protocol.FromChunk(nb))
		}
		prio := priorityFor(coords.ChebyshevXZ(center))
		e.meshing[coords] = &inflight{
			future:  e.sched.Submit(ctx, req, prio, scheduler.PoolMesh),
			worldID: e.worldID,
			version: chunk.Version(),
			started: time.Now(),
		}
	}
}

// upload отдаёт меш рендереру; флаг снимается, только если чанк не
// менялся с момента, когда с него сняли копию
func (e *Engine) upload(coords vec.Vec3, data mesh.Data, version uint64) {
	if err := e.renderer.UploadMesh(coords, data); err != nil {
		logger().Warn("Рендерер отклонил меш %v: %v", coords, err)
		return
	}
	e.stats.meshed++

	chunk, ok := e.world.GetChunk(coords)
	if ok && !chunk.ClearDirty(version) {
		logger().Trace("Чанк %v изменился во время построения меша, остаётся грязным", coords)
	}
	e.publish(eventbus.EventMeshBuilt, eventbus.PriorityLow, eventbus.MeshBuilt{
		WorldID: e.worldID, X: coords.X, Y: coords.Y, Z: coords.Z, Faces: data.FaceCount(),
	})
}

func (e *Engine) taskFailed(task string, coords vec.Vec3, err error) {
	if errors.Is(err, scheduler.ErrTaskCancelled) {
		e.stats.cancelled++
		logger().Trace("Задача %s для %v отменена", task, coords)
		return
	}
	e.stats.failed++
	logger().Warn("⚠️ Задача %s для %v завершилась ошибкой: %v", task, coords, err)
	e.publish(eventbus.EventTaskFailed, eventbus.PriorityHigh, eventbus.TaskFailed{
		WorldID: e.worldID, Task: task, X: coords.X, Y: coords.Y, Z: coords.Z, Error: err.Error(),
	})
}

// publish отправляет событие, не блокируя цикл
func (e *Engine) publish(eventType string, priority int, payload any) {
	ev, err := eventbus.NewEnvelope(eventType, eventbus.SourceEngine, priority, payload)
	if err != nil {
		logger().Error("Событие %s не создано: %v", eventType, err)
		return
	}

	bus := e.bus
	if bus == nil {
		bus = eventbus.Global()
	}
	if bus == nil {
		return
	}

	// высокоприоритетное событие может ждать места в буфере, но не дольше тика
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.TickInterval)
	defer cancel()
	if err := bus.Publish(ctx, ev); err != nil && !errors.Is(err, eventbus.ErrBusClosed) {
		logger().Debug("Событие %s не опубликовано: %v", eventType, err)
	}
}

func ready(f *scheduler.Future) bool {
	select {
	case <-f.Done():
		return true
	default:
		return false
	}
}
