package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/blockworld/internal/engine"
	"github.com/annel0/blockworld/internal/logging"
	"github.com/annel0/blockworld/internal/middleware"
	"github.com/annel0/blockworld/internal/physics"
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world/block"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Границы параметров рельефа, которые гарантирует интерфейс настройки
const (
	MaxFlatness      = 1.0
	MaxTreeFrequency = 0.2
)

// Engine команды движка, доступные через API.
// *engine.Engine реализует этот интерфейс.
type Engine interface {
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	ChunkInfo(ctx context.Context, coords vec.Vec3) (engine.ChunkInfo, error)
	SetBlock(ctx context.Context, x, y, z int, id block.BlockID) error
	Teleport(ctx context.Context, pos vec.Vec3Float) (int, error)
	Move(ctx context.Context, delta vec.Vec3Float) (engine.MoveResult, error)
	Recreate(ctx context.Context, flatness, treeFrequency float64) (string, error)
}

// RestServer диагностический и управляющий HTTP API
type RestServer struct {
	router  *gin.Engine
	engine  Engine
	addr    string
	timeout time.Duration
	metrics *ServerMetrics
	server  *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr   string // адрес для запуска сервера
	Engine Engine
	// Registry регистр метрик процесса; отдаётся на /metrics
	Registry *prometheus.Registry
	// RequestTimeout ограничение ожидания цикла движка
	RequestTimeout time.Duration
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Addr == "" {
		config.Addr = ":8088"
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 2 * time.Second
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())
	router.Use(otelgin.Middleware("blockworld_api"))

	var reg prometheus.Registerer
	var gatherer prometheus.Gatherer
	if config.Registry != nil {
		reg, gatherer = config.Registry, config.Registry
	}
	promMw := middleware.NewPrometheusMiddleware("api", reg)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, gatherer)

	rs := &RestServer{
		router:  router,
		engine:  config.Engine,
		addr:    config.Addr,
		timeout: config.RequestTimeout,
		metrics: NewServerMetrics(),
	}
	rs.server = &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.Use(corsMiddleware())
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.Use(rs.timeoutMiddleware())
	{
		api.GET("/stats", rs.handleStats)
		api.GET("/chunks/:x/:y/:z", rs.handleChunk)
		api.POST("/blocks", rs.handleSetBlock)
		api.POST("/player/teleport", rs.handleTeleport)
		api.POST("/player/move", rs.handleMove)
		api.POST("/world/recreate", rs.handleRecreate)
	}
}

// GenericResponse общий формат ответа
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// BlockRequest запрос на изменение блока
type BlockRequest struct {
	X     *int   `json:"x" binding:"required"`
	Y     *int   `json:"y" binding:"required"`
	Z     *int   `json:"z" binding:"required"`
	Block string `json:"block" binding:"required"`
}

// TeleportRequest запрос на телепорт игрока
type TeleportRequest struct {
	X *float64 `json:"x" binding:"required"`
	Y *float64 `json:"y" binding:"required"`
	Z *float64 `json:"z" binding:"required"`
}

// MoveRequest смещение игрока
type MoveRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
	DZ float64 `json:"dz"`
}

// RecreateRequest параметры нового мира, как их отправляет интерфейс настройки
type RecreateRequest struct {
	Flatness      *float64 `json:"flatness" binding:"required"`
	TreeFrequency *float64 `json:"tree_frequency" binding:"required"`
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleStats возвращает состояние движка, планировщика и процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	snap, err := rs.engine.Snapshot(c.Request.Context())
	if err != nil {
		rs.engineError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data: gin.H{
			"engine":  snap,
			"process": rs.metrics.Collect(snap),
		},
	})
}

// handleChunk возвращает сводку по чанку
func (rs *RestServer) handleChunk(c *gin.Context) {
	var coords vec.Vec3
	for _, p := range []struct {
		name string
		dst  *int
	}{{"x", &coords.X}, {"y", &coords.Y}, {"z", &coords.Z}} {
		v, err := strconv.Atoi(c.Param(p.name))
		if err != nil {
			badRequest(c, fmt.Sprintf("Неверная координата %s: %q", p.name, c.Param(p.name)))
			return
		}
		*p.dst = v
	}

	info, err := rs.engine.ChunkInfo(c.Request.Context(), coords)
	if err != nil {
		rs.engineError(c, err)
		return
	}
	if !info.Exists {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: fmt.Sprintf("Чанк %d,%d,%d не загружен", coords.X, coords.Y, coords.Z),
			Data:    info,
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Чанк найден", Data: info})
}

// handleSetBlock меняет блок
func (rs *RestServer) handleSetBlock(c *gin.Context) {
	var req BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}
	id, err := block.ParseName(req.Block)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := rs.engine.SetBlock(c.Request.Context(), *req.X, *req.Y, *req.Z, id); err != nil {
		rs.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Блок (%d,%d,%d) установлен: %s", *req.X, *req.Y, *req.Z, id),
	})
}

// handleTeleport переносит игрока
func (rs *RestServer) handleTeleport(c *gin.Context) {
	var req TeleportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}

	pos := vec.Vec3Float{X: *req.X, Y: *req.Y, Z: *req.Z}
	cancelled, err := rs.engine.Teleport(c.Request.Context(), pos)
	if err != nil {
		rs.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Игрок перемещён",
		Data:    gin.H{"position": pos, "cancelled_tasks": cancelled},
	})
}

// handleMove сдвигает игрока с учётом коллизий
func (rs *RestServer) handleMove(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}
	for _, d := range []float64{req.DX, req.DY, req.DZ} {
		if math.Abs(d) > physics.MaxDisplacement {
			badRequest(c, fmt.Sprintf("смещение по оси должно лежать в [-%v, %v]", physics.MaxDisplacement, physics.MaxDisplacement))
			return
		}
	}

	res, err := rs.engine.Move(c.Request.Context(), vec.Vec3Float{X: req.DX, Y: req.DY, Z: req.DZ})
	if err != nil {
		rs.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Перемещение выполнено", Data: res})
}

// handleRecreate пересоздаёт мир. Диапазоны проверяются здесь,
// генератор получает значения как есть.
func (rs *RestServer) handleRecreate(c *gin.Context) {
	var req RecreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}
	if *req.Flatness < 0 || *req.Flatness > MaxFlatness {
		badRequest(c, fmt.Sprintf("flatness должен лежать в [0, %v]", MaxFlatness))
		return
	}
	if *req.TreeFrequency < 0 || *req.TreeFrequency > MaxTreeFrequency {
		badRequest(c, fmt.Sprintf("tree_frequency должен лежать в [0, %v]", MaxTreeFrequency))
		return
	}

	id, err := rs.engine.Recreate(c.Request.Context(), *req.Flatness, *req.TreeFrequency)
	if err != nil {
		rs.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Мир пересоздан",
		Data:    gin.H{"world_id": id},
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: msg})
}

// engineError переводит ошибку движка в HTTP статус
func (rs *RestServer) engineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrEngineStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	logging.Warn("API %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(status, GenericResponse{Success: false, Message: err.Error()})
}

// Handler возвращает http.Handler API (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает REST сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	logging.Info("🌐 HTTP API слушает %s", rs.addr)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP API %s: %w", rs.addr, err)
	}
	return nil
}

// Stop плавно останавливает REST сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}
