package engine

import (
	"context"
	"time"

	"github.com/annel0/blockworld/internal/eventbus"
	"github.com/annel0/blockworld/internal/physics"
	"github.com/annel0/blockworld/internal/scheduler"
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world"
	"github.com/annel0/blockworld/internal/world/block"
	"github.com/google/uuid"
)

// Snapshot состояние движка для диагностики
type Snapshot struct {
	WorldID       string           `json:"world_id"`
	Seed          int64            `json:"seed"`
	Flatness      float64          `json:"flatness"`
	TreeFrequency float64          `json:"tree_frequency"`
	Noise         string           `json:"noise"`
	Background    bool             `json:"background"`
	Player        vec.Vec3Float    `json:"player"`
	ViewRadius    int              `json:"view_radius"`
	Chunks        int              `json:"chunks"`
	DirtyChunks   int              `json:"dirty_chunks"`
	Generating    int              `json:"generating"`
	Meshing       int              `json:"meshing"`
	Ticks         uint64           `json:"ticks"`
	Generated     uint64           `json:"generated"`
	Meshed        uint64           `json:"meshed"`
	Failed        uint64           `json:"failed"`
	Cancelled     uint64           `json:"cancelled"`
	Discarded     uint64           `json:"discarded"`
	Scheduler     *scheduler.Stats `json:"scheduler,omitempty"`
}

// ChunkInfo содержимое чанка для инспекции
type ChunkInfo struct {
	Coords  vec.Vec3       `json:"coords"`
	Exists  bool           `json:"exists"`
	Dirty   bool           `json:"dirty"`
	Version uint64         `json:"version"`
	Blocks  map[string]int `json:"blocks,omitempty"`
}

// MoveResult итог перемещения игрока
type MoveResult struct {
	Position vec.Vec3Float `json:"position"`
	Blocked  [3]bool       `json:"blocked"`
}

// do выполняет fn в горутине цикла и ждёт завершения.
// До запуска Run команда ждёт в очереди, после остановки цикла
// возвращается ErrEngineStopped.
func (e *Engine) do(ctx context.Context, fn func()) error {
	select {
	case <-e.stopped:
		return ErrEngineStopped
	default:
	}

	done := make(chan struct{})
	select {
	case e.commands <- func() {
		defer close(done)
		fn()
	}:
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-e.stopped:
		// команда могла выполниться на последнем тике
		select {
		case <-done:
			return nil
		default:
			return ErrEngineStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetBlock меняет блок по мировым координатам
func (e *Engine) SetBlock(ctx context.Context, x, y, z int, id block.BlockID) error {
	return e.do(ctx, func() { e.setBlock(x, y, z, id) })
}

func (e *Engine) setBlock(x, y, z int, id block.BlockID) {
	e.world.SetBlock(x, y, z, id)
	logger().Debug("Блок (%d,%d,%d) = %s", x, y, z, id)
	e.publish(eventbus.EventBlockChanged, eventbus.PriorityNormal, eventbus.BlockChanged{X: x, Y: y, Z: z, Block: id.String()})
}

// Teleport переносит игрока и отменяет задачи, ещё стоящие в очереди.
// Возвращает число отменённых задач.
func (e *Engine) Teleport(ctx context.Context, pos vec.Vec3Float) (int, error) {
	var cancelled int
	err := e.do(ctx, func() { cancelled = e.teleport(pos) })
	return cancelled, err
}

func (e *Engine) teleport(pos vec.Vec3Float) int {
	e.player = pos
	cancelled := 0
	if e.Background() {
		cancelled = e.sched.ClearQueue()
	}
	logger().Info("📍 Телепорт в %v, отменено задач: %d", pos, cancelled)
	e.publish(eventbus.EventPlayerTeleported, eventbus.PriorityHigh, eventbus.PlayerTeleported{
		X: pos.X, Y: pos.Y, Z: pos.Z, Cancelled: cancelled,
	})
	return cancelled
}

// Move перемещает игрока с проверкой коллизий
func (e *Engine) Move(ctx context.Context, delta vec.Vec3Float) (MoveResult, error) {
	var res MoveResult
	err := e.do(ctx, func() { res = e.move(delta) })
	return res, err
}

func (e *Engine) move(delta vec.Vec3Float) MoveResult {
	r := physics.Move(e.world, e.player, delta)
	e.player = r.Position
	return MoveResult{Position: r.Position, Blocked: [3]bool{r.BlockedX, r.BlockedY, r.BlockedZ}}
}

// Recreate пересоздаёт мир с новыми параметрами рельефа.
// Сид и источник шума сохраняются. Значения не проверяются.
func (e *Engine) Recreate(ctx context.Context, flatness, treeFrequency float64) (string, error) {
	var id string
	err := e.do(ctx, func() { id = e.recreate(flatness, treeFrequency) })
	return id, err
}

func (e *Engine) recreate(flatness, treeFrequency float64) string {
	cfg := e.world.Config()
	cfg.Flatness = flatness
	cfg.TreeFrequency = treeFrequency
	seed := e.world.Seed()

	cancelled := 0
	if e.Background() {
		cancelled = e.sched.ClearQueue()
	}
	e.world = world.NewWorld(seed, cfg)
	e.worldID = uuid.NewString()
	if r, ok := e.renderer.(interface{ Reset() }); ok {
		r.Reset()
	}

	logger().Info("🌍 Мир пересоздан: %s (flatness=%.2f, trees=%.3f), отменено задач: %d",
		e.worldID, flatness, treeFrequency, cancelled)
	e.publish(eventbus.EventWorldRecreated, eventbus.PriorityHigh, eventbus.WorldRecreated{
		WorldID: e.worldID, Seed: seed, Flatness: flatness, TreeFrequency: treeFrequency,
	})
	return e.worldID
}

// Snapshot снимает состояние движка
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.do(ctx, func() { snap = e.snapshot() })
	return snap, err
}

func (e *Engine) snapshot() Snapshot {
	cfg := e.world.Config()
	snap := Snapshot{
		WorldID:       e.worldID,
		Seed:          e.world.Seed(),
		Flatness:      cfg.Flatness,
		TreeFrequency: cfg.TreeFrequency,
		Noise:         cfg.Noise.String(),
		Background:    e.Background(),
		Player:        e.player,
		ViewRadius:    e.opts.ViewRadius,
		Chunks:        e.world.ChunkCount(),
		DirtyChunks:   len(e.world.DirtyChunks(e.player.Floor().ToChunkCoords())),
		Generating:    len(e.generating),
		Meshing:       len(e.meshing),
		Ticks:         e.stats.ticks,
		Generated:     e.stats.generated,
		Meshed:        e.stats.meshed,
		Failed:        e.stats.failed,
		Cancelled:     e.stats.cancelled,
		Discarded:     e.stats.discarded,
	}
	if e.Background() {
		st := e.sched.Stats()
		snap.Scheduler = &st
	}
	return snap
}

// ChunkInfo возвращает сводку по чанку
func (e *Engine) ChunkInfo(ctx context.Context, coords vec.Vec3) (ChunkInfo, error) {
	var info ChunkInfo
	err := e.do(ctx, func() { info = e.chunkInfo(coords) })
	return info, err
}

func (e *Engine) chunkInfo(coords vec.Vec3) ChunkInfo {
	info := ChunkInfo{Coords: coords}
	chunk, ok := e.world.GetChunk(coords)
	if !ok {
		return info
	}
	info.Exists = true
	info.Dirty = chunk.IsDirty()
	info.Version = chunk.Version()
	info.Blocks = make(map[string]int)
	for _, id := range chunk.Blocks {
		info.Blocks[id.String()]++
	}
	return info
}

// WaitIdle ждёт, пока не останется фоновых задач и грязных чанков.
// Полезно для прогрева мира при старте.
func (e *Engine) WaitIdle(ctx context.Context, poll time.Duration) error {
	for {
		var idle bool
		if err := e.do(ctx, func() { idle = e.idle() }); err != nil {
			return err
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (e *Engine) idle() bool {
	return len(e.generating) == 0 && len(e.meshing) == 0 &&
		len(e.world.MissingAround(e.player, e.opts.ViewRadius)) == 0 &&
		len(e.world.DirtyChunks(vec.Vec3{})) == 0
}
