package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/blockworld/internal/eventbus"
	"github.com/annel0/blockworld/internal/physics"
	"github.com/annel0/blockworld/internal/scheduler"
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/worker"
	"github.com/annel0/blockworld/internal/world"
	"github.com/annel0/blockworld/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var spawn = vec.Vec3Float{X: 8, Y: 40, Z: 8}

func testConfig() world.GenConfig {
	cfg := world.DefaultGenConfig()
	cfg.TreeFrequency = 0.1
	return cfg
}

func newInline(t *testing.T) *Engine {
	t.Helper()
	return New(Options{Seed: 42, Config: testConfig(), ViewRadius: 1, Spawn: spawn})
}

func newBackground(t *testing.T, opts scheduler.Options) (*Engine, *scheduler.Scheduler) {
	t.Helper()
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	s, err := scheduler.New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	return New(Options{Seed: 42, Config: testConfig(), ViewRadius: 1, Spawn: spawn, Scheduler: s}), s
}

// stallFarm воркеры, которые принимают кадры и никогда не отвечают
type stallFarm struct {
	posted atomic.Int32
}

type stallEndpoint struct{ farm *stallFarm }

func (s stallEndpoint) Post([]byte) error {
	s.farm.posted.Add(1)
	return nil
}

func (s stallEndpoint) Terminate() {}

func (f *stallFarm) factory(worker.Kind, int, worker.Callbacks) (worker.Endpoint, error) {
	return stallEndpoint{farm: f}, nil
}

func tickUntilIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		e.Tick(context.Background())
		if e.idle() {
			return
		}
		require.True(t, time.Now().Before(deadline), "движок не пришёл в покой: %+v", e.snapshot())
		time.Sleep(time.Millisecond)
	}
}

// expectedChunks сколько чанков вокруг spawn при радиусе 1
func expectedChunks() int {
	return len(world.ChunkCoordsAround(spawn, 1))
}

func TestInlineTickGeneratesAndMeshes(t *testing.T) {
	e := newInline(t)
	e.Tick(context.Background())

	assert.Equal(t, expectedChunks(), e.World().ChunkCount())
	assert.Empty(t, e.World().DirtyChunks(vec.Vec3{}))

	r := e.Renderer().(*MemoryRenderer)
	assert.Equal(t, uint64(expectedChunks()), r.Uploads())
	assert.Positive(t, r.MeshCount())
	assert.True(t, e.idle())
}

func TestInlineAndBackgroundWorldsMatch(t *testing.T) {
	inline := newInline(t)
	inline.Tick(context.Background())

	bg, _ := newBackground(t, scheduler.Options{Workers: 3})
	tickUntilIdle(t, bg)

	require.Equal(t, inline.World().ChunkCount(), bg.World().ChunkCount())
	for _, coords := range world.ChunkCoordsAround(spawn, 1) {
		a, ok := inline.World().GetChunk(coords)
		require.True(t, ok)
		b, ok := bg.World().GetChunk(coords)
		require.True(t, ok, "чанк %v не сгенерирован воркером", coords)
		assert.Equal(t, a.Blocks, b.Blocks, "чанк %v", coords)

		ma, _ := inline.Renderer().(*MemoryRenderer).Mesh(coords)
		mb, _ := bg.Renderer().(*MemoryRenderer).Mesh(coords)
		assert.Equal(t, ma.FaceCount(), mb.FaceCount(), "меш %v", coords)
	}
	assert.Zero(t, bg.stats.failed)
}

func TestBackgroundDeduplicatesRequests(t *testing.T) {
	farm := &stallFarm{}
	e, s := newBackground(t, scheduler.Options{Factory: farm.factory})

	e.Tick(context.Background())
	e.Tick(context.Background())
	e.Tick(context.Background())

	n := expectedChunks()
	assert.Len(t, e.generating, n)
	assert.Equal(t, n, s.Stats().Pending)
	assert.Equal(t, int32(1), farm.posted.Load())
	assert.Equal(t, n-1, s.QueueLength(scheduler.PoolGeneration))
}

func TestPriorityByDistance(t *testing.T) {
	assert.Equal(t, scheduler.Critical, priorityFor(0))
	assert.Equal(t, scheduler.Critical, priorityFor(1))
	assert.Equal(t, scheduler.High, priorityFor(2))
	assert.Equal(t, scheduler.Normal, priorityFor(4))
	assert.Equal(t, scheduler.Low, priorityFor(5))
}

func TestEditDuringMeshKeepsChunkDirty(t *testing.T) {
	e, _ := newBackground(t, scheduler.Options{})
	ctx := context.Background()

	coords := vec.Vec3{X: 0, Y: 2, Z: 0}
	chunk := e.World().GetOrGenerateChunk(coords)
	before := chunk.Version()

	e.renderPass(ctx)
	job, ok := e.meshing[coords]
	require.True(t, ok)
	assert.Equal(t, before, job.version)

	// правка после снятия копии
	origin := coords.ChunkOrigin()
	e.setBlock(origin.X+3, origin.Y+3, origin.Z+3, block.PlanksBlockID)

	select {
	case <-job.future.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("меш не построен")
	}
	e.collectMeshes()

	assert.True(t, chunk.IsDirty(), "чанк изменён во время построения и должен остаться грязным")
	assert.Equal(t, uint64(1), e.stats.meshed)

	// следующий проход строит меш заново и снимает флаг
	deadline := time.Now().Add(5 * time.Second)
	for chunk.IsDirty() && time.Now().Before(deadline) {
		e.renderPass(ctx)
		time.Sleep(time.Millisecond)
		e.collectMeshes()
	}
	assert.False(t, chunk.IsDirty())
}

func TestTeleportClearsQueuedWork(t *testing.T) {
	farm := &stallFarm{}
	e, s := newBackground(t, scheduler.Options{Factory: farm.factory})

	e.Tick(context.Background())
	queued := s.QueueLength(scheduler.PoolGeneration)
	require.Positive(t, queued)

	far := vec.Vec3Float{X: 10_000, Y: 40, Z: 10_000}
	cancelled := e.teleport(far)
	assert.Equal(t, queued, cancelled)
	assert.Zero(t, s.QueueLength(scheduler.PoolGeneration))

	e.Tick(context.Background())
	assert.Equal(t, uint64(queued), e.stats.cancelled)
	assert.Zero(t, e.stats.failed)

	// из старой области осталась только задача, ушедшая воркеру до телепорта
	center := far.Floor().ToChunkCoords()
	stale := 0
	for coords := range e.generating {
		if coords.ChebyshevXZ(center) > 1 {
			stale++
		}
	}
	assert.Equal(t, 1, stale)
	assert.Len(t, e.generating, expectedChunks()+1)
}

func TestRecreateDiscardsLateResults(t *testing.T) {
	e, _ := newBackground(t, scheduler.Options{})
	e.Tick(context.Background())
	oldID := e.WorldID()

	cfg := e.World().Config()
	newID := e.recreate(1.0, 0)
	require.NotEqual(t, oldID, newID)
	assert.Zero(t, e.World().ChunkCount())

	tickUntilIdle(t, e)

	assert.Positive(t, e.stats.discarded)
	cfg.Flatness, cfg.TreeFrequency = 1.0, 0
	for _, coords := range world.ChunkCoordsAround(spawn, 1) {
		got, ok := e.World().GetChunk(coords)
		require.True(t, ok)
		want := world.GenerateChunk(coords, 42, cfg)
		assert.Equal(t, want.Blocks, got.Blocks, "чанк %v", coords)
		assert.Zero(t, got.CountBlocks(block.WoodBlockID))
	}
}

func TestEventsPublishedToBus(t *testing.T) {
	bus := eventbus.NewMemoryBus(256)
	defer bus.Close()

	var mu sync.Mutex
	seen := map[string]int{}
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		seen[ev.EventType]++
		mu.Unlock()
	})
	require.NoError(t, err)

	e := New(Options{Seed: 7, Config: testConfig(), ViewRadius: 1, Spawn: spawn, Bus: bus})
	e.Tick(context.Background())
	e.setBlock(1, 100, 1, block.StoneBlockID)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[eventbus.EventMeshBuilt] > 0 && seen[eventbus.EventBlockChanged] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCommandsQueueUntilLoopStarts(t *testing.T) {
	e := New(Options{Seed: 42, Config: testConfig(), ViewRadius: 1, Spawn: spawn, TickInterval: time.Millisecond})

	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()

	// команда отправлена раньше, чем горутина цикла успела стартовать
	res := make(chan error, 1)
	go func() {
		_, err := e.Snapshot(cctx)
		res <- err
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, <-res)
	cancel()
	require.NoError(t, <-done)
}

func TestCommandsFailFastAfterStop(t *testing.T) {
	e := New(Options{Seed: 42, Config: testConfig(), ViewRadius: 1, Spawn: spawn, TickInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))

	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()

	start := time.Now()
	_, err := e.Snapshot(cctx)
	assert.ErrorIs(t, err, ErrEngineStopped)
	assert.Less(t, time.Since(start), time.Second)

	_, err = e.Move(cctx, vec.Vec3Float{X: 1})
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestMoveIsBoundedOnLoop(t *testing.T) {
	e := newInline(t)
	e.Tick(context.Background())
	start := e.player

	res := e.move(vec.Vec3Float{X: 5e6})
	assert.LessOrEqual(t, res.Position.X-start.X, physics.MaxDisplacement+1e-9)
}

func TestCommandsThroughLoop(t *testing.T) {
	e := New(Options{Seed: 42, Config: testConfig(), ViewRadius: 1, Spawn: spawn, TickInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	require.NoError(t, e.WaitIdle(cctx, 2*time.Millisecond))

	require.NoError(t, e.SetBlock(cctx, 1, 100, 1, block.CobblestoneBlockID))
	info, err := e.ChunkInfo(cctx, vec.Vec3{X: 0, Y: 6, Z: 0})
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, 1, info.Blocks["cobblestone"])

	missing, err := e.ChunkInfo(cctx, vec.Vec3{X: 100, Y: 0, Z: 100})
	require.NoError(t, err)
	assert.False(t, missing.Exists)

	cancelled, err := e.Teleport(cctx, vec.Vec3Float{X: 8.5, Y: 101, Z: 8.5})
	require.NoError(t, err)
	assert.Zero(t, cancelled)

	res, err := e.Move(cctx, vec.Vec3Float{X: 1})
	require.NoError(t, err)
	assert.InDelta(t, 9.5, res.Position.X, 1e-9)

	snap, err := e.Snapshot(cctx)
	require.NoError(t, err)
	assert.Equal(t, e.WorldID(), snap.WorldID)
	assert.False(t, snap.Background)
	assert.Nil(t, snap.Scheduler)
	assert.InDelta(t, 9.5, snap.Player.X, 1e-9)
	assert.Positive(t, snap.Ticks)

	id, err := e.Recreate(cctx, 0.2, 0.01)
	require.NoError(t, err)
	assert.NotEqual(t, snap.WorldID, id)
}
