package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/blockworld/internal/protocol"
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/worker"
	"github.com/annel0/blockworld/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorker запоминает кадры и отвечает только по команде теста
type fakeWorker struct {
	kind       worker.Kind
	id         int
	cb         worker.Callbacks
	posted     chan []byte
	terminated atomic.Bool
}

func (f *fakeWorker) Post(frame []byte) error {
	if f.terminated.Load() {
		return worker.ErrTerminated
	}
	f.posted <- frame
	return nil
}

func (f *fakeWorker) Terminate() {
	f.terminated.Store(true)
}

type fakeFarm struct {
	mu      sync.Mutex
	codec   *protocol.Codec
	workers []*fakeWorker
}

func (ff *fakeFarm) factory(kind worker.Kind, id int, cb worker.Callbacks) (worker.Endpoint, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	w := &fakeWorker{kind: kind, id: id, cb: cb, posted: make(chan []byte, 16)}
	ff.workers = append(ff.workers, w)
	return w, nil
}

// latest возвращает последний созданный воркер слота
func (ff *fakeFarm) latest(kind worker.Kind, id int) *fakeWorker {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	for i := len(ff.workers) - 1; i >= 0; i-- {
		if w := ff.workers[i]; w.kind == kind && w.id == id {
			return w
		}
	}
	return nil
}

// nth возвращает n-й по счёту воркер слота (0 исходный, 1 первая замена)
func (ff *fakeFarm) nth(kind worker.Kind, id, n int) *fakeWorker {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	for _, w := range ff.workers {
		if w.kind == kind && w.id == id {
			if n == 0 {
				return w
			}
			n--
		}
	}
	return nil
}

func newFakeScheduler(t *testing.T, opts Options) (*Scheduler, *fakeFarm) {
	t.Helper()
	codec, err := protocol.NewCodec(false)
	require.NoError(t, err)

	farm := &fakeFarm{codec: codec}
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	opts.Codec = codec
	opts.Factory = farm.factory

	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	return s, farm
}

func (ff *fakeFarm) nextRequest(t *testing.T, w *fakeWorker) protocol.Request {
	t.Helper()
	select {
	case frame := <-w.posted:
		msg, err := ff.codec.Decode(frame)
		require.NoError(t, err)
		req, ok := msg.(protocol.Request)
		require.True(t, ok)
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("воркер не получил задачу")
		return nil
	}
}

func (ff *fakeFarm) reply(t *testing.T, w *fakeWorker, resp protocol.Response) {
	t.Helper()
	frame, err := ff.codec.Encode(resp)
	require.NoError(t, err)
	w.cb.OnMessage(frame)
}

func chunkReady(req protocol.Request) protocol.ChunkReady {
	g := req.(protocol.GenerateChunk)
	c := world.NewChunk(g.Coords())
	return protocol.ChunkReady{ID: g.ID, Chunk: protocol.FromChunk(c)}
}

func genReq(x int) protocol.GenerateChunk {
	return protocol.GenerateChunk{ChunkX: x, Seed: 42, Config: world.DefaultGenConfig()}
}

func assertPending(t *testing.T, f *Future) {
	t.Helper()
	_, err := f.Result()
	assert.ErrorIs(t, err, ErrPending)
}

func await(t *testing.T, f *Future) (protocol.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Await(ctx)
}

func TestSubmitDispatchesToIdleWorker(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{})
	ctx := context.Background()

	f := s.Submit(ctx, genReq(1), Normal, PoolGeneration)
	w := farm.latest(PoolGeneration, 0)
	req := farm.nextRequest(t, w)

	assert.Equal(t, f.ID(), req.MessageID(), "идентификатор запроса заменён идентификатором задачи")
	assert.Regexp(t, `^\d+_1$`, f.ID())
	assertPending(t, f)

	farm.reply(t, w, chunkReady(req))

	resp, err := await(t, f)
	require.NoError(t, err)
	ready := resp.(protocol.ChunkReady)
	assert.Equal(t, vec.Vec3{X: 1}, ready.Chunk.Position)
}

func TestPriorityOrderingWhenBusy(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{})
	ctx := context.Background()
	w := farm.latest(PoolGeneration, 0)

	first := s.Submit(ctx, genReq(0), Normal, PoolGeneration)
	firstReq := farm.nextRequest(t, w)

	low := s.Submit(ctx, genReq(1), Low, PoolGeneration)
	high := s.Submit(ctx, genReq(2), High, PoolGeneration)
	assert.Equal(t, 2, s.QueueLength(PoolGeneration))

	farm.reply(t, w, chunkReady(firstReq))
	_, err := await(t, first)
	require.NoError(t, err)

	next := farm.nextRequest(t, w)
	assert.Equal(t, high.ID(), next.MessageID(), "HIGH раньше LOW")
	farm.reply(t, w, chunkReady(next))

	last := farm.nextRequest(t, w)
	assert.Equal(t, low.ID(), last.MessageID())
	farm.reply(t, w, chunkReady(last))

	_, err = await(t, low)
	assert.NoError(t, err)
}

func TestEqualPriorityIsFIFO(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{})
	ctx := context.Background()
	w := farm.latest(PoolGeneration, 0)

	s.Submit(ctx, genReq(0), Normal, PoolGeneration)
	busy := farm.nextRequest(t, w)

	a := s.Submit(ctx, genReq(1), Normal, PoolGeneration)
	b := s.Submit(ctx, genReq(2), Normal, PoolGeneration)
	c := s.Submit(ctx, genReq(3), Critical, PoolGeneration)

	farm.reply(t, w, chunkReady(busy))
	order := []string{}
	for i := 0; i < 3; i++ {
		req := farm.nextRequest(t, w)
		order = append(order, req.MessageID())
		farm.reply(t, w, chunkReady(req))
	}
	assert.Equal(t, []string{c.ID(), a.ID(), b.ID()}, order)
}

func TestPoolsAreIndependent(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{})
	ctx := context.Background()

	s.Submit(ctx, genReq(0), Normal, PoolGeneration)
	farm.nextRequest(t, farm.latest(PoolGeneration, 0))

	chunk := protocol.FromChunk(world.NewChunk(vec.Vec3{}))
	f := s.Submit(ctx, protocol.BuildMesh{Chunk: chunk}, Low, PoolMesh)

	meshWorker := farm.latest(PoolMesh, 0)
	req := farm.nextRequest(t, meshWorker)
	assert.Equal(t, f.ID(), req.MessageID(), "пул мешей не ждёт пул генерации")
	assert.Equal(t, 0, s.QueueLength(PoolMesh))
}

func TestClearQueueKeepsDispatched(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{})
	ctx := context.Background()
	w := farm.latest(PoolGeneration, 0)

	running := s.Submit(ctx, genReq(0), Normal, PoolGeneration)
	runningReq := farm.nextRequest(t, w)
	queuedA := s.Submit(ctx, genReq(1), Low, PoolGeneration)
	queuedB := s.Submit(ctx, genReq(2), High, PoolGeneration)

	assert.Equal(t, 2, s.ClearQueue())

	_, err := await(t, queuedA)
	assert.ErrorIs(t, err, ErrTaskCancelled)
	_, err = await(t, queuedB)
	assert.ErrorIs(t, err, ErrTaskCancelled)
	assertPending(t, running)

	farm.reply(t, w, chunkReady(runningReq))
	_, err = await(t, running)
	assert.NoError(t, err)
	assert.Equal(t, 0, s.Stats().Pending)
}

func TestErrorResponseRejectsFuture(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{})
	w := farm.latest(PoolGeneration, 0)

	f := s.Submit(context.Background(), genReq(0), Normal, PoolGeneration)
	req := farm.nextRequest(t, w)
	farm.reply(t, w, protocol.Error{ID: req.MessageID(), Kind: protocol.KindGeneration, Message: "нет", Original: req})

	_, err := await(t, f)
	var werr *protocol.WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, protocol.KindGeneration, werr.Kind)

	// Воркер освобождён
	next := s.Submit(context.Background(), genReq(1), Normal, PoolGeneration)
	assert.Equal(t, next.ID(), farm.nextRequest(t, w).MessageID())
}

func TestTransportFaultFreesWorker(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{})
	ctx := context.Background()
	w := farm.latest(PoolGeneration, 0)

	crashed := s.Submit(ctx, genReq(0), Normal, PoolGeneration)
	farm.nextRequest(t, w)
	queued := s.Submit(ctx, genReq(1), Normal, PoolGeneration)

	w.cb.OnError(errors.New("процесс упал"))

	_, err := await(t, crashed)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, PoolGeneration, terr.Pool)
	assert.Equal(t, crashed.ID(), terr.TaskID)

	req := farm.nextRequest(t, w)
	assert.Equal(t, queued.ID(), req.MessageID(), "очередь продолжает разбираться")
	farm.reply(t, w, chunkReady(req))
	_, err = await(t, queued)
	assert.NoError(t, err)
}

func TestCorruptResponseIsTransportFault(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{})
	w := farm.latest(PoolGeneration, 0)

	f := s.Submit(context.Background(), genReq(0), Normal, PoolGeneration)
	farm.nextRequest(t, w)
	w.cb.OnMessage([]byte{0x00, 0xFF})

	_, err := await(t, f)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}

func TestStaleResponseIgnored(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{})
	w := farm.latest(PoolGeneration, 0)

	f := s.Submit(context.Background(), genReq(0), Normal, PoolGeneration)
	req := farm.nextRequest(t, w)

	stale := chunkReady(req)
	stale.ID = "0_999"
	farm.reply(t, w, stale)
	assertPending(t, f)

	farm.reply(t, w, chunkReady(req))
	_, err := await(t, f)
	assert.NoError(t, err)
}

func TestDisposeRejectsEverything(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{})
	ctx := context.Background()
	w := farm.latest(PoolGeneration, 0)

	running := s.Submit(ctx, genReq(0), Normal, PoolGeneration)
	runningReq := farm.nextRequest(t, w)
	queued := s.Submit(ctx, genReq(1), Normal, PoolGeneration)

	s.Dispose()

	_, err := await(t, running)
	assert.ErrorIs(t, err, ErrSchedulerDisposed)
	_, err = await(t, queued)
	assert.ErrorIs(t, err, ErrSchedulerDisposed)
	assert.True(t, w.terminated.Load())
	assert.True(t, farm.latest(PoolMesh, 0).terminated.Load())

	// Поздний ответ не должен ничего сломать
	farm.reply(t, w, chunkReady(runningReq))

	after := s.Submit(ctx, genReq(2), Normal, PoolGeneration)
	_, err = await(t, after)
	assert.ErrorIs(t, err, ErrSchedulerDisposed)
	assert.True(t, s.Stats().Disposed)

	s.Dispose()
}

func TestUnknownPool(t *testing.T) {
	s, _ := newFakeScheduler(t, Options{})

	f := s.Submit(context.Background(), genReq(0), Normal, PoolKind(9))
	_, err := await(t, f)
	assert.ErrorIs(t, err, ErrUnknownPool)
}

func TestDeadlineRequeuesThenTimesOut(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{TaskDeadline: 30 * time.Millisecond, MaxRequeues: 1})
	first := farm.nth(PoolGeneration, 0, 0)

	f := s.Submit(context.Background(), genReq(0), Normal, PoolGeneration)
	req := farm.nextRequest(t, first)

	// Зависший воркер заменён, задача ушла новому
	require.Eventually(t, func() bool {
		return farm.nth(PoolGeneration, 0, 1) != nil
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, first.terminated.Load())
	second := farm.nth(PoolGeneration, 0, 1)
	assert.Equal(t, req.MessageID(), farm.nextRequest(t, second).MessageID())

	// Ответ заменённого воркера игнорируется, поэтому задача всё равно истекает
	farm.reply(t, first, chunkReady(req))

	_, err := await(t, f)
	assert.ErrorIs(t, err, ErrTaskTimeout)
	assert.Equal(t, 0, s.Stats().Pending)
}

func TestDeadlineRescuedByReplacementWorker(t *testing.T) {
	s, farm := newFakeScheduler(t, Options{TaskDeadline: 300 * time.Millisecond, MaxRequeues: 2})
	first := farm.nth(PoolGeneration, 0, 0)

	f := s.Submit(context.Background(), genReq(0), Normal, PoolGeneration)
	farm.nextRequest(t, first)

	require.Eventually(t, func() bool {
		return farm.nth(PoolGeneration, 0, 1) != nil
	}, 5*time.Second, 5*time.Millisecond)

	second := farm.nth(PoolGeneration, 0, 1)
	req := farm.nextRequest(t, second)
	farm.reply(t, second, chunkReady(req))

	_, err := await(t, f)
	assert.NoError(t, err)
}

// metricValue читает значение счётчика или gauge с меткой pool из реестра
func metricValue(t *testing.T, reg *prometheus.Registry, name, pool string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() != "pool" || lp.GetValue() != pool {
					continue
				}
				if c := m.GetCounter(); c != nil {
					return c.GetValue()
				}
				if g := m.GetGauge(); g != nil {
					return g.GetValue()
				}
			}
		}
	}
	return 0
}

func TestStatsAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, farm := newFakeScheduler(t, Options{Workers: 5, Registerer: reg})
	ctx := context.Background()

	st := s.Stats()
	assert.Equal(t, 3, st.GenerationWorkers)
	assert.Equal(t, 2, st.MeshWorkers)
	assert.Len(t, st.Workers, 5)

	w := farm.latest(PoolGeneration, 0)
	for i := 0; i < 3; i++ {
		f := s.Submit(ctx, genReq(i), Normal, PoolGeneration)
		farm.reply(t, w, chunkReady(farm.nextRequest(t, w)))
		_, err := await(t, f)
		require.NoError(t, err)
	}

	st = s.Stats()
	assert.Equal(t, uint64(3), st.Completed)
	assert.Equal(t, uint64(3), st.Workers[0].Completed)
	assert.GreaterOrEqual(t, st.Workers[0].TotalTime, st.AverageTaskTime)

	assert.Equal(t, 3.0, metricValue(t, reg, "scheduler_tasks_submitted_total", "generation"))
	assert.Equal(t, 3.0, metricValue(t, reg, "scheduler_tasks_completed_total", "generation"))
	assert.Equal(t, 0.0, metricValue(t, reg, "scheduler_busy_workers", "generation"))

	// Повторная регистрация в том же реестре не паникует
	newSchedulerMetrics(reg)
}

func TestSplitWorkers(t *testing.T) {
	tests := []struct {
		total     int
		share     float64
		gen, mesh int
	}{
		{10, 0.6, 6, 4},
		{8, 0, 5, 3},
		{2, 0.6, 1, 1},
		{1, 0.6, 1, 1},
		{4, 0.99, 3, 1},
		{16, 0.5, 8, 8},
	}
	for _, tt := range tests {
		gen, mesh := SplitWorkers(tt.total, tt.share)
		assert.Equal(t, tt.gen, gen, "total=%d share=%v", tt.total, tt.share)
		assert.Equal(t, tt.mesh, mesh, "total=%d share=%v", tt.total, tt.share)
	}

	assert.Positive(t, ConcurrencyHint())
}

func TestRealWorkersDuplicateGeneration(t *testing.T) {
	s, err := New(Options{Workers: 4})
	require.NoError(t, err)
	t.Cleanup(s.Dispose)

	ctx := context.Background()
	req := protocol.GenerateChunk{ChunkX: 0, ChunkY: 2, ChunkZ: 0, Seed: 42, Config: world.DefaultGenConfig()}
	a := s.Submit(ctx, req, High, PoolGeneration)
	b := s.Submit(ctx, req, Low, PoolGeneration)
	assert.NotEqual(t, a.ID(), b.ID())

	ra, err := await(t, a)
	require.NoError(t, err)
	rb, err := await(t, b)
	require.NoError(t, err)

	ca := ra.(protocol.ChunkReady).Chunk
	cb := rb.(protocol.ChunkReady).Chunk
	assert.Equal(t, ca.Blocks, cb.Blocks, "повторная генерация даёт тот же чанк")

	inline := protocol.FromChunk(world.GenerateChunk(vec.Vec3{X: 0, Y: 2, Z: 0}, 42, world.DefaultGenConfig()))
	assert.Equal(t, inline.Blocks, ca.Blocks)

	c, err := ca.ToChunk()
	require.NoError(t, err)
	m := s.Submit(ctx, protocol.BuildMesh{Chunk: protocol.FromChunk(c)}, Normal, PoolMesh)
	resp, err := await(t, m)
	require.NoError(t, err)
	assert.Equal(t, c.Coords, resp.(protocol.MeshReady).ChunkKey)
	assert.Equal(t, 0, s.Stats().Pending)
}

func TestAwaitRespectsContext(t *testing.T) {
	s, _ := newFakeScheduler(t, Options{})

	f := s.Submit(context.Background(), genReq(0), Normal, PoolGeneration)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, s.Stats().GenerationWorkers+s.Stats().MeshWorkers)
}
