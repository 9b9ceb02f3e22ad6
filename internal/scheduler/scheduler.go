package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/blockworld/internal/logging"
	"github.com/annel0/blockworld/internal/protocol"
	"github.com/annel0/blockworld/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PoolKind пул воркеров, совпадает с типом воркера
type PoolKind = worker.Kind

const (
	PoolGeneration = worker.Generation
	PoolMesh       = worker.Mesh
)

const poolCount = 2

// logger логгер компонента scheduler
func logger() *logging.Logger {
	return logging.Component("scheduler")
}

// Priority приоритет задачи в очереди пула
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "LOW"
	case Normal:
		return "NORMAL"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// Options параметры планировщика
type Options struct {
	// Workers общее число воркеров; 0 означает число логических CPU
	Workers int
	// GenerationShare доля воркеров генерации; 0 означает 0.6
	GenerationShare float64
	// TaskDeadline 0 отключает сторожа задач
	TaskDeadline time.Duration
	// MaxRequeues сколько раз задача возвращается в очередь после дедлайна
	MaxRequeues    int
	CompressFrames bool

	Codec      *protocol.Codec
	Factory    worker.Factory
	Registerer prometheus.Registerer
}

type task struct {
	id       string
	seq      uint64
	priority Priority
	pool     PoolKind
	frame    []byte
	future   *Future
	span     trace.Span

	index    int
	started  time.Time
	requeues int
}

func (t *task) finish(err error) {
	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()
}

type workerSlot struct {
	id       int
	pool     *pool
	endpoint worker.Endpoint
	epoch    uint64
	current  *task

	completed uint64
	totalTime time.Duration
}

func (w *workerSlot) name() string {
	return fmt.Sprintf("%s#%d", w.pool.kind, w.id)
}

type pool struct {
	kind    PoolKind
	label   string
	workers []*workerSlot
	queue   taskQueue
}

func newPool(kind PoolKind, size int) *pool {
	p := &pool{kind: kind, label: kind.String()}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, &workerSlot{id: i, pool: p})
	}
	return p
}

func (p *pool) idle() *workerSlot {
	for _, w := range p.workers {
		if w.current == nil && w.endpoint != nil {
			return w
		}
	}
	return nil
}

// Scheduler распределяет задачи по двум пулам воркеров.
//
// Задача проходит состояния Created, Queued, Dispatched и завершается
// разрешением или отклонением Future. Отменить можно только задачу в очереди.
type Scheduler struct {
	mu      sync.Mutex
	codec   *protocol.Codec
	factory worker.Factory
	pools   [poolCount]*pool
	pending map[string]*task
	seq     uint64

	disposed bool

	completedTasks uint64
	avgTaskTime    time.Duration

	deadline    time.Duration
	maxRequeues int
	stop        chan struct{}
	wg          sync.WaitGroup

	metrics *schedulerMetrics
	tracer  trace.Tracer
}

// New запускает воркеры и возвращает готовый планировщик
func New(opts Options) (*Scheduler, error) {
	total := opts.Workers
	if total <= 0 {
		total = ConcurrencyHint()
	}
	genWorkers, meshWorkers := SplitWorkers(total, opts.GenerationShare)

	codec := opts.Codec
	if codec == nil {
		var err error
		codec, err = protocol.NewCodec(opts.CompressFrames)
		if err != nil {
			return nil, fmt.Errorf("кодек планировщика: %w", err)
		}
	}

	factory := opts.Factory
	if factory == nil {
		factory = worker.NewFactory(codec)
	}

	s := &Scheduler{
		codec:       codec,
		factory:     factory,
		pending:     make(map[string]*task),
		deadline:    opts.TaskDeadline,
		maxRequeues: opts.MaxRequeues,
		stop:        make(chan struct{}),
		metrics:     newSchedulerMetrics(opts.Registerer),
		tracer:      otel.Tracer("github.com/annel0/blockworld/internal/scheduler"),
	}
	s.pools[PoolGeneration] = newPool(PoolGeneration, genWorkers)
	s.pools[PoolMesh] = newPool(PoolMesh, meshWorkers)

	s.mu.Lock()
	for _, p := range s.pools {
		for _, w := range p.workers {
			if err := s.spawnLocked(w); err != nil {
				s.mu.Unlock()
				s.Dispose()
				return nil, fmt.Errorf("запуск воркера %s: %w", w.name(), err)
			}
		}
	}
	s.mu.Unlock()

	if s.deadline > 0 {
		s.wg.Add(1)
		go s.watchdog()
	}

	logger().Info("🧵 Планировщик запущен: %d воркеров генерации, %d воркеров мешей", genWorkers, meshWorkers)
	return s, nil
}

// spawnLocked создаёт воркер для слота. Ответы старого воркера слота
// после этого игнорируются по номеру эпохи.
func (s *Scheduler) spawnLocked(w *workerSlot) error {
	w.epoch++
	epoch := w.epoch
	ep, err := s.factory(w.pool.kind, w.id, worker.Callbacks{
		OnMessage: func(frame []byte) { s.onMessage(w, epoch, frame) },
		OnError:   func(err error) { s.onFault(w, epoch, err) },
	})
	if err != nil {
		w.endpoint = nil
		return err
	}
	w.endpoint = ep
	return nil
}

func (s *Scheduler) poolLocked(kind PoolKind) *pool {
	if int(kind) >= len(s.pools) {
		return nil
	}
	return s.pools[kind]
}

// Submit ставит запрос в пул и возвращает Future.
// Идентификатор запроса заменяется идентификатором задачи.
func (s *Scheduler) Submit(ctx context.Context, req protocol.Request, priority Priority, kind PoolKind) *Future {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return rejectedFuture("", ErrSchedulerDisposed)
	}
	p := s.poolLocked(kind)
	if p == nil {
		return rejectedFuture("", fmt.Errorf("%w: %s", ErrUnknownPool, kind))
	}

	s.seq++
	id := fmt.Sprintf("%d_%d", time.Now().UnixMilli(), s.seq)
	req = protocol.WithID(req, id)

	frame, err := s.codec.Encode(req)
	if err != nil {
		return rejectedFuture(id, fmt.Errorf("кодирование задачи %s: %w", id, err))
	}

	_, span := s.tracer.Start(ctx, "scheduler.task", trace.WithAttributes(
		attribute.String("task.id", id),
		attribute.String("task.type", req.Type().String()),
		attribute.String("task.pool", p.label),
		attribute.Int("task.priority", int(priority)),
	))

	t := &task{
		id:       id,
		seq:      s.seq,
		priority: priority,
		pool:     kind,
		frame:    frame,
		future:   newFuture(id),
		span:     span,
		index:    -1,
	}
	s.pending[id] = t
	s.metrics.submitted.WithLabelValues(p.label).Inc()

	if w := p.idle(); w != nil {
		s.dispatchLocked(w, t)
	} else {
		p.queue.push(t)
		s.metrics.queued.WithLabelValues(p.label).Set(float64(p.queue.Len()))
		logger().Trace("Задача %s (%s, %s) в очереди пула %s, длина %d", id, req.Type(), priority, p.label, p.queue.Len())
	}
	return t.future
}

func (s *Scheduler) dispatchLocked(w *workerSlot, t *task) {
	w.current = t
	t.started = time.Now()
	s.metrics.busy.WithLabelValues(w.pool.label).Inc()
	t.span.AddEvent("dispatched", trace.WithAttributes(attribute.Int("worker.id", w.id)))

	if err := w.endpoint.Post(t.frame); err != nil {
		s.faultLocked(w, fmt.Errorf("отправка кадра: %w", err))
	}
}

func (s *Scheduler) dispatchNextLocked(w *workerSlot) {
	if w.endpoint == nil || w.current != nil {
		return
	}
	t := w.pool.queue.pop()
	if t == nil {
		return
	}
	s.metrics.queued.WithLabelValues(w.pool.label).Set(float64(w.pool.queue.Len()))
	s.dispatchLocked(w, t)
}

func (s *Scheduler) onMessage(w *workerSlot, epoch uint64, frame []byte) {
	msg, decodeErr := s.codec.Decode(frame)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || w.epoch != epoch {
		return
	}
	t := w.current
	if t == nil {
		logger().Warn("Ответ от свободного воркера %s отброшен", w.name())
		return
	}

	if decodeErr != nil {
		logger().FrameError(w.name(), decodeErr, frame)
		s.faultLocked(w, decodeErr)
		return
	}

	resp, ok := msg.(protocol.Response)
	if !ok {
		s.faultLocked(w, fmt.Errorf("%w: воркер прислал %s вместо ответа", protocol.ErrUnknownMessage, msg.Type()))
		return
	}
	if id := resp.MessageID(); id != "" && id != t.id {
		logger().Warn("Воркер %s ответил на %s, ожидалась задача %s", w.name(), id, t.id)
		return
	}

	s.completeLocked(w, t, resp)
}

func (s *Scheduler) completeLocked(w *workerSlot, t *task, resp protocol.Response) {
	elapsed := time.Since(t.started)

	w.current = nil
	w.completed++
	w.totalTime += elapsed
	s.completedTasks++
	s.avgTaskTime += (elapsed - s.avgTaskTime) / time.Duration(s.completedTasks)
	delete(s.pending, t.id)

	label := w.pool.label
	s.metrics.busy.WithLabelValues(label).Dec()
	s.metrics.duration.WithLabelValues(label).Observe(elapsed.Seconds())

	if e, isErr := resp.(protocol.Error); isErr {
		err := e.Err()
		t.future.reject(err)
		t.finish(err)
		s.metrics.failed.WithLabelValues(label).Inc()
		logger().Debug("Задача %s завершилась ошибкой на %s: %v", t.id, w.name(), err)
	} else {
		t.future.resolve(resp)
		t.finish(nil)
		s.metrics.completed.WithLabelValues(label).Inc()
		logger().Trace("Задача %s выполнена на %s за %v", t.id, w.name(), elapsed)
	}

	s.dispatchNextLocked(w)
}

func (s *Scheduler) onFault(w *workerSlot, epoch uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || w.epoch != epoch {
		return
	}
	if w.current == nil {
		logger().Warn("Сбой свободного воркера %s: %v", w.name(), err)
		return
	}
	s.faultLocked(w, err)
}

// faultLocked отклоняет текущую задачу воркера и освобождает его
func (s *Scheduler) faultLocked(w *workerSlot, cause error) {
	t := w.current
	w.current = nil
	s.metrics.busy.WithLabelValues(w.pool.label).Dec()

	terr := &TransportError{Pool: w.pool.kind, WorkerID: w.id, TaskID: t.id, Err: cause}
	delete(s.pending, t.id)
	t.future.reject(terr)
	t.finish(terr)
	s.metrics.failed.WithLabelValues(w.pool.label).Inc()
	logger().Warn("⚠️ %v", terr)

	s.dispatchNextLocked(w)
}

// ClearQueue отклоняет все задачи в очередях обоих пулов.
// Задачи, уже отправленные воркерам, выполняются до конца.
func (s *Scheduler) ClearQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for _, p := range s.pools {
		for _, t := range p.queue.drain() {
			delete(s.pending, t.id)
			t.future.reject(ErrTaskCancelled)
			t.finish(ErrTaskCancelled)
			s.metrics.cancelled.WithLabelValues(p.label).Inc()
			cleared++
		}
		s.metrics.queued.WithLabelValues(p.label).Set(0)
	}

	if cleared > 0 {
		logger().Debug("Очередь планировщика очищена: отменено %d задач", cleared)
	}
	return cleared
}

// Dispose отклоняет все незавершённые задачи и останавливает воркеры.
// После вызова Submit возвращает отклонённый Future.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true

	var endpoints []worker.Endpoint
	rejected := 0
	for _, p := range s.pools {
		for _, t := range p.queue.drain() {
			t.future.reject(ErrSchedulerDisposed)
			t.finish(ErrSchedulerDisposed)
			s.metrics.cancelled.WithLabelValues(p.label).Inc()
			rejected++
		}
		for _, w := range p.workers {
			if t := w.current; t != nil {
				t.future.reject(ErrSchedulerDisposed)
				t.finish(ErrSchedulerDisposed)
				s.metrics.cancelled.WithLabelValues(p.label).Inc()
				w.current = nil
				rejected++
			}
			if w.endpoint != nil {
				endpoints = append(endpoints, w.endpoint)
				w.endpoint = nil
			}
		}
		s.metrics.queued.WithLabelValues(p.label).Set(0)
		s.metrics.busy.WithLabelValues(p.label).Set(0)
	}
	s.pending = make(map[string]*task)
	close(s.stop)
	s.mu.Unlock()

	for _, ep := range endpoints {
		ep.Terminate()
	}
	s.wg.Wait()

	logger().Info("🛑 Планировщик остановлен, отклонено задач: %d", rejected)
}

func (s *Scheduler) watchdog() {
	defer s.wg.Done()

	interval := s.deadline / 4
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.checkDeadlines(now)
		}
	}
}

func (s *Scheduler) checkDeadlines(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}
	for _, p := range s.pools {
		for _, w := range p.workers {
			if t := w.current; t != nil && now.Sub(t.started) > s.deadline {
				s.expireLocked(w, t)
			}
		}
	}
}

// expireLocked заменяет зависший воркер и возвращает задачу в очередь
// либо отклоняет её с ErrTaskTimeout
func (s *Scheduler) expireLocked(w *workerSlot, t *task) {
	p := w.pool
	s.metrics.timeouts.WithLabelValues(p.label).Inc()
	s.metrics.busy.WithLabelValues(p.label).Dec()

	w.current = nil
	if w.endpoint != nil {
		w.endpoint.Terminate()
	}
	if err := s.spawnLocked(w); err != nil {
		logger().Error("❌ Не удалось перезапустить воркер %s: %v", w.name(), err)
	}

	if t.requeues < s.maxRequeues {
		t.requeues++
		t.span.AddEvent("requeued", trace.WithAttributes(attribute.Int("task.requeues", t.requeues)))
		p.queue.push(t)
		s.metrics.queued.WithLabelValues(p.label).Set(float64(p.queue.Len()))
		logger().Warn("⏱️ Задача %s превысила %v на %s, возврат в очередь (%d/%d)", t.id, s.deadline, w.name(), t.requeues, s.maxRequeues)
	} else {
		delete(s.pending, t.id)
		t.future.reject(ErrTaskTimeout)
		t.finish(ErrTaskTimeout)
		s.metrics.failed.WithLabelValues(p.label).Inc()
		logger().Warn("⏱️ Задача %s отклонена по дедлайну на %s", t.id, w.name())
	}

	s.dispatchNextLocked(w)
}

// WorkerStats статистика одного воркера
type WorkerStats struct {
	Pool        string        `json:"pool"`
	ID          int           `json:"id"`
	Busy        bool          `json:"busy"`
	CurrentTask string        `json:"current_task,omitempty"`
	Completed   uint64        `json:"completed"`
	TotalTime   time.Duration `json:"total_time_ns"`
}

// Stats снимок состояния планировщика
type Stats struct {
	GenerationWorkers int           `json:"generation_workers"`
	MeshWorkers       int           `json:"mesh_workers"`
	GenerationQueue   int           `json:"generation_queue"`
	MeshQueue         int           `json:"mesh_queue"`
	Pending           int           `json:"pending"`
	Completed         uint64        `json:"completed"`
	AverageTaskTime   time.Duration `json:"average_task_time_ns"`
	Disposed          bool          `json:"disposed"`
	Workers           []WorkerStats `json:"workers"`
}

// Stats возвращает снимок статистики
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		GenerationWorkers: len(s.pools[PoolGeneration].workers),
		MeshWorkers:       len(s.pools[PoolMesh].workers),
		GenerationQueue:   s.pools[PoolGeneration].queue.Len(),
		MeshQueue:         s.pools[PoolMesh].queue.Len(),
		Pending:           len(s.pending),
		Completed:         s.completedTasks,
		AverageTaskTime:   s.avgTaskTime,
		Disposed:          s.disposed,
	}
	for _, p := range s.pools {
		for _, w := range p.workers {
			ws := WorkerStats{
				Pool:      p.label,
				ID:        w.id,
				Busy:      w.current != nil,
				Completed: w.completed,
				TotalTime: w.totalTime,
			}
			if w.current != nil {
				ws.CurrentTask = w.current.id
			}
			st.Workers = append(st.Workers, ws)
		}
	}
	return st
}

// QueueLength возвращает длину очереди пула
func (s *Scheduler) QueueLength(kind PoolKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.poolLocked(kind); p != nil {
		return p.queue.Len()
	}
	return 0
}
