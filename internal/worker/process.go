package worker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/blockworld/internal/logging"
	"github.com/annel0/blockworld/internal/protocol"
)

var (
	// ErrTerminated воркер уже остановлен
	ErrTerminated = errors.New("воркер остановлен")
	// ErrInboxFull входящая очередь воркера переполнена
	ErrInboxFull = errors.New("очередь воркера переполнена")
)

const inboxSize = 4

// logger логгер компонента worker
func logger() *logging.Logger {
	return logging.Component("worker")
}

// Kind тип воркера
type Kind uint8

const (
	Generation Kind = iota
	Mesh
)

func (k Kind) String() string {
	switch k {
	case Generation:
		return "generation"
	case Mesh:
		return "mesh"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) errorKind() protocol.ErrorKind {
	if k == Mesh {
		return protocol.KindMesh
	}
	return protocol.KindGeneration
}

// Callbacks обработчики событий воркера на стороне планировщика.
// OnMessage получает закодированный ответ, OnError сбой транспорта.
type Callbacks struct {
	OnMessage func(frame []byte)
	OnError   func(err error)
}

// Endpoint сторона планировщика у воркера: только отправка кадров и остановка.
// Post не должен вызывать Callbacks синхронно.
type Endpoint interface {
	Post(frame []byte) error
	Terminate()
}

// Factory создаёт воркер заданного типа
type Factory func(kind Kind, id int, cb Callbacks) (Endpoint, error)

// NewFactory возвращает фабрику воркеров, общающихся через codec
func NewFactory(codec *protocol.Codec) Factory {
	return func(kind Kind, id int, cb Callbacks) (Endpoint, error) {
		return Start(kind, id, codec, HandlerFor(kind), cb), nil
	}
}

// Process изолированный воркер: горутина с собственной очередью.
// С внешним миром обменивается только байтовыми кадрами.
type Process struct {
	id      int
	kind    Kind
	codec   *protocol.Codec
	handler Handler
	cb      Callbacks

	inbox chan []byte
	done  chan struct{}
	once  sync.Once
}

// Start запускает воркер
func Start(kind Kind, id int, codec *protocol.Codec, handler Handler, cb Callbacks) *Process {
	p := &Process{
		id:      id,
		kind:    kind,
		codec:   codec,
		handler: handler,
		cb:      cb,
		inbox:   make(chan []byte, inboxSize),
		done:    make(chan struct{}),
	}
	go p.run()
	logger().Debug("Воркер %s#%d запущен", kind, id)
	return p
}

// Post ставит кадр в очередь воркера
func (p *Process) Post(frame []byte) error {
	select {
	case <-p.done:
		return ErrTerminated
	default:
	}

	select {
	case p.inbox <- frame:
		return nil
	default:
		return ErrInboxFull
	}
}

// Terminate останавливает воркер. Ответ на задачу, выполняющуюся в этот
// момент, доставлен не будет.
func (p *Process) Terminate() {
	p.once.Do(func() {
		close(p.done)
		logger().Debug("Воркер %s#%d остановлен", p.kind, p.id)
	})
}

func (p *Process) terminated() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) run() {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.inbox:
			out, err := p.handle(frame)
			if p.terminated() {
				return
			}
			if err != nil {
				p.cb.OnError(err)
				continue
			}
			p.cb.OnMessage(out)
		}
	}
}

// handle разбирает запрос, выполняет его и кодирует ответ.
// Ошибка означает сбой транспорта; прикладные ошибки возвращаются как ERROR.
func (p *Process) handle(frame []byte) ([]byte, error) {
	msg, err := p.codec.Decode(frame)
	if err != nil {
		var ferr *protocol.FrameError
		if errors.Is(err, protocol.ErrUnknownMessage) && errors.As(err, &ferr) {
			return p.encode(protocol.Error{
				ID:      ferr.ID,
				Kind:    protocol.KindUnknownRequest,
				Message: fmt.Sprintf("неизвестный тег запроса %s", ferr.Type),
			})
		}
		logger().FrameError(fmt.Sprintf("%s#%d", p.kind, p.id), err, frame)
		return nil, fmt.Errorf("воркер %s#%d: %w", p.kind, p.id, err)
	}

	req, ok := msg.(protocol.Request)
	if !ok {
		return p.encode(protocol.Error{
			ID:      msg.MessageID(),
			Kind:    protocol.KindUnknownRequest,
			Message: fmt.Sprintf("сообщение %s не является запросом", msg.Type()),
		})
	}

	return p.encode(p.serve(req))
}

func (p *Process) serve(req protocol.Request) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			logger().Error("Воркер %s#%d: паника при обработке %s: %v", p.kind, p.id, req.MessageID(), r)
			resp = protocol.Error{
				ID:       req.MessageID(),
				Kind:     p.kind.errorKind(),
				Message:  fmt.Sprintf("паника: %v", r),
				Original: req,
			}
		}
	}()
	return p.handler(req)
}

func (p *Process) encode(resp protocol.Response) ([]byte, error) {
	out, err := p.codec.Encode(resp)
	if err != nil {
		return nil, fmt.Errorf("воркер %s#%d: кодирование ответа %s: %w", p.kind, p.id, resp.MessageID(), err)
	}
	return out, nil
}
