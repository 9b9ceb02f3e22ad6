package scheduler

import (
	"context"
	"sync"

	"github.com/annel0/blockworld/internal/protocol"
)

// Future результат задачи. Разрешается ровно один раз.
type Future struct {
	id   string
	done chan struct{}
	once sync.Once

	resp protocol.Response
	err  error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func rejectedFuture(id string, err error) *Future {
	f := newFuture(id)
	f.reject(err)
	return f
}

// ID возвращает идентификатор задачи
func (f *Future) ID() string {
	return f.id
}

// Done закрывается, когда задача завершена
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result неблокирующе возвращает результат; ErrPending, если задача не завершена
func (f *Future) Result() (protocol.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	default:
		return nil, ErrPending
	}
}

// Await ждёт завершения задачи или отмены контекста
func (f *Future) Await(ctx context.Context) (protocol.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(resp protocol.Response) bool {
	settled := false
	f.once.Do(func() {
		f.resp = resp
		close(f.done)
		settled = true
	})
	return settled
}

func (f *Future) reject(err error) bool {
	settled := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}
