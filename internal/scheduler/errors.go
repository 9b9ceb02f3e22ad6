package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskCancelled задача снята из очереди вызовом ClearQueue
	ErrTaskCancelled = errors.New("задача отменена")
	// ErrSchedulerDisposed планировщик остановлен
	ErrSchedulerDisposed = errors.New("планировщик остановлен")
	// ErrTaskTimeout задача превысила дедлайн и исчерпала перезапуски
	ErrTaskTimeout = errors.New("превышено время выполнения задачи")
	// ErrUnknownPool запрошен несуществующий пул
	ErrUnknownPool = errors.New("неизвестный пул воркеров")
	// ErrPending результат задачи ещё не готов
	ErrPending = errors.New("задача ещё выполняется")
)

// TransportError сбой воркера на уровне транспорта, а не ответ ERROR
type TransportError struct {
	Pool     PoolKind
	WorkerID int
	TaskID   string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("сбой воркера %s#%d (задача %s): %v", e.Pool, e.WorkerID, e.TaskID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
