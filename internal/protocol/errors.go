package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind категория ошибки воркера
type ErrorKind uint8

const (
	KindGeneration     ErrorKind = 1
	KindMesh           ErrorKind = 2
	KindUnknownRequest ErrorKind = 3
)

func (k ErrorKind) String() string {
	switch k {
	case KindGeneration:
		return "GenerationError"
	case KindMesh:
		return "MeshError"
	case KindUnknownRequest:
		return "UnknownRequest"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

var (
	// ErrUnknownMessage тег сообщения не распознан
	ErrUnknownMessage = errors.New("неизвестный тип сообщения")
	// ErrMalformedFrame кадр не удалось разобрать
	ErrMalformedFrame = errors.New("повреждённый кадр")
)

// WorkerError ошибка, которую воркер вернул в ответе ERROR
type WorkerError struct {
	Kind    ErrorKind
	Message string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// FrameError ошибка разбора кадра. ID и Type заполнены, если их успели прочитать.
type FrameError struct {
	ID   string
	Type MsgType
	Err  error
}

func (e *FrameError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("кадр %s (%s): %v", e.ID, e.Type, e.Err)
	}
	return fmt.Sprintf("кадр: %v", e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
