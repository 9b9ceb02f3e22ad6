package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы событий мира
const (
	EventChunkGenerated   = "chunk.generated"
	EventMeshBuilt        = "mesh.built"
	EventTaskFailed       = "task.failed"
	EventBlockChanged     = "block.changed"
	EventPlayerTeleported = "player.teleported"
	EventWorldRecreated   = "world.recreated"
)

// Приоритеты событий: ниже 5 могут быть отброшены при переполнении буфера
const (
	PriorityLow    = 1
	PriorityNormal = 4
	PriorityHigh   = 7
)

// SourceEngine имя источника событий оркестратора
const SourceEngine = "engine"

const payloadVersion = 1

// ChunkGenerated чанк добавлен в хранилище
type ChunkGenerated struct {
	WorldID    string `json:"world_id"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Z          int    `json:"z"`
	Background bool   `json:"background"`
}

// MeshBuilt меш чанка передан рендереру
type MeshBuilt struct {
	WorldID string `json:"world_id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Z       int    `json:"z"`
	Faces   int    `json:"faces"`
}

// TaskFailed фоновая задача завершилась ошибкой
type TaskFailed struct {
	WorldID string `json:"world_id"`
	Task    string `json:"task"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Z       int    `json:"z"`
	Error   string `json:"error"`
}

// BlockChanged блок изменён командой
type BlockChanged struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
	Block string `json:"block"`
}

// PlayerTeleported игрок перемещён, очереди сброшены
type PlayerTeleported struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Cancelled int     `json:"cancelled"`
}

// WorldRecreated мир пересоздан с новыми параметрами
type WorldRecreated struct {
	WorldID       string  `json:"world_id"`
	Seed          int64   `json:"seed"`
	Flatness      float64 `json:"flatness"`
	TreeFrequency float64 `json:"tree_frequency"`
}

// NewEnvelope упаковывает полезную нагрузку в конверт с новым UUID
func NewEnvelope(eventType, source string, priority int, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация события %s: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   payloadVersion,
		Priority:  priority,
		Payload:   data,
	}, nil
}

// Decode распаковывает полезную нагрузку конверта
func Decode(ev *Envelope, out any) error {
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		return fmt.Errorf("разбор события %s (%s): %w", ev.ID, ev.EventType, err)
	}
	return nil
}
