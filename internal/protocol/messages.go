package protocol

import (
	"fmt"

	"github.com/annel0/blockworld/internal/mesh"
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world"
	"github.com/annel0/blockworld/internal/world/block"
)

// MsgType определяет тип сообщения между планировщиком и воркерами
type MsgType uint8

// Определение констант для типов сообщений
const (
	MsgUnknown MsgType = 0

	// Запросы
	MsgGenerateChunk MsgType = 1
	MsgBuildMesh     MsgType = 2

	// Ответы
	MsgChunkReady MsgType = 10
	MsgMeshReady  MsgType = 11
	MsgError      MsgType = 12
)

func (t MsgType) String() string {
	switch t {
	case MsgGenerateChunk:
		return "GENERATE_CHUNK"
	case MsgBuildMesh:
		return "BUILD_MESH"
	case MsgChunkReady:
		return "CHUNK_READY"
	case MsgMeshReady:
		return "MESH_READY"
	case MsgError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Message общий интерфейс всех сообщений протокола
type Message interface {
	MessageID() string
	Type() MsgType
}

// Request запрос, который планировщик отправляет воркеру.
// Набор реализаций закрыт: GenerateChunk и BuildMesh.
type Request interface {
	Message
	isRequest()
}

// Response ответ воркера. Реализации: ChunkReady, MeshReady, Error.
type Response interface {
	Message
	isResponse()
}

// ChunkData копия чанка для передачи через границу воркера
type ChunkData struct {
	Position vec.Vec3
	Blocks   []byte
	IsDirty  bool
}

// FromChunk делает независимую копию чанка
func FromChunk(c *world.Chunk) ChunkData {
	blocks := make([]byte, world.ChunkVolume)
	for i, id := range c.Blocks {
		blocks[i] = byte(id)
	}
	return ChunkData{Position: c.Coords, Blocks: blocks, IsDirty: c.IsDirty()}
}

// ToChunk восстанавливает чанк из копии
func (d ChunkData) ToChunk() (*world.Chunk, error) {
	if len(d.Blocks) != world.ChunkVolume {
		return nil, fmt.Errorf("чанк %v: ожидалось %d блоков, получено %d", d.Position, world.ChunkVolume, len(d.Blocks))
	}
	c := world.NewChunk(d.Position)
	for i, b := range d.Blocks {
		c.Blocks[i] = block.BlockID(b)
	}
	c.SetDirty(d.IsDirty)
	return c, nil
}

// GenerateChunk просит воркер сгенерировать чанк
type GenerateChunk struct {
	ID     string
	ChunkX int
	ChunkY int
	ChunkZ int
	Seed   int64
	Config world.GenConfig
}

// Coords возвращает координаты запрошенного чанка
func (m GenerateChunk) Coords() vec.Vec3 {
	return vec.Vec3{X: m.ChunkX, Y: m.ChunkY, Z: m.ChunkZ}
}

// BuildMesh просит воркер построить меш чанка.
// Neighbors содержит копии тех из шести соседей, что загружены.
type BuildMesh struct {
	ID        string
	Chunk     ChunkData
	Neighbors []ChunkData
}

// ChunkReady результат генерации
type ChunkReady struct {
	ID    string
	Chunk ChunkData
}

// MeshReady результат построения меша
type MeshReady struct {
	ID       string
	ChunkKey vec.Vec3
	Mesh     mesh.Data
}

// Error ответ воркера об ошибке. Original хранит исходный запрос, если он известен.
type Error struct {
	ID       string
	Kind     ErrorKind
	Message  string
	Original Request
}

// Err преобразует ответ в ошибку для отклонения задачи
func (m Error) Err() error {
	return &WorkerError{Kind: m.Kind, Message: m.Message}
}

func (m GenerateChunk) MessageID() string { return m.ID }
func (m BuildMesh) MessageID() string     { return m.ID }
func (m ChunkReady) MessageID() string    { return m.ID }
func (m MeshReady) MessageID() string     { return m.ID }
func (m Error) MessageID() string         { return m.ID }

func (GenerateChunk) Type() MsgType { return MsgGenerateChunk }
func (BuildMesh) Type() MsgType     { return MsgBuildMesh }
func (ChunkReady) Type() MsgType    { return MsgChunkReady }
func (MeshReady) Type() MsgType     { return MsgMeshReady }
func (Error) Type() MsgType         { return MsgError }

func (GenerateChunk) isRequest() {}
func (BuildMesh) isRequest()     {}

func (ChunkReady) isResponse() {}
func (MeshReady) isResponse()  {}
func (Error) isResponse()      {}

// WithID возвращает копию запроса с новым идентификатором
func WithID(req Request, id string) Request {
	switch r := req.(type) {
	case GenerateChunk:
		r.ID = id
		return r
	case BuildMesh:
		r.ID = id
		return r
	default:
		return req
	}
}
