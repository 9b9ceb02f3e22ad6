package world

import (
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world/block"
)

// ChunkSize длина ребра чанка в блоках
const ChunkSize = vec.ChunkSize

// ChunkVolume количество блоков в чанке
const ChunkVolume = ChunkSize * ChunkSize * ChunkSize

// Chunk представляет кубический участок мира 16x16x16 блоков.
//
// Чанк не защищён мьютексом: им владеет только оркестрирующий цикл,
// воркеры получают копии.
type Chunk struct {
	// Координаты чанка в сетке чанков
	Coords vec.Vec3
	// Блоки, индекс x + y*16 + z*256
	Blocks [ChunkVolume]block.BlockID

	dirty   bool
	version uint64
}

// NewChunk создаёт пустой (заполненный воздухом) чанк с указанными координатами
func NewChunk(coords vec.Vec3) *Chunk {
	return &Chunk{Coords: coords}
}

// Index возвращает индекс блока в плоском массиве по локальным координатам
func Index(x, y, z int) int {
	return x + y*ChunkSize + z*ChunkSize*ChunkSize
}

// InBounds проверяет, что локальные координаты лежат внутри чанка
func InBounds(x, y, z int) bool {
	return x >= 0 && x < ChunkSize && y >= 0 && y < ChunkSize && z >= 0 && z < ChunkSize
}

// GetBlock возвращает ID блока по локальным координатам
func (c *Chunk) GetBlock(x, y, z int) block.BlockID {
	return c.Blocks[Index(x, y, z)]
}

// SetBlock устанавливает блок по локальным координатам и помечает чанк грязным
func (c *Chunk) SetBlock(x, y, z int, id block.BlockID) {
	c.Blocks[Index(x, y, z)] = id
	c.MarkDirty()
}

// IsDirty возвращает true, если меш чанка устарел
func (c *Chunk) IsDirty() bool {
	return c.dirty
}

// MarkDirty помечает чанк как требующий перестройки меша
func (c *Chunk) MarkDirty() {
	c.dirty = true
	c.version++
}

// SetDirty выставляет флаг напрямую, без изменения версии (для декодирования)
func (c *Chunk) SetDirty(dirty bool) {
	c.dirty = dirty
}

// Version возвращает счётчик изменений чанка
func (c *Chunk) Version() uint64 {
	return c.version
}

// ClearDirty снимает флаг, только если чанк не менялся после версии version.
// Возвращает true, если флаг снят.
func (c *Chunk) ClearDirty(version uint64) bool {
	if c.version != version {
		return false
	}
	c.dirty = false
	return true
}

// Clone создаёт независимую копию чанка
func (c *Chunk) Clone() *Chunk {
	cp := *c
	return &cp
}

// CountBlocks возвращает количество блоков указанного типа
func (c *Chunk) CountBlocks(id block.BlockID) int {
	n := 0
	for _, b := range c.Blocks {
		if b == id {
			n++
		}
	}
	return n
}

// IsEmpty возвращает true, если чанк целиком состоит из воздуха
func (c *Chunk) IsEmpty() bool {
	return c.CountBlocks(block.AirBlockID) == ChunkVolume
}
