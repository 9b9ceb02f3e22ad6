package world

import (
	"testing"

	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world/block"
	"github.com/stretchr/testify/assert"
)

func TestChunkCreateAndGetBlock(t *testing.T) {
	chunk := NewChunk(vec.Vec3{X: 5, Y: 1, Z: -10})

	assert.Equal(t, vec.Vec3{X: 5, Y: 1, Z: -10}, chunk.Coords)
	assert.True(t, chunk.IsEmpty(), "новый чанк должен быть заполнен воздухом")
	assert.False(t, chunk.IsDirty())

	chunk.SetBlock(3, 4, 5, block.StoneBlockID)
	assert.Equal(t, block.StoneBlockID, chunk.GetBlock(3, 4, 5))
	assert.Equal(t, block.StoneBlockID, chunk.Blocks[3+4*16+5*256], "индекс должен быть x + y*N + z*N²")
	assert.True(t, chunk.IsDirty(), "запись блока должна помечать чанк грязным")
}

func TestChunkClearDirtyRespectsVersion(t *testing.T) {
	chunk := NewChunk(vec.Vec3{})
	chunk.SetBlock(0, 0, 0, block.DirtBlockID)
	v := chunk.Version()

	// Изменение после снятия снимка версии
	chunk.SetBlock(1, 0, 0, block.DirtBlockID)
	assert.False(t, chunk.ClearDirty(v), "устаревшая версия не должна снимать флаг")
	assert.True(t, chunk.IsDirty())

	assert.True(t, chunk.ClearDirty(chunk.Version()))
	assert.False(t, chunk.IsDirty())
}

func TestChunkCloneIsIndependent(t *testing.T) {
	chunk := NewChunk(vec.Vec3{X: 1})
	chunk.SetBlock(2, 2, 2, block.SandBlockID)

	cp := chunk.Clone()
	cp.SetBlock(2, 2, 2, block.WaterBlockID)

	assert.Equal(t, block.SandBlockID, chunk.GetBlock(2, 2, 2))
	assert.Equal(t, block.WaterBlockID, cp.GetBlock(2, 2, 2))
}
