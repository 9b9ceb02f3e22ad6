package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloorDivAndMod(t *testing.T) {
	cases := []struct {
		a, div, mod int
	}{
		{0, 0, 0},
		{15, 0, 15},
		{16, 1, 0},
		{-1, -1, 15},
		{-16, -1, 0},
		{-17, -2, 15},
		{33, 2, 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.div, FloorDiv(c.a, ChunkSize), "FloorDiv(%d)", c.a)
		assert.Equal(t, c.mod, Mod(c.a, ChunkSize), "Mod(%d)", c.a)
	}
}

func TestNegativeCoordinateResolution(t *testing.T) {
	pos := Vec3{X: -1, Y: 5, Z: -20}

	assert.Equal(t, Vec3{X: -1, Y: 0, Z: -2}, pos.ToChunkCoords())
	assert.Equal(t, Vec3{X: 15, Y: 5, Z: 12}, pos.LocalInChunk())

	// Чанк + локальные координаты должны давать исходную точку
	back := pos.ToChunkCoords().ChunkOrigin().Add(pos.LocalInChunk())
	assert.Equal(t, pos, back)
}

func TestChebyshevXZ(t *testing.T) {
	a := Vec3{X: 0, Y: 100, Z: 0}
	assert.Equal(t, 3, a.ChebyshevXZ(Vec3{X: -3, Y: 0, Z: 2}))
	assert.Equal(t, 0, a.ChebyshevXZ(Vec3{X: 0, Y: -7, Z: 0}))
}

func TestVec3FloatFloor(t *testing.T) {
	assert.Equal(t, Vec3{X: -1, Y: 0, Z: 2}, Vec3Float{X: -0.2, Y: 0.9, Z: 2.0}.Floor())
}
