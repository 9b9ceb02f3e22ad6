package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransparency(t *testing.T) {
	assert.True(t, IsTransparent(AirBlockID))
	assert.True(t, IsTransparent(WaterBlockID))
	assert.True(t, IsTransparent(LeavesBlockID))
	assert.False(t, IsTransparent(StoneBlockID))
	assert.False(t, IsTransparent(WoodBlockID))
	assert.False(t, IsTransparent(BlockID(200)), "неизвестный блок должен быть непрозрачным")
}

func TestSolidity(t *testing.T) {
	assert.False(t, IsSolid(AirBlockID))
	assert.False(t, IsSolid(WaterBlockID))
	assert.True(t, IsSolid(LeavesBlockID))
	assert.True(t, IsSolid(PlanksBlockID))
}

func TestParseName(t *testing.T) {
	id, err := ParseName("cobblestone")
	require.NoError(t, err)
	assert.Equal(t, CobblestoneBlockID, id)
	assert.Equal(t, "cobblestone", id.String())

	_, err = ParseName("obsidian")
	assert.Error(t, err)
}

func TestAllOrdered(t *testing.T) {
	all := All()
	require.Len(t, all, 10)
	for i, props := range all {
		assert.Equal(t, BlockID(i), props.ID)
	}
}
