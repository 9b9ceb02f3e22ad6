package mesh

import "github.com/annel0/blockworld/internal/world/block"

// AtlasGrid количество плиток по каждой стороне атласа текстур
const AtlasGrid = 16

// UVRect прямоугольник плитки в атласе
type UVRect struct {
	U0, V0, U1, V1 float32
}

// TileRect возвращает UV-прямоугольник плитки по её номеру
func TileRect(tile int) UVRect {
	col := tile % AtlasGrid
	row := tile / AtlasGrid
	const step = float32(1) / AtlasGrid
	return UVRect{
		U0: float32(col) * step,
		V0: float32(row) * step,
		U1: float32(col+1) * step,
		V1: float32(row+1) * step,
	}
}

// FaceUV возвращает UV-прямоугольник для грани блока
func FaceUV(id block.BlockID, face Face) UVRect {
	tiles := block.TilesFor(id)
	switch face {
	case FaceTop:
		return TileRect(tiles.Top)
	case FaceBottom:
		return TileRect(tiles.Bottom)
	default:
		return TileRect(tiles.Side)
	}
}

// corners возвращает UV для четырёх углов квада в порядке faceDef.corners:
// нижняя кромка грани берёт V1, верхняя V0.
func (r UVRect) corners() [4][2]float32 {
	return [4][2]float32{
		{r.U0, r.V1},
		{r.U1, r.V1},
		{r.U1, r.V0},
		{r.U0, r.V0},
	}
}
