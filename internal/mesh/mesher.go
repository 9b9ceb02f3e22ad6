package mesh

import (
	"errors"
	"fmt"

	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world"
	"github.com/annel0/blockworld/internal/world/block"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrUnknownBlock блок без зарегистрированных свойств нельзя текстурировать
var ErrUnknownBlock = errors.New("неизвестный тип блока")

// Data геометрия чанка: четыре параллельных буфера
type Data struct {
	Vertices []float32 // тройки координат в мировом пространстве
	Normals  []float32 // тройки
	UVs      []float32 // пары
	Indices  []uint32  // по 6 на грань
}

// VertexCount возвращает количество вершин
func (d Data) VertexCount() int {
	return len(d.Vertices) / 3
}

// FaceCount возвращает количество квадов
func (d Data) FaceCount() int {
	return len(d.Indices) / 6
}

// Empty возвращает true, если в меше нет граней
func (d Data) Empty() bool {
	return len(d.Indices) == 0
}

// Build строит меш чанка с отсечением скрытых граней.
//
// Грань непрозрачного для соседа блока добавляется, только если соседняя
// клетка прозрачна (воздух, вода, листва). Клетка за границей чанка
// берётся из neighbors; если соседа нет, грань считается открытой.
func Build(chunk *world.Chunk, neighbors map[vec.Vec3]*world.Chunk) (Data, error) {
	var data Data
	origin := chunk.Coords.ChunkOrigin()
	base := mgl32.Vec3{float32(origin.X), float32(origin.Y), float32(origin.Z)}

	for z := 0; z < world.ChunkSize; z++ {
		for y := 0; y < world.ChunkSize; y++ {
			for x := 0; x < world.ChunkSize; x++ {
				id := chunk.GetBlock(x, y, z)
				if id == block.AirBlockID {
					continue
				}
				if !block.IsValidBlockID(id) {
					return Data{}, fmt.Errorf("чанк %v, блок (%d,%d,%d): %w (%d)", chunk.Coords, x, y, z, ErrUnknownBlock, id)
				}

				pos := base.Add(mgl32.Vec3{float32(x), float32(y), float32(z)})
				for f := range faces {
					face := Face(f)
					d := faces[f].dir
					if !isExposed(chunk, neighbors, x+d.X, y+d.Y, z+d.Z) {
						continue
					}
					data.appendQuad(pos, face, FaceUV(id, face))
				}
			}
		}
	}
	return data, nil
}

// isExposed проверяет прозрачность соседней клетки по локальным координатам,
// которые могут выходить за пределы чанка на единицу.
func isExposed(chunk *world.Chunk, neighbors map[vec.Vec3]*world.Chunk, x, y, z int) bool {
	if world.InBounds(x, y, z) {
		return block.IsTransparent(chunk.GetBlock(x, y, z))
	}

	local := vec.Vec3{X: x, Y: y, Z: z}
	nc := chunk.Coords.Add(vec.Vec3{
		X: vec.FloorDiv(x, world.ChunkSize),
		Y: vec.FloorDiv(y, world.ChunkSize),
		Z: vec.FloorDiv(z, world.ChunkSize),
	})
	nb, ok := neighbors[nc]
	if !ok || nb == nil {
		return true
	}
	l := local.LocalInChunk()
	return block.IsTransparent(nb.GetBlock(l.X, l.Y, l.Z))
}

func (d *Data) appendQuad(pos mgl32.Vec3, face Face, uv UVRect) {
	first := uint32(len(d.Vertices) / 3)
	def := faces[face]
	uvs := uv.corners()

	for i, corner := range def.corners {
		v := pos.Add(corner)
		d.Vertices = append(d.Vertices, v.X(), v.Y(), v.Z())
		d.Normals = append(d.Normals, def.normal.X(), def.normal.Y(), def.normal.Z())
		d.UVs = append(d.UVs, uvs[i][0], uvs[i][1])
	}
	for _, idx := range quadIndices {
		d.Indices = append(d.Indices, first+idx)
	}
}
