package world

import (
	"sort"

	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world/block"
)

// Размеры игрока для пробы коллизий
const (
	PlayerHalfWidth = 0.3
	PlayerHeight    = 1.8
)

// neighborOffsets шесть соседей чанка по граням
var neighborOffsets = [6]vec.Vec3{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

// World хранилище чанков мира.
//
// Отображение координат чанка в чанк изменяется только оркестрирующим
// циклом, поэтому блокировок здесь нет. Операции хранилища никогда не
// завершаются ошибкой: отсутствующий чанк читается как воздух и
// молча создаётся при записи.
type World struct {
	chunks    map[vec.Vec3]*Chunk
	generator *Generator
}

// NewWorld создаёт пустой мир с указанным сидом и параметрами генерации
func NewWorld(seed int64, config GenConfig) *World {
	return &World{
		chunks:    make(map[vec.Vec3]*Chunk),
		generator: NewGenerator(seed, config),
	}
}

// Seed возвращает сид мира
func (w *World) Seed() int64 {
	return w.generator.Seed()
}

// Config возвращает параметры генерации мира
func (w *World) Config() GenConfig {
	return w.generator.Config()
}

// Generator возвращает генератор мира
func (w *World) Generator() *Generator {
	return w.generator
}

// ChunkCount возвращает количество загруженных чанков.
// Чанки никогда не выгружаются, так что значение только растёт.
func (w *World) ChunkCount() int {
	return len(w.chunks)
}

// GetChunk возвращает чанк, если он существует
func (w *World) GetChunk(coords vec.Vec3) (*Chunk, bool) {
	chunk, ok := w.chunks[coords]
	return chunk, ok
}

// HasChunk проверяет наличие чанка
func (w *World) HasChunk(coords vec.Vec3) bool {
	_, ok := w.chunks[coords]
	return ok
}

// GetOrGenerateChunk возвращает существующий чанк или синхронно генерирует новый.
// Повторный вызов возвращает тот же чанк без перегенерации.
func (w *World) GetOrGenerateChunk(coords vec.Vec3) *Chunk {
	if chunk, ok := w.chunks[coords]; ok {
		return chunk
	}
	chunk := w.generator.Generate(coords)
	w.insert(chunk)
	return chunk
}

// PutChunk добавляет готовый чанк (например, от воркера генерации).
// Если чанк с такими координатами уже есть, хранилище сохраняет прежний
// и возвращает false.
func (w *World) PutChunk(chunk *Chunk) bool {
	if _, ok := w.chunks[chunk.Coords]; ok {
		return false
	}
	w.insert(chunk)
	return true
}

// insert добавляет чанк и помечает соседей: их граничные грани могли закрыться
func (w *World) insert(chunk *Chunk) {
	w.chunks[chunk.Coords] = chunk
	for _, off := range neighborOffsets {
		if nb, ok := w.chunks[chunk.Coords.Add(off)]; ok {
			nb.MarkDirty()
		}
	}
}

// GetBlock возвращает блок по мировым координатам; воздух, если чанка нет
func (w *World) GetBlock(x, y, z int) block.BlockID {
	pos := vec.Vec3{X: x, Y: y, Z: z}
	chunk, ok := w.chunks[pos.ToChunkCoords()]
	if !ok {
		return block.AirBlockID
	}
	local := pos.LocalInChunk()
	return chunk.GetBlock(local.X, local.Y, local.Z)
}

// SetBlock устанавливает блок по мировым координатам.
// Отсутствующий чанк генерируется, изменённый чанк помечается грязным.
// Если блок лежит на границе, грязным помечается и соседний чанк.
func (w *World) SetBlock(x, y, z int, id block.BlockID) {
	pos := vec.Vec3{X: x, Y: y, Z: z}
	coords := pos.ToChunkCoords()
	local := pos.LocalInChunk()

	chunk := w.GetOrGenerateChunk(coords)
	chunk.SetBlock(local.X, local.Y, local.Z, id)

	w.markBorderNeighbor(coords, local.X, vec.Vec3{X: 1})
	w.markBorderNeighbor(coords, local.Y, vec.Vec3{Y: 1})
	w.markBorderNeighbor(coords, local.Z, vec.Vec3{Z: 1})
}

func (w *World) markBorderNeighbor(coords vec.Vec3, local int, axis vec.Vec3) {
	var off vec.Vec3
	switch local {
	case 0:
		off = vec.Vec3{X: -axis.X, Y: -axis.Y, Z: -axis.Z}
	case ChunkSize - 1:
		off = axis
	default:
		return
	}
	if nb, ok := w.chunks[coords.Add(off)]; ok {
		nb.MarkDirty()
	}
}

// ChunkCoordsAround возвращает координаты всех чанков в горизонтальном радиусе
// Чебышёва radius и вертикальной полосе вокруг pos, отсортированные по удалённости.
// Вертикальная полоса ограничена высотой мира.
func ChunkCoordsAround(pos vec.Vec3Float, radius int) []vec.Vec3 {
	center := pos.Floor().ToChunkCoords()

	minY := max(center.Y-VerticalRadius, MinChunkY)
	maxY := min(center.Y+VerticalRadius, MaxChunkY)

	var coords []vec.Vec3
	for dx := -radius; dx <= radius; dx++ {
		for dz := -radius; dz <= radius; dz++ {
			for cy := minY; cy <= maxY; cy++ {
				coords = append(coords, vec.Vec3{X: center.X + dx, Y: cy, Z: center.Z + dz})
			}
		}
	}

	sort.SliceStable(coords, func(i, j int) bool {
		return coords[i].DistanceSqTo(center) < coords[j].DistanceSqTo(center)
	})
	return coords
}

// MissingAround возвращает координаты отсутствующих чанков вокруг позиции,
// ближайшие первыми.
func (w *World) MissingAround(pos vec.Vec3Float, radius int) []vec.Vec3 {
	var missing []vec.Vec3
	for _, coords := range ChunkCoordsAround(pos, radius) {
		if !w.HasChunk(coords) {
			missing = append(missing, coords)
		}
	}
	return missing
}

// GenerateAroundPosition синхронно генерирует все отсутствующие чанки вокруг позиции.
// Идемпотентна: существующие чанки не трогаются. Возвращает число созданных чанков.
func (w *World) GenerateAroundPosition(pos vec.Vec3Float, radius int) int {
	generated := 0
	for _, coords := range w.MissingAround(pos, radius) {
		w.GetOrGenerateChunk(coords)
		generated++
	}
	return generated
}

// CheckCollision приближённая проба ограничивающего объёма игрока:
// сетка 3x3 по горизонтали на трёх уровнях (ноги, середина, голова).
// pos: позиция ног. Возвращает true, если хотя бы одна клетка не воздух и не вода.
func (w *World) CheckCollision(pos vec.Vec3Float) bool {
	offsets := [3]float64{-PlayerHalfWidth, 0, PlayerHalfWidth}
	levels := [3]float64{0, PlayerHeight / 2, PlayerHeight - 0.1}

	for _, dy := range levels {
		for _, dx := range offsets {
			for _, dz := range offsets {
				cell := pos.Add(vec.Vec3Float{X: dx, Y: dy, Z: dz}).Floor()
				if block.IsSolid(w.GetBlock(cell.X, cell.Y, cell.Z)) {
					return true
				}
			}
		}
	}
	return false
}

// Neighbors возвращает существующих соседей чанка по граням
func (w *World) Neighbors(coords vec.Vec3) map[vec.Vec3]*Chunk {
	result := make(map[vec.Vec3]*Chunk, len(neighborOffsets))
	for _, off := range neighborOffsets {
		nc := coords.Add(off)
		if nb, ok := w.chunks[nc]; ok {
			result[nc] = nb
		}
	}
	return result
}

// DirtyChunks возвращает грязные чанки, ближайшие к center первыми
func (w *World) DirtyChunks(center vec.Vec3) []*Chunk {
	var dirty []*Chunk
	for _, chunk := range w.chunks {
		if chunk.IsDirty() {
			dirty = append(dirty, chunk)
		}
	}
	sort.Slice(dirty, func(i, j int) bool {
		di := dirty[i].Coords.DistanceSqTo(center)
		dj := dirty[j].Coords.DistanceSqTo(center)
		if di != dj {
			return di < dj
		}
		return lessCoords(dirty[i].Coords, dirty[j].Coords)
	})
	return dirty
}

func lessCoords(a, b vec.Vec3) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}
