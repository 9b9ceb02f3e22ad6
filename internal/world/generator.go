package world

import (
	"math"

	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world/block"
)

// Параметры деревьев
const (
	treeGridStart    = 2 // первая позиция кандидата внутри чанка
	treeGridStep     = 3 // шаг сетки кандидатов
	treeGridCount    = 4 // кандидатов по каждой оси
	treeTrunkMin     = 4
	treeTrunkVariety = 3 // высота ствола 4..6
	treeCrownRadius  = 2

	// Соли для независимых хешей одного и того же сида
	treeSiteSalt  = 0x7431
	treeTrunkSalt = 0x1b87
	detailSalt    = 0x5ee1
)

// Generator детерминированно заполняет чанки рельефом и деревьями.
// Состояние ограничено сидом и конфигурацией, поэтому один и тот же
// генератор безопасно использовать из нескольких горутин.
type Generator struct {
	seed   int64
	config GenConfig

	base   noiseSource
	detail noiseSource
	sites  uint32
	trunks uint32
}

// NewGenerator создаёт генератор для сида и конфигурации
func NewGenerator(seed int64, config GenConfig) *Generator {
	return &Generator{
		seed:   seed,
		config: config,
		base:   newNoiseSource(config.Noise, seed),
		detail: newNoiseSource(config.Noise, seed^detailSalt),
		sites:  foldSeed(seed ^ treeSiteSalt),
		trunks: foldSeed(seed ^ treeTrunkSalt),
	}
}

// GenerateChunk чистая функция генерации: сид + координаты + конфиг → заполненный чанк.
// Её вызывают и хранилище мира, и воркер генерации, поэтому результат
// побитово совпадает независимо от пути выполнения.
func GenerateChunk(coords vec.Vec3, seed int64, config GenConfig) *Chunk {
	return NewGenerator(seed, config).Generate(coords)
}

// Seed возвращает сид генератора
func (g *Generator) Seed() int64 {
	return g.seed
}

// Config возвращает конфигурацию генератора
func (g *Generator) Config() GenConfig {
	return g.config
}

// Amplitude возвращает амплитуду рельефа с учётом flatness
func (g *Generator) Amplitude() float64 {
	return MaxAmplitude * (1 - g.config.Flatness)
}

// Height возвращает высоту столбца (количество заполненных блоков от y=0)
// в мировых координатах (x, z).
func (g *Generator) Height(x, z int) int {
	amplitude := g.Amplitude()
	if amplitude <= 0 {
		return BaseHeight
	}

	sx := float64(x) * NoiseScale
	sz := float64(z) * NoiseScale
	n := g.base.Noise2D(sx, sz) + 0.3*g.detail.Noise2D(2*sx, 2*sz)

	h := BaseHeight + int(math.Floor(float64(n*amplitude)))
	maxHeight := (MaxChunkY+1)*ChunkSize - 1
	if h < 1 {
		h = 1
	}
	if h > maxHeight {
		h = maxHeight
	}
	return h
}

// Generate создаёт и заполняет чанк по его координатам
func (g *Generator) Generate(coords vec.Vec3) *Chunk {
	chunk := NewChunk(coords)
	origin := coords.ChunkOrigin()

	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			height := g.Height(origin.X+x, origin.Z+z)
			for y := 0; y < ChunkSize; y++ {
				chunk.Blocks[Index(x, y, z)] = terrainBlock(origin.Y+y, height)
			}
		}
	}

	g.placeTrees(chunk)

	// Новый чанк ещё не имеет меша
	chunk.MarkDirty()
	return chunk
}

// terrainBlock определяет блок рельефа по мировой высоте y и высоте столбца
func terrainBlock(y, height int) block.BlockID {
	switch {
	case y < height-3:
		return block.StoneBlockID
	case y < height-1:
		return block.DirtBlockID
	case y == height-1:
		return block.GrassBlockID
	default:
		return block.AirBlockID
	}
}

// surfaceBand возвращает диапазон мировых высот, где могут оказаться блоки деревьев
func (g *Generator) surfaceBand() (low, high int) {
	spread := int(math.Ceil(1.3 * g.Amplitude()))
	low = BaseHeight - spread - 1
	high = BaseHeight + spread + treeTrunkMin + treeTrunkVariety + 1
	return low, high
}

// placeTrees второй детерминированный проход: деревья на сетке кандидатов.
// Каждый кандидат вычисляется по мировым координатам, поэтому
// дерево, пересекающее границу по вертикали, совпадает в обоих чанках.
func (g *Generator) placeTrees(chunk *Chunk) {
	if g.config.TreeFrequency <= 0 {
		return
	}

	origin := chunk.Coords.ChunkOrigin()
	low, high := g.surfaceBand()
	if origin.Y+ChunkSize-1 < low || origin.Y > high {
		return
	}

	for gz := 0; gz < treeGridCount; gz++ {
		for gx := 0; gx < treeGridCount; gx++ {
			lx := treeGridStart + gx*treeGridStep
			lz := treeGridStart + gz*treeGridStep
			wx, wz := int64(origin.X+lx), int64(origin.Z+lz)

			if hash01(g.sites, wx, wz) >= g.config.TreeFrequency {
				continue
			}

			base := g.Height(int(wx), int(wz))
			trunk := treeTrunkMin + int(hash2(g.trunks, wx, wz)%treeTrunkVariety)
			g.placeTree(chunk, lx, base-origin.Y, lz, trunk)
		}
	}
}

// placeTree ставит ствол снизу вверх и крону кольцами вокруг верхней части ствола.
// baseY: локальная высота первого блока ствола (может выходить за пределы чанка).
func (g *Generator) placeTree(chunk *Chunk, x, baseY, z, trunk int) {
	for i := 0; i < trunk; i++ {
		setIfInside(chunk, x, baseY+i, z, block.WoodBlockID)
	}

	top := baseY + trunk - 1
	for dy := -2; dy <= 1; dy++ {
		radius := treeCrownRadius
		if dy >= 0 {
			radius = 1
		}
		y := top + dy
		for dx := -radius; dx <= radius; dx++ {
			for dz := -radius; dz <= radius; dz++ {
				// Углы широких колец срезаны для округлой кроны
				if radius == treeCrownRadius && abs(dx) == radius && abs(dz) == radius {
					continue
				}
				// Листва никогда не заменяет существующие блоки (ствол в приоритете)
				lx, lz := x+dx, z+dz
				if InBounds(lx, y, lz) && chunk.Blocks[Index(lx, y, lz)] == block.AirBlockID {
					chunk.Blocks[Index(lx, y, lz)] = block.LeavesBlockID
				}
			}
		}
	}
}

func setIfInside(chunk *Chunk, x, y, z int, id block.BlockID) {
	if InBounds(x, y, z) {
		chunk.Blocks[Index(x, y, z)] = id
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
