package block

// FaceTiles номера плиток атласа текстур для граней блока
type FaceTiles struct {
	Top    int
	Side   int
	Bottom int
}

// Properties описывает статические свойства типа блока
type Properties struct {
	ID          BlockID
	Name        string
	Transparent bool // соседние грани не отсекаются
	Passable    bool // не участвует в коллизиях
	Tiles       FaceTiles
}

func init() {
	Register(Properties{ID: AirBlockID, Name: "air", Transparent: true, Passable: true})
	Register(Properties{ID: StoneBlockID, Name: "stone", Tiles: uniform(1)})
	Register(Properties{ID: DirtBlockID, Name: "dirt", Tiles: uniform(2)})
	Register(Properties{ID: GrassBlockID, Name: "grass", Tiles: FaceTiles{Top: 0, Side: 3, Bottom: 2}})
	Register(Properties{ID: WoodBlockID, Name: "wood", Tiles: FaceTiles{Top: 5, Side: 4, Bottom: 5}})
	Register(Properties{ID: LeavesBlockID, Name: "leaves", Transparent: true, Tiles: uniform(6)})
	Register(Properties{ID: WaterBlockID, Name: "water", Transparent: true, Passable: true, Tiles: uniform(7)})
	Register(Properties{ID: SandBlockID, Name: "sand", Tiles: uniform(8)})
	Register(Properties{ID: CobblestoneBlockID, Name: "cobblestone", Tiles: uniform(9)})
	Register(Properties{ID: PlanksBlockID, Name: "planks", Tiles: uniform(10)})
}

func uniform(tile int) FaceTiles {
	return FaceTiles{Top: tile, Side: tile, Bottom: tile}
}

// IsTransparent возвращает true для блоков, сквозь которые видны соседние грани
// (воздух, вода, листва). Неизвестные блоки считаются непрозрачными.
func IsTransparent(id BlockID) bool {
	props, ok := registry[id]
	return ok && props.Transparent
}

// IsSolid возвращает true, если блок препятствует движению.
// Проходимы только воздух и вода.
func IsSolid(id BlockID) bool {
	props, ok := registry[id]
	if !ok {
		return true
	}
	return !props.Passable
}

// TilesFor возвращает плитки атласа для блока
func TilesFor(id BlockID) FaceTiles {
	return registry[id].Tiles
}
