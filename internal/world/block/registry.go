package block

import "fmt"

// BlockID представляет идентификатор блока.
// Хранится одним байтом: именно в таком виде блоки уходят воркерам.
type BlockID uint8

// Константы ID блоков
const (
	AirBlockID         BlockID = iota // 0, пустота
	StoneBlockID                      // 1
	DirtBlockID                       // 2
	GrassBlockID                      // 3
	WoodBlockID                       // 4, ствол дерева
	LeavesBlockID                     // 5
	WaterBlockID                      // 6
	SandBlockID                       // 7
	CobblestoneBlockID                // 8
	PlanksBlockID                     // 9
)

var registry = make(map[BlockID]Properties)

// Register добавляет свойства блока в регистр
func Register(props Properties) {
	registry[props.ID] = props
}

// Get возвращает свойства для указанного ID
func Get(id BlockID) (Properties, bool) {
	props, exists := registry[id]
	return props, exists
}

// IsValidBlockID проверяет, является ли ID допустимым идентификатором блока
func IsValidBlockID(id BlockID) bool {
	_, exists := registry[id]
	return exists
}

// All возвращает свойства всех зарегистрированных блоков, упорядоченные по ID
func All() []Properties {
	result := make([]Properties, 0, len(registry))
	for id := 0; id < 256; id++ {
		if props, ok := registry[BlockID(id)]; ok {
			result = append(result, props)
		}
	}
	return result
}

// ParseName находит блок по имени (как в конфиге или REST запросе)
func ParseName(name string) (BlockID, error) {
	for _, props := range registry {
		if props.Name == name {
			return props.ID, nil
		}
	}
	return AirBlockID, fmt.Errorf("неизвестный тип блока: %q", name)
}

// String возвращает имя блока
func (id BlockID) String() string {
	if props, ok := registry[id]; ok {
		return props.Name
	}
	return fmt.Sprintf("unknown(%d)", uint8(id))
}
