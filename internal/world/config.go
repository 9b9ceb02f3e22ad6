package world

import "fmt"

// Параметры рельефа
const (
	BaseHeight   = 32   // Базовая высота поверхности
	MaxAmplitude = 24.0 // Амплитуда при flatness = 0
	NoiseScale   = 0.02 // Масштаб шума высот

	// Границы мира по вертикали в координатах чанков (y = 0..127)
	MinChunkY = 0
	MaxChunkY = 7

	// VerticalRadius вертикальная полоса чанков вокруг игрока
	VerticalRadius = 2
)

// NoiseKind выбирает источник шума для рельефа
type NoiseKind uint8

const (
	NoiseHash   NoiseKind = iota // детерминированный хеш-шум (по умолчанию)
	NoisePerlin                  // шум Перлина из go-perlin
)

// String возвращает имя источника шума
func (k NoiseKind) String() string {
	switch k {
	case NoiseHash:
		return "hash"
	case NoisePerlin:
		return "perlin"
	default:
		return fmt.Sprintf("noise(%d)", uint8(k))
	}
}

// ParseNoiseKind разбирает имя источника шума из конфигурации
func ParseNoiseKind(s string) (NoiseKind, error) {
	switch s {
	case "", "hash":
		return NoiseHash, nil
	case "perlin":
		return NoisePerlin, nil
	default:
		return NoiseHash, fmt.Errorf("неизвестный тип шума: %q", s)
	}
}

// GenConfig параметры генерации мира.
// Значения не проверяются: вызывающий гарантирует
// Flatness ∈ [0,1] и TreeFrequency ∈ [0,0.2].
type GenConfig struct {
	Flatness      float64
	TreeFrequency float64
	Noise         NoiseKind
}

// DefaultGenConfig возвращает параметры генерации по умолчанию
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Flatness:      0.5,
		TreeFrequency: 0.05,
		Noise:         NoiseHash,
	}
}
