package world

import (
	"math"

	"github.com/aquilax/go-perlin"
)

// Параметры шума Перлина (как в исходной настройке сервера)
const (
	perlinAlpha   = 2.0
	perlinBeta    = 2.0
	perlinOctaves = int32(3)
)

// noiseSource двумерный детерминированный шум в диапазоне [-1, 1]
type noiseSource interface {
	Noise2D(x, z float64) float64
}

func newNoiseSource(kind NoiseKind, seed int64) noiseSource {
	if kind == NoisePerlin {
		return perlinNoise{p: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, seed)}
	}
	return hashNoise{seed: foldSeed(seed)}
}

// hashNoise value-noise поверх целочисленного хеша решётки.
// Не настоящий шум Перлина, но побитово воспроизводим для (x, z, seed).
type hashNoise struct {
	seed uint32
}

// Noise2D возвращает сглаженное значение шума в точке
func (n hashNoise) Noise2D(x, z float64) float64 {
	x0 := math.Floor(x)
	z0 := math.Floor(z)
	ix, iz := int64(x0), int64(z0)

	// Явные преобразования float64 запрещают компилятору FMA-слияние,
	// иначе результат мог бы отличаться между архитектурами.
	u := smoothstep(float64(x - x0))
	v := smoothstep(float64(z - z0))

	a := latticeValue(n.seed, ix, iz)
	b := latticeValue(n.seed, ix+1, iz)
	c := latticeValue(n.seed, ix, iz+1)
	d := latticeValue(n.seed, ix+1, iz+1)

	top := lerp(a, b, u)
	bottom := lerp(c, d, u)
	return lerp(top, bottom, v)
}

// perlinNoise адаптер go-perlin с ограничением диапазона
type perlinNoise struct {
	p *perlin.Perlin
}

// Noise2D возвращает значение шума Перлина, обрезанное до [-1, 1]
func (n perlinNoise) Noise2D(x, z float64) float64 {
	v := n.p.Noise2D(x, z)
	return math.Max(-1, math.Min(1, v))
}

func smoothstep(t float64) float64 {
	return float64(float64(t*t) * float64(3-2*t))
}

func lerp(a, b, t float64) float64 {
	return float64(a + float64(float64(b-a)*t))
}

// latticeValue значение в узле решётки, [-1, 1]
func latticeValue(seed uint32, x, z int64) float64 {
	h := hash2(seed, x, z)
	return float64(h)/float64(math.MaxUint32)*2 - 1
}

// hash01 значение хеша в диапазоне [0, 1)
func hash01(seed uint32, x, z int64) float64 {
	return float64(hash2(seed, x, z)) / (float64(math.MaxUint32) + 1)
}

// hash2 стабильный хеш двумерных координат с сидом
func hash2(seed uint32, x, z int64) uint32 {
	h := seed
	h ^= uint32(x) * 0x9e3779b1
	h ^= uint32(z) * 0x85ebca6b
	h ^= uint32(x>>32) * 0xc2b2ae35
	h ^= uint32(z>>32) * 0x27d4eb2f
	return mix32(h)
}

// mix32 финализатор в стиле Murmur: хорошее лавинное перемешивание
func mix32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

func foldSeed(seed int64) uint32 {
	return mix32(uint32(seed) ^ uint32(uint64(seed)>>32))
}
