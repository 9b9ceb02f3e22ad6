package vec

import "math"

// ChunkSize длина ребра чанка в блоках
const ChunkSize = 16

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется и для мировых координат блоков, и для координат чанков.
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// ToChunkCoords преобразует мировые координаты блока в координаты чанка.
// Деление с округлением вниз: x=-1 попадает в чанк -1.
func (v Vec3) ToChunkCoords() Vec3 {
	return Vec3{
		X: FloorDiv(v.X, ChunkSize),
		Y: FloorDiv(v.Y, ChunkSize),
		Z: FloorDiv(v.Z, ChunkSize),
	}
}

// LocalInChunk возвращает локальные координаты внутри чанка (0..15 по каждой оси)
func (v Vec3) LocalInChunk() Vec3 {
	return Vec3{
		X: Mod(v.X, ChunkSize),
		Y: Mod(v.Y, ChunkSize),
		Z: Mod(v.Z, ChunkSize),
	}
}

// ChunkOrigin возвращает мировые координаты угла чанка с координатами v
func (v Vec3) ChunkOrigin() Vec3 {
	return Vec3{X: v.X * ChunkSize, Y: v.Y * ChunkSize, Z: v.Z * ChunkSize}
}

// ChebyshevXZ возвращает горизонтальное расстояние Чебышёва
func (v Vec3) ChebyshevXZ(other Vec3) int {
	return max(abs(v.X-other.X), abs(v.Z-other.Z))
}

// DistanceSqTo возвращает квадрат евклидова расстояния
func (v Vec3) DistanceSqTo(other Vec3) int {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return dx*dx + dy*dy + dz*dz
}

// FloorDiv целочисленное деление с округлением к минус бесконечности
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Mod евклидов остаток, всегда в диапазоне [0, b)
func Mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Vec3Float представляет трехмерный вектор с плавающими координатами
type Vec3Float struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add складывает два вектора
func (v Vec3Float) Add(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Mul умножает вектор на скаляр
func (v Vec3Float) Mul(scalar float64) Vec3Float {
	return Vec3Float{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

// Floor возвращает координаты блока, в котором находится точка
func (v Vec3Float) Floor() Vec3 {
	return Vec3{
		X: int(math.Floor(v.X)),
		Y: int(math.Floor(v.Y)),
		Z: int(math.Floor(v.Z)),
	}
}

// ToFloat преобразует целочисленный вектор в вектор с плавающей точкой
func (v Vec3) ToFloat() Vec3Float {
	return Vec3Float{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}
