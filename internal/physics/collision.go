package physics

import (
	"math"

	"github.com/annel0/blockworld/internal/vec"
)

const (
	// MaxDisplacement предел смещения по одной оси за вызов Move, в блоках.
	// Move выполняется в цикле движка, число проверок коллизий ограничено.
	MaxDisplacement = 8.0
	// maxStep максимальный шаг интегрирования по оси, чтобы не проходить сквозь блоки
	maxStep = 0.25
)

// Collider проверяет, занята ли позиция (позиция ног игрока).
// World реализует этот интерфейс.
type Collider interface {
	CheckCollision(pos vec.Vec3Float) bool
}

// MoveResult итог перемещения
type MoveResult struct {
	Position vec.Vec3Float
	BlockedX bool
	BlockedY bool
	BlockedZ bool
}

// Move перемещает позицию на delta раздельно по осям X, Z, Y.
// Каждый шаг проверяется коллайдером до того, как позиция будет принята;
// заблокированная ось останавливается, остальные продолжают движение.
// Смещение по каждой оси обрезается до ±MaxDisplacement.
func Move(c Collider, pos, delta vec.Vec3Float) MoveResult {
	res := MoveResult{Position: pos}

	res.Position, res.BlockedX = moveAxis(c, res.Position, vec.Vec3Float{X: 1}, delta.X)
	res.Position, res.BlockedZ = moveAxis(c, res.Position, vec.Vec3Float{Z: 1}, delta.Z)
	res.Position, res.BlockedY = moveAxis(c, res.Position, vec.Vec3Float{Y: 1}, delta.Y)
	return res
}

func moveAxis(c Collider, pos, axis vec.Vec3Float, amount float64) (vec.Vec3Float, bool) {
	amount = ClampDisplacement(amount)
	if amount == 0 {
		return pos, false
	}

	steps := int(math.Ceil(math.Abs(amount) / maxStep))
	step := amount / float64(steps)
	for i := 0; i < steps; i++ {
		next := pos.Add(axis.Mul(step))
		if c.CheckCollision(next) {
			return pos, true
		}
		pos = next
	}
	return pos, false
}

// ClampDisplacement обрезает смещение до ±MaxDisplacement; NaN даёт 0
func ClampDisplacement(amount float64) float64 {
	switch {
	case math.IsNaN(amount):
		return 0
	case amount > MaxDisplacement:
		return MaxDisplacement
	case amount < -MaxDisplacement:
		return -MaxDisplacement
	}
	return amount
}
