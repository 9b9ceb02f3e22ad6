package mesh

import (
	"github.com/annel0/blockworld/internal/vec"
	"github.com/go-gl/mathgl/mgl32"
)

// Face направление грани куба
type Face int

const (
	FaceEast   Face = iota // +X
	FaceWest               // -X
	FaceTop                // +Y
	FaceBottom             // -Y
	FaceSouth              // +Z
	FaceNorth              // -Z
)

// faceDef описание грани: смещение к соседу, нормаль и углы квада.
// Углы перечислены против часовой стрелки при взгляде снаружи,
// так что треугольники (0,1,2) и (0,2,3) имеют внешнюю ориентацию.
type faceDef struct {
	dir     vec.Vec3
	normal  mgl32.Vec3
	corners [4]mgl32.Vec3
}

var faces = [6]faceDef{
	FaceEast: {
		dir:    vec.Vec3{X: 1},
		normal: mgl32.Vec3{1, 0, 0},
		corners: [4]mgl32.Vec3{
			{1, 0, 1}, {1, 0, 0}, {1, 1, 0}, {1, 1, 1},
		},
	},
	FaceWest: {
		dir:    vec.Vec3{X: -1},
		normal: mgl32.Vec3{-1, 0, 0},
		corners: [4]mgl32.Vec3{
			{0, 0, 0}, {0, 0, 1}, {0, 1, 1}, {0, 1, 0},
		},
	},
	FaceTop: {
		dir:    vec.Vec3{Y: 1},
		normal: mgl32.Vec3{0, 1, 0},
		corners: [4]mgl32.Vec3{
			{0, 1, 1}, {1, 1, 1}, {1, 1, 0}, {0, 1, 0},
		},
	},
	FaceBottom: {
		dir:    vec.Vec3{Y: -1},
		normal: mgl32.Vec3{0, -1, 0},
		corners: [4]mgl32.Vec3{
			{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1},
		},
	},
	FaceSouth: {
		dir:    vec.Vec3{Z: 1},
		normal: mgl32.Vec3{0, 0, 1},
		corners: [4]mgl32.Vec3{
			{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
		},
	},
	FaceNorth: {
		dir:    vec.Vec3{Z: -1},
		normal: mgl32.Vec3{0, 0, -1},
		corners: [4]mgl32.Vec3{
			{1, 0, 0}, {0, 0, 0}, {0, 1, 0}, {1, 1, 0},
		},
	},
}

// quadIndices порядок вершин двух треугольников квада
var quadIndices = [6]uint32{0, 1, 2, 0, 2, 3}

// Normal возвращает нормаль грани
func (f Face) Normal() mgl32.Vec3 {
	return faces[f].normal
}

// Corners возвращает углы квада грани в единичном кубе
func (f Face) Corners() [4]mgl32.Vec3 {
	return faces[f].corners
}
