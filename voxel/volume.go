package voxel

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// ContentEmpty 空单元
	ContentEmpty uint8 = 0
	// ContentFull 完全实心
	ContentFull uint8 = 255
)

// Vec3I 体素网格内的整数坐标（相对体积原点）
type Vec3I struct {
	X, Y, Z int
}

// Floor 对世界向量逐分量向下取整
func Floor(v mgl64.Vec3) Vec3I {
	return Vec3I{
		X: int(math.Floor(v[0])),
		Y: int(math.Floor(v[1])),
		Z: int(math.Floor(v[2])),
	}
}

// Vec3 转为浮点向量
func (p Vec3I) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{float64(p.X), float64(p.Y), float64(p.Z)}
}

// Kind 体积类型；只有小行星允许放置
type Kind int

const (
	KindAsteroid Kind = iota // 离散、自由漂浮
	KindPlanet
)

func (k Kind) String() string {
	switch k {
	case KindAsteroid:
		return "asteroid"
	case KindPlanet:
		return "planet"
	default:
		return "unknown"
	}
}

// Cell 单个体素样本：填充度 + 材质索引
type Cell struct {
	Content  uint8
	Material uint8
}

// Volume 可按整数坐标寻址的体素体积。体积由世界持有，本模块只读写单元。
type Volume interface {
	Name() string
	Kind() Kind
	Origin() mgl64.Vec3 // 左下角世界坐标
	Size() Vec3I
	ReadCell(pos Vec3I, dst *Cell)
	WriteCell(pos Vec3I, src *Cell)
}

// Contains 判断世界坐标点是否落在体积包围盒内（闭区间）
func Contains(v Volume, p mgl64.Vec3) bool {
	min := v.Origin()
	size := v.Size().Vec3()
	for i := 0; i < 3; i++ {
		if p[i] < min[i] || p[i] > min[i]+size[i] {
			return false
		}
	}
	return true
}
