package voxel

import "github.com/go-gl/mathgl/mgl64"

// Grid 内存中的稠密体素体积。
// 非并发安全：只允许在模拟（Tick）协程中读写。
type Grid struct {
	name   string
	kind   Kind
	origin mgl64.Vec3
	size   Vec3I
	cells  []Cell
}

// NewGrid 创建全空体积
func NewGrid(name string, kind Kind, origin mgl64.Vec3, size Vec3I) *Grid {
	n := size.X * size.Y * size.Z
	if n < 0 {
		n = 0
	}
	return &Grid{
		name:   name,
		kind:   kind,
		origin: origin,
		size:   size,
		cells:  make([]Cell, n),
	}
}

func (g *Grid) Name() string       { return g.name }
func (g *Grid) Kind() Kind         { return g.kind }
func (g *Grid) Origin() mgl64.Vec3 { return g.origin }
func (g *Grid) Size() Vec3I        { return g.size }

func (g *Grid) index(p Vec3I) (int, bool) {
	if p.X < 0 || p.Y < 0 || p.Z < 0 || p.X >= g.size.X || p.Y >= g.size.Y || p.Z >= g.size.Z {
		return 0, false
	}
	return (p.Z*g.size.Y+p.Y)*g.size.X + p.X, true
}

// ReadCell 越界读取视为空单元
func (g *Grid) ReadCell(p Vec3I, dst *Cell) {
	i, ok := g.index(p)
	if !ok {
		*dst = Cell{}
		return
	}
	*dst = g.cells[i]
}

// WriteCell 越界写入直接忽略
func (g *Grid) WriteCell(p Vec3I, src *Cell) {
	i, ok := g.index(p)
	if !ok {
		return
	}
	g.cells[i] = *src
}
