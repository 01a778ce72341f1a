package placement

import "github.com/go-gl/mathgl/mgl64"

// DefaultCleanTicks 轮廓在空闲多少 Tick 后清除
const DefaultCleanTicks = 30

// BodyClass 物体类别；只有结构、漂浮物、角色会阻挡放置
type BodyClass int

const (
	ClassOther BodyClass = iota
	ClassGrid
	ClassFloating
	ClassCharacter
)

// Box 轴对齐包围盒
type Box struct {
	Min, Max mgl64.Vec3
}

// BoxAround 以 center 为中心、半边长 half 的盒子
func BoxAround(center mgl64.Vec3, half float64) Box {
	h := mgl64.Vec3{half, half, half}
	return Box{Min: center.Sub(h), Max: center.Add(h)}
}

// Intersects 相交测试，贴边也算相交
func (b Box) Intersects(o Box) bool {
	for i := 0; i < 3; i++ {
		if b.Max[i] < o.Min[i] || o.Max[i] < b.Min[i] {
			return false
		}
	}
	return true
}

// Body 世界中带物理的实体
type Body interface {
	ID() string
	Class() BodyClass
	Dynamic() bool
	Bounds() Box
}

// BodySource 枚举当前所有物体
type BodySource interface {
	Bodies() []Body
}

// Outliner 调试用的包围盒描边
type Outliner interface {
	Outline(id string, on bool)
}

// Obstruction 阻挡结果
type Obstruction struct {
	Count        int
	IncludesSelf bool
}

func (o Obstruction) Blocked() bool { return o.Count > 0 }

// Checker 放置前的占位检查，并管理被描边的实体集合
type Checker struct {
	bodies     BodySource
	outliner   Outliner
	cleanTicks int

	outlined map[string]struct{}
	idle     int
}

func NewChecker(bodies BodySource, outliner Outliner, cleanTicks int) *Checker {
	if cleanTicks <= 0 {
		cleanTicks = DefaultCleanTicks
	}
	return &Checker{
		bodies:     bodies,
		outliner:   outliner,
		cleanTicks: cleanTicks,
		outlined:   make(map[string]struct{}),
	}
}

// Check 查询与以 center 为中心的 1m 立方体相交的动态物体
func (c *Checker) Check(center mgl64.Vec3, self string) Obstruction {
	c.Clean(true)
	var res Obstruction
	if c.bodies == nil {
		return res
	}
	box := BoxAround(center, 0.5)
	for _, b := range c.bodies.Bodies() {
		if !b.Dynamic() || b.Class() == ClassOther {
			continue
		}
		if !b.Bounds().Intersects(box) {
			continue
		}
		res.Count++
		if b.ID() == self {
			res.IncludesSelf = true
		}
		c.outlined[b.ID()] = struct{}{}
		if c.outliner != nil {
			c.outliner.Outline(b.ID(), true)
		}
	}
	return res
}

// Clean 每 Tick 调用；force 时立即清除
func (c *Checker) Clean(force bool) {
	if len(c.outlined) == 0 {
		return
	}
	c.idle++
	if !force && c.idle < c.cleanTicks {
		return
	}
	for id := range c.outlined {
		if c.outliner != nil {
			c.outliner.Outline(id, false)
		}
		delete(c.outlined, id)
	}
	c.idle = 0
}

// Outlined 当前描边数量
func (c *Checker) Outlined() int { return len(c.outlined) }
