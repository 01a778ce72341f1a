package placement

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concretetool/replication"
	"concretetool/voxel"
)

// 观察者位于 (10,10,10) 朝 +X；距离 d 处的目标单元为 (10+d, 10, 10)
var (
	eye     = mgl64.Vec3{10, 10, 10}
	forward = mgl64.Vec3{1, 0, 0}
	view    = Viewpoint{Origin: eye, Forward: forward}
)

func cellAt(d int) voxel.Vec3I { return voxel.Vec3I{X: 10 + d, Y: 10, Z: 10} }

type editLog struct{ edits []replication.Edit }

func (l *editLog) Enqueue(e replication.Edit) { l.edits = append(l.edits, e) }

// countingVolume 统计读取次数
type countingVolume struct {
	voxel.Volume
	reads int
}

func (c *countingVolume) ReadCell(p voxel.Vec3I, dst *voxel.Cell) {
	c.reads++
	c.Volume.ReadCell(p, dst)
}

type bodySet []Body

func (b bodySet) Bodies() []Body { return b }

type testBody struct {
	id      string
	class   BodyClass
	dynamic bool
	box     Box
}

func (b testBody) ID() string       { return b.id }
func (b testBody) Class() BodyClass { return b.class }
func (b testBody) Dynamic() bool    { return b.dynamic }
func (b testBody) Bounds() Box      { return b.box }

type scanFixture struct {
	grid    *voxel.Grid
	acc     *voxel.Accessor
	edits   *editLog
	scanner *Scanner
}

// newScanFixture 按距离写入给定填充度
func newScanFixture(kind voxel.Kind, bodies BodySource, solid map[int]uint8) *scanFixture {
	g := voxel.NewGrid("roid", kind, mgl64.Vec3{}, voxel.Vec3I{X: 32, Y: 32, Z: 32})
	acc := voxel.NewAccessor(voxel.Material{Name: "Concrete", Index: 5})
	for d, c := range solid {
		acc.Write(g, cellAt(d), c, 1)
	}
	edits := &editLog{}
	return &scanFixture{
		grid:    g,
		acc:     acc,
		edits:   edits,
		scanner: NewScanner(acc, NewChecker(bodies, nil, 0), edits),
	}
}

func TestScanPlacesAtFirstEmptyCell(t *testing.T) {
	f := newScanFixture(voxel.KindAsteroid, nil, map[int]uint8{4: 255, 3: 255, 2: 255})

	res := f.scanner.Scan(f.grid, view, true, "me")
	assert.Equal(t, OutcomePlaced, res.Outcome)
	assert.Equal(t, cellAt(1), res.Pos)
	assert.Equal(t, 1.0, res.Distance)
	assert.Equal(t, 4, res.Reads)
	require.Len(t, f.edits.edits, 1)
	assert.Equal(t, replication.Edit{Pos: cellAt(1), Volume: "roid"}, f.edits.edits[0])

	c, m := f.acc.Read(f.grid, cellAt(1))
	assert.Equal(t, voxel.ContentFull, c)
	assert.Equal(t, uint8(5), m)
}

func TestScanEndToEndTwoMeters(t *testing.T) {
	f := newScanFixture(voxel.KindAsteroid, nil, map[int]uint8{4: 255, 3: 255, 2: 0})

	res := f.scanner.Scan(f.grid, view, true, "me")
	assert.Equal(t, OutcomePlaced, res.Outcome)
	assert.Equal(t, cellAt(2), res.Pos)
	assert.Equal(t, 3, res.Reads)
	assert.Equal(t, []replication.Edit{{Pos: cellAt(2), Volume: "roid"}}, f.edits.edits)
	require.NotNil(t, res.Cursor)
	assert.Equal(t, cellAt(2).Vec3(), *res.Cursor)
}

func TestScanAimCloser(t *testing.T) {
	// 近处是否实心都不影响结论
	for _, near := range []uint8{0, 255} {
		f := newScanFixture(voxel.KindAsteroid, nil, map[int]uint8{4: 158, 3: near, 2: near, 1: near})
		res := f.scanner.Scan(f.grid, view, true, "me")
		assert.Equal(t, OutcomeAimCloser, res.Outcome)
		assert.Equal(t, 1, res.Reads)
		assert.Nil(t, res.Cursor)
		assert.Equal(t, msgAimCloser, res.Message())
		assert.Empty(t, f.edits.edits)
	}
}

func TestScanTooClose(t *testing.T) {
	f := newScanFixture(voxel.KindAsteroid, nil, map[int]uint8{4: 255, 3: 255, 2: 200, 1: 159})
	res := f.scanner.Scan(f.grid, view, true, "me")
	assert.Equal(t, OutcomeTooClose, res.Outcome)
	assert.Equal(t, 4, res.Reads)
	assert.Nil(t, res.Cursor)
	assert.Equal(t, msgTooClose, res.Message())
	assert.Empty(t, f.edits.edits)
}

func TestScanWithoutTriggerOnlyMovesCursor(t *testing.T) {
	f := newScanFixture(voxel.KindAsteroid, nil, map[int]uint8{4: 255, 3: 0})
	res := f.scanner.Scan(f.grid, view, false, "me")
	assert.Equal(t, OutcomeCursor, res.Outcome)
	require.NotNil(t, res.Cursor)
	assert.Equal(t, cellAt(3).Vec3(), *res.Cursor)
	assert.Empty(t, f.edits.edits)
	c, _ := f.acc.Read(f.grid, cellAt(3))
	assert.Equal(t, voxel.ContentEmpty, c)
}

func TestScanBlocked(t *testing.T) {
	center := cellAt(3).Vec3()
	near := BoxAround(center.Add(mgl64.Vec3{0.4, 0, 0}), 0.5)
	far := BoxAround(center.Add(mgl64.Vec3{5, 0, 0}), 0.5)

	tests := []struct {
		name   string
		bodies bodySet
		want   string
	}{
		{"self", bodySet{testBody{"me", ClassCharacter, true, near}}, "You're in the way!"},
		{"other", bodySet{testBody{"crate", ClassFloating, true, near}}, "Something is in the way!"},
		{"self and others", bodySet{
			testBody{"me", ClassCharacter, true, near},
			testBody{"ship", ClassGrid, true, near},
			testBody{"crate", ClassFloating, true, near},
		}, "You and 2 things are in the way!"},
		{"others", bodySet{
			testBody{"ship", ClassGrid, true, near},
			testBody{"crate", ClassFloating, true, near},
		}, "2 things are in the way!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScanFixture(voxel.KindAsteroid, tt.bodies, map[int]uint8{4: 255, 3: 0})
			res := f.scanner.Scan(f.grid, view, true, "me")
			assert.Equal(t, OutcomeBlocked, res.Outcome)
			assert.Equal(t, tt.want, res.Message())
			assert.NotNil(t, res.Cursor)
			assert.Empty(t, f.edits.edits)
		})
	}

	t.Run("static and distant bodies ignored", func(t *testing.T) {
		bodies := bodySet{
			testBody{"station", ClassGrid, false, near},
			testBody{"debris", ClassOther, true, near},
			testBody{"crate", ClassFloating, true, far},
		}
		f := newScanFixture(voxel.KindAsteroid, bodies, map[int]uint8{4: 255, 3: 0})
		res := f.scanner.Scan(f.grid, view, true, "me")
		assert.Equal(t, OutcomePlaced, res.Outcome)
	})
}

func TestScanIneligibleVolume(t *testing.T) {
	f := newScanFixture(voxel.KindPlanet, nil, map[int]uint8{4: 255, 3: 0})
	res := f.scanner.Scan(f.grid, view, true, "me")
	assert.Equal(t, OutcomeIneligible, res.Outcome)
	assert.Equal(t, msgAsteroids, res.Message())
	assert.Empty(t, f.edits.edits)
	c, _ := f.acc.Read(f.grid, cellAt(3))
	assert.Equal(t, voxel.ContentEmpty, c)
}

func TestScanNoVolume(t *testing.T) {
	s := NewScanner(voxel.NewAccessor(voxel.Material{}), nil, nil)
	res := s.Scan(nil, view, true, "me")
	assert.Equal(t, OutcomeNoTarget, res.Outcome)
	assert.Nil(t, res.Cursor)
	assert.Zero(t, res.Reads)
}

func TestScanTerminatesWithinFourReads(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		g := voxel.NewGrid("roid", voxel.KindAsteroid, mgl64.Vec3{-8, -8, -8}, voxel.Vec3I{X: 16, Y: 16, Z: 16})
		var c voxel.Cell
		for n := 0; n < 800; n++ {
			c.Content = uint8(rnd.Intn(256))
			g.WriteCell(voxel.Vec3I{X: rnd.Intn(16), Y: rnd.Intn(16), Z: rnd.Intn(16)}, &c)
		}
		vol := &countingVolume{Volume: g}
		dir := mgl64.Vec3{rnd.Float64()*2 - 1, rnd.Float64()*2 - 1, rnd.Float64()*2 - 1}
		if dir.Len() < 1e-6 {
			continue
		}
		v := Viewpoint{Origin: mgl64.Vec3{rnd.Float64()*4 - 2, rnd.Float64()*4 - 2, rnd.Float64()*4 - 2}, Forward: dir.Normalize()}

		s := NewScanner(voxel.NewAccessor(voxel.Material{}), NewChecker(nil, nil, 0), &editLog{})
		res := s.Scan(vol, v, rnd.Intn(2) == 0, "me")

		assert.LessOrEqual(t, vol.reads, MaxSteps)
		assert.Equal(t, vol.reads, res.Reads)
		assert.Contains(t, []Outcome{OutcomeCursor, OutcomePlaced, OutcomeAimCloser, OutcomeTooClose}, res.Outcome)
	}
}

func TestCheckerOutlineCleanup(t *testing.T) {
	outlines := map[string]bool{}
	o := outlinerFunc(func(id string, on bool) { outlines[id] = on })
	center := mgl64.Vec3{1, 1, 1}
	c := NewChecker(bodySet{testBody{"crate", ClassFloating, true, BoxAround(center, 0.5)}}, o, 30)

	res := c.Check(center, "me")
	assert.Equal(t, Obstruction{Count: 1}, res)
	assert.True(t, outlines["crate"])

	for i := 0; i < 29; i++ {
		c.Clean(false)
	}
	assert.Equal(t, 1, c.Outlined())
	c.Clean(false)
	assert.Equal(t, 0, c.Outlined())
	assert.False(t, outlines["crate"])
}

func TestCheckerNewCheckClearsPreviousOutlines(t *testing.T) {
	outlines := map[string]bool{}
	o := outlinerFunc(func(id string, on bool) { outlines[id] = on })
	here, there := mgl64.Vec3{1, 1, 1}, mgl64.Vec3{10, 1, 1}
	c := NewChecker(bodySet{
		testBody{"crate", ClassFloating, true, BoxAround(here, 0.5)},
		testBody{"drone", ClassGrid, true, BoxAround(there, 0.5)},
	}, o, 30)

	c.Check(here, "me")
	assert.True(t, outlines["crate"])

	// 下一次检查立即清除上一次的描边，不等空闲计时
	res := c.Check(there, "me")
	assert.Equal(t, Obstruction{Count: 1}, res)
	assert.False(t, outlines["crate"])
	assert.True(t, outlines["drone"])
	assert.Equal(t, 1, c.Outlined())

	// 没有命中的检查同样清空
	res = c.Check(mgl64.Vec3{20, 20, 20}, "me")
	assert.False(t, res.Blocked())
	assert.False(t, outlines["drone"])
	assert.Equal(t, 0, c.Outlined())
}

type outlinerFunc func(id string, on bool)

func (f outlinerFunc) Outline(id string, on bool) { f(id, on) }
