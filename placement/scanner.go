package placement

import (
	"github.com/go-gl/mathgl/mgl64"

	"concretetool/replication"
	"concretetool/voxel"
)

// 射线步进参数
const (
	FarDistance  = 4.0
	StepDistance = 1.0
	MaxSteps     = 4 // 4, 3, 2, 1 米
	// SolidThreshold 填充度达到该值视为实心，低于则可放置
	SolidThreshold uint8 = 159
)

// targetBias 半格取整偏置
var targetBias = mgl64.Vec3{0.5, 0.5, 0.5}

// Viewpoint 观察者视点
type Viewpoint struct {
	Origin  mgl64.Vec3
	Forward mgl64.Vec3
}

// EditSink 接收成功放置产生的编辑
type EditSink interface {
	Enqueue(e replication.Edit)
}

// ObstructionChecker 候选单元占位检查
type ObstructionChecker interface {
	Check(center mgl64.Vec3, self string) Obstruction
}

// Scanner 沿视线从远到近寻找放置单元
type Scanner struct {
	accessor *voxel.Accessor
	checker  ObstructionChecker
	edits    EditSink
}

func NewScanner(accessor *voxel.Accessor, checker ObstructionChecker, edits EditSink) *Scanner {
	return &Scanner{accessor: accessor, checker: checker, edits: edits}
}

// Scan 在 vol 内执行一次扫描。最多读取 MaxSteps 次。
// trigger 为 true 且找到无阻挡的候选单元时写入实心并入队编辑。
// self 为观察者自身的物体 ID，仅影响阻挡提示。
func (s *Scanner) Scan(vol voxel.Volume, view Viewpoint, trigger bool, self string) Result {
	if vol == nil {
		return Result{Outcome: OutcomeNoTarget, Triggered: trigger}
	}
	res := Result{Volume: vol.Name(), Triggered: trigger}
	origin := vol.Origin()

	for i := 0; i < MaxSteps; i++ {
		d := FarDistance - float64(i)*StepDistance
		target := view.Origin.Add(view.Forward.Mul(d)).Add(targetBias)
		pos := voxel.Floor(target.Sub(origin))
		snapped := origin.Add(pos.Vec3())

		res.Pos = pos
		res.Distance = d
		res.Reads++
		content, _ := s.accessor.Read(vol, pos)

		if content < SolidThreshold {
			if i == 0 {
				res.Outcome = OutcomeAimCloser
				return res
			}
			res.Cursor = &snapped
			if !trigger {
				res.Outcome = OutcomeCursor
				return res
			}
			if s.checker != nil {
				res.Obstruction = s.checker.Check(snapped, self)
				if res.Obstruction.Blocked() {
					res.Outcome = OutcomeBlocked
					return res
				}
			}
			if vol.Kind() != voxel.KindAsteroid {
				res.Outcome = OutcomeIneligible
				return res
			}
			s.accessor.Fill(vol, pos)
			if s.edits != nil {
				s.edits.Enqueue(replication.Edit{Pos: pos, Volume: vol.Name()})
			}
			res.Outcome = OutcomePlaced
			return res
		}

		if d <= StepDistance {
			break
		}
	}
	// 最近一格仍为实心：已在实心内部
	res.Outcome = OutcomeTooClose
	return res
}
