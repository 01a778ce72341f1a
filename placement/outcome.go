package placement

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"concretetool/voxel"
)

// Outcome 一次扫描的结论
type Outcome int

const (
	OutcomeNone       Outcome = iota // 未持有工具，本 Tick 未扫描
	OutcomeNoTarget                  // 观察者不在任何体积包围盒内
	OutcomeCursor                    // 找到候选单元，未触发
	OutcomePlaced                    // 已写入并入队复制
	OutcomeAimCloser                 // 最远处即为空
	OutcomeTooClose                  // 最近处仍为实心
	OutcomeBlocked                   // 候选单元被动态物体占据
	OutcomeIneligible                // 候选体积不是小行星
)

var outcomeNames = map[Outcome]string{
	OutcomeNone:       "none",
	OutcomeNoTarget:   "no_target",
	OutcomeCursor:     "cursor",
	OutcomePlaced:     "placed",
	OutcomeAimCloser:  "aim_closer",
	OutcomeTooClose:   "too_close",
	OutcomeBlocked:    "blocked",
	OutcomeIneligible: "ineligible",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Failed 是否为需要提示玩家的失败
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeNoTarget, OutcomeAimCloser, OutcomeTooClose, OutcomeBlocked, OutcomeIneligible:
		return true
	}
	return false
}

const (
	msgAimCloser = "Aim closer to the surface."
	msgTooClose  = "You're too close."
	msgAsteroids = "Concrete can only be placed on asteroids!"
	msgYouBlock  = "You're in the way!"
	msgSomeBlock = "Something is in the way!"
)

// Result 扫描结果
type Result struct {
	Outcome     Outcome
	Triggered   bool
	Volume      string
	Pos         voxel.Vec3I
	Cursor      *mgl64.Vec3 // nil 表示隐藏光标
	Distance    float64     // 最后一次评估的距离
	Reads       int         // 体素读取次数（<= MaxSteps）
	Obstruction Obstruction
}

// Message 状态栏提示文本；成功或无需提示时为空
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeAimCloser:
		return msgAimCloser
	case OutcomeTooClose:
		return msgTooClose
	case OutcomeNoTarget, OutcomeIneligible:
		return msgAsteroids
	case OutcomeBlocked:
		return r.Obstruction.Message()
	}
	return ""
}

// Message 阻挡提示，区分是否包含玩家自己
func (o Obstruction) Message() string {
	if o.Count == 1 {
		if o.IncludesSelf {
			return msgYouBlock
		}
		return msgSomeBlock
	}
	if o.IncludesSelf {
		return fmt.Sprintf("You and %d things are in the way!", o.Count-1)
	}
	return fmt.Sprintf("%d things are in the way!", o.Count)
}
