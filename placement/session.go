package placement

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"concretetool/voxel"
)

const (
	// DefaultToolSubtype 混凝土工具的子类型
	DefaultToolSubtype = "ConcreteTool"
	// DefaultFireDelay 开火时间戳后多长时间内视为扳机按下
	DefaultFireDelay = 100 * time.Millisecond
	// DefaultStatusTime 失败提示显示时长
	DefaultStatusTime = 1500 * time.Millisecond
)

// Tool 角色手持的工具
type Tool struct {
	Subtype  string
	LastFire time.Time
}

// Actor 本地受控角色
type Actor interface {
	ID() string
	Position() mgl64.Vec3 // 锚点，用于定位所在体积
	View() Viewpoint      // 头部视点
	Tool() (Tool, bool)
}

// Inventory 弹药（混凝土）存取
type Inventory interface {
	Add(n int)
	Remove(n int)
}

// StatusDisplay HUD 状态提示
type StatusDisplay interface {
	Show(text string, alive time.Duration)
	Hide()
}

// Cursor 放置位置的可视光标
type Cursor interface {
	MoveTo(p mgl64.Vec3) error
	Remove()
}

// VolumeLocator 按点查找体积
type VolumeLocator interface {
	At(p mgl64.Vec3) voxel.Volume
}

// SessionConfig 工具会话参数
type SessionConfig struct {
	ToolSubtype string
	FireDelay   time.Duration
	StatusTime  time.Duration
	Creative    bool // 创造模式不消耗也不返还弹药
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ToolSubtype: DefaultToolSubtype,
		FireDelay:   DefaultFireDelay,
		StatusTime:  DefaultStatusTime,
	}
}

// Session 本地玩家的工具状态机：收起 ↔ 持有。
// 每个模拟 Tick 调用一次 Tick，非并发安全。
type Session struct {
	cfg     SessionConfig
	actor   Actor
	volumes VolumeLocator
	scanner *Scanner
	checker *Checker
	inv     Inventory
	status  StatusDisplay
	cursor  Cursor
	log     *zap.SugaredLogger

	holding     bool
	lastTrigger bool
	lastShot    time.Time
	cursorShown bool
}

// SessionDeps 会话依赖；Inventory/Status/Cursor 可为 nil
type SessionDeps struct {
	Actor   Actor
	Volumes VolumeLocator
	Scanner *Scanner
	Checker *Checker
	Inv     Inventory
	Status  StatusDisplay
	Cursor  Cursor
	Log     *zap.SugaredLogger
}

func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	if cfg.ToolSubtype == "" {
		cfg.ToolSubtype = DefaultToolSubtype
	}
	if cfg.FireDelay <= 0 {
		cfg.FireDelay = DefaultFireDelay
	}
	if cfg.StatusTime <= 0 {
		cfg.StatusTime = DefaultStatusTime
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		cfg:     cfg,
		actor:   deps.Actor,
		volumes: deps.Volumes,
		scanner: deps.Scanner,
		checker: deps.Checker,
		inv:     deps.Inv,
		status:  deps.Status,
		cursor:  deps.Cursor,
		log:     log,
	}
}

// Holding 是否处于持有状态
func (s *Session) Holding() bool { return s.holding }

// SetCreative 运行期切换创造模式
func (s *Session) SetCreative(on bool) { s.cfg.Creative = on }

// Tick 推进一帧
func (s *Session) Tick(now time.Time) Result {
	if s.checker != nil {
		s.checker.Clean(false)
	}
	if s.actor != nil {
		if tool, ok := s.actor.Tool(); ok && tool.Subtype == s.cfg.ToolSubtype {
			if !s.holding {
				s.draw(tool)
			}
			trigger := tool.LastFire.Add(s.cfg.FireDelay).After(now)
			// 同一次开火可能跨两帧：上一帧已触发则本帧忽略
			res := s.hold(trigger && !s.lastTrigger)
			s.lastTrigger = trigger

			// 工具自身开火会消耗弹药，总是还回去
			if tool.LastFire.After(s.lastShot) {
				s.lastShot = tool.LastFire
				if !s.cfg.Creative && s.inv != nil {
					s.inv.Add(1)
				}
			}
			return res
		}
	}
	if s.holding {
		s.holster()
	}
	return Result{}
}

func (s *Session) draw(tool Tool) {
	s.holding = true
	s.lastShot = tool.LastFire
	s.lastTrigger = false
}

func (s *Session) holster() {
	s.holding = false
	s.lastTrigger = false
	s.lastShot = time.Time{}
	if s.status != nil {
		s.status.Hide()
	}
	s.removeCursor()
}

func (s *Session) hold(trigger bool) Result {
	var vol voxel.Volume
	if s.volumes != nil {
		vol = s.volumes.At(s.actor.Position())
	}
	res := s.scanner.Scan(vol, s.actor.View(), trigger, s.actor.ID())
	s.updateCursor(res.Cursor)

	if !trigger {
		return res
	}
	if res.Outcome == OutcomePlaced {
		// 弹药只在成功放置时扣除
		if !s.cfg.Creative && s.inv != nil {
			s.inv.Remove(1)
		}
		s.log.Debugf("placed at %s %d,%d,%d", res.Volume, res.Pos.X, res.Pos.Y, res.Pos.Z)
		return res
	}
	if msg := res.Message(); msg != "" && s.status != nil {
		s.status.Show(msg, s.cfg.StatusTime)
	}
	return res
}

// updateCursor 光标异常只记录日志，不影响玩法状态
func (s *Session) updateCursor(at *mgl64.Vec3) {
	if s.cursor == nil {
		return
	}
	if at == nil {
		s.removeCursor()
		return
	}
	if err := s.cursor.MoveTo(*at); err != nil {
		s.log.Errorf("cursor: %v", err)
		return
	}
	s.cursorShown = true
}

func (s *Session) removeCursor() {
	if s.cursor == nil || !s.cursorShown {
		return
	}
	s.cursor.Remove()
	s.cursorShown = false
}
