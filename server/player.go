package server

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"concretetool/placement"
)

// 角色包围盒：宽 0.8m，高 1.8m；视点在锚点上方 1.6m
var (
	actorHalfExtent = mgl64.Vec3{0.4, 0.9, 0.4}
	actorEyeOffset  = mgl64.Vec3{0, 1.6, 0}
)

// ActorState 为管理接口输出的轻量状态
type ActorState struct {
	ID       string      `json:"id"`
	Position [3]float64  `json:"position"`
	Forward  [3]float64  `json:"forward"`
	Tool     string      `json:"tool"`
	Equipped bool        `json:"equipped"`
	Ammo     int         `json:"ammo"`
	Holding  bool        `json:"holding"`
	Status   string      `json:"status"`
	Cursor   *[3]float64 `json:"cursor,omitempty"`
	Outcome  string      `json:"outcome"`
}

// Actor 主机上的本地受控角色（由管理接口驱动）。
// 只在 Tick 协程中读写。
type Actor struct {
	id       string
	pos      mgl64.Vec3
	forward  mgl64.Vec3
	tool     string
	equipped bool
	lastFire time.Time
	ammo     int
}

func NewActor(id string, pos mgl64.Vec3, ammo int) *Actor {
	return &Actor{
		id:      id,
		pos:     pos,
		forward: mgl64.Vec3{0, 0, -1},
		ammo:    ammo,
	}
}

func (a *Actor) ID() string           { return a.id }
func (a *Actor) Position() mgl64.Vec3 { return a.pos }

func (a *Actor) View() placement.Viewpoint {
	return placement.Viewpoint{Origin: a.pos.Add(actorEyeOffset), Forward: a.forward}
}

func (a *Actor) Tool() (placement.Tool, bool) {
	if !a.equipped {
		return placement.Tool{}, false
	}
	return placement.Tool{Subtype: a.tool, LastFire: a.lastFire}, true
}

// Body 接口：角色是动态物体
func (a *Actor) Class() placement.BodyClass { return placement.ClassCharacter }
func (a *Actor) Dynamic() bool              { return true }

func (a *Actor) Bounds() placement.Box {
	c := a.pos.Add(mgl64.Vec3{0, actorHalfExtent[1], 0})
	return placement.Box{Min: c.Sub(actorHalfExtent), Max: c.Add(actorHalfExtent)}
}

// Inventory 接口：弹药不会减到负数
func (a *Actor) Add(n int) { a.ammo += n }

func (a *Actor) Remove(n int) {
	a.ammo -= n
	if a.ammo < 0 {
		a.ammo = 0
	}
}

// Fire 记录一次开火；非创造模式下工具本身的开火会消耗一发弹药，由会话返还
func (a *Actor) Fire(now time.Time, creative bool) {
	if !a.equipped {
		return
	}
	if !creative {
		if a.ammo <= 0 {
			return
		}
		a.ammo--
	}
	a.lastFire = now
}

func (a *Actor) state() ActorState {
	return ActorState{
		ID:       a.id,
		Position: [3]float64(a.pos),
		Forward:  [3]float64(a.forward),
		Tool:     a.tool,
		Equipped: a.equipped,
		Ammo:     a.ammo,
	}
}
