package server

// Input 管理接口发来的指令（意图），由 Tick 协程统一执行，避免并发改动房间状态
type Input struct {
	Actor        *ActorCommand
	Config       *ConfigPatch
	RemoveVolume string // 按名称移除体积
}

// ActorCommand 驱动本地角色；示例：
// {"position":[10,20,10],"forward":[0,0,-1],"equip":true,"fire":true}
type ActorCommand struct {
	Position *[3]float64 `json:"position,omitempty"`
	Forward  *[3]float64 `json:"forward,omitempty"`
	Equip    *bool       `json:"equip,omitempty"`
	Tool     string      `json:"tool,omitempty"` // 为空时使用配置的工具
	Fire     bool        `json:"fire,omitempty"`
	Ammo     *int        `json:"ammo,omitempty"`
}

// ConfigPatch 运行期可调参数
type ConfigPatch struct {
	FlushTicks *int  `json:"flushTicks,omitempty"`
	Creative   *bool `json:"creative,omitempty"`
}
