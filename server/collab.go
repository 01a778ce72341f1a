package server

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
)

// 主机无界面：状态提示、光标、描边都只记录在内存并写日志，
// 供管理接口查看。均只在 Tick 协程中使用。

// hudStatus 状态提示
type hudStatus struct {
	log     *zap.SugaredLogger
	text    string
	expires time.Time
	now     func() time.Time
}

func (h *hudStatus) Show(text string, alive time.Duration) {
	h.text = text
	h.expires = h.now().Add(alive)
	h.log.Infof("status: %s", text)
}

func (h *hudStatus) Hide() {
	h.text = ""
	h.expires = time.Time{}
}

// Current 当前仍在显示的提示
func (h *hudStatus) Current() string {
	if h.text == "" || h.now().After(h.expires) {
		return ""
	}
	return h.text
}

// ghostCursor 放置预览
type ghostCursor struct {
	log *zap.SugaredLogger
	at  *mgl64.Vec3
}

func (c *ghostCursor) MoveTo(p mgl64.Vec3) error {
	if c.at == nil {
		c.log.Debugf("cursor spawned at %.1f,%.1f,%.1f", p[0], p[1], p[2])
	}
	c.at = &p
	return nil
}

func (c *ghostCursor) Remove() {
	if c.at != nil {
		c.log.Debug("cursor removed")
	}
	c.at = nil
}

func (c *ghostCursor) position() *[3]float64 {
	if c.at == nil {
		return nil
	}
	p := [3]float64(*c.at)
	return &p
}

// boxOutliner 阻挡物描边
type boxOutliner struct {
	log *zap.SugaredLogger
	on  map[string]bool
}

func (o *boxOutliner) Outline(id string, on bool) {
	if on {
		o.on[id] = true
		o.log.Debugf("outline %s", id)
		return
	}
	delete(o.on, id)
}
