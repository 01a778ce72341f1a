package server

import "time"

// StartTicker 启动房间的 Tick 循环（单线程推进世界），Close 后退出
func (r *Room) StartTicker() {
	if !r.tickerStarted.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(r.tickerDone)
		ticker := time.NewTicker(r.cfg.tickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case now := <-ticker.C:
				// 核心循环：处理输入 → 更新世界 → 发送编辑
				start := time.Now()
				r.Tick(now)
				r.metrics.AddTick(time.Since(start).Nanoseconds())
			}
		}
	}()
}
