package server

import (
	"sync/atomic"

	"concretetool/placement"
	"concretetool/replication"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount        int64 // 统计的 Tick 次数
	TotalTickNs      int64 // Tick 累计耗时（纳秒）
	EditsPlaced      int64 // 本地成功放置
	PlaceFailed      int64 // 触发但失败（距离/阻挡/体积类型）
	BatchesSent      int64
	EditsSent        int64
	SendFailures     int64
	BatchesDropped   int64 // 超过重试上限
	EditsDropped     int64 // 含单条超长
	InboundBatches   int64
	InboundDropped   int64 // 入站缓冲满或限速
	RecordsApplied   int64
	RecordsMalformed int64
	RecordsUnknown   int64
	Relayed          int64 // 转发给其他对端的消息数
	RelayFailed      int64 // 对端发送队列满，转入积压
	RelayDropped     int64 // 积压超过重试上限或容量
	TickPanics       int64
}

func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

func (m *RoomMetrics) IncInbound()        { atomic.AddInt64(&m.InboundBatches, 1) }
func (m *RoomMetrics) IncInboundDropped() { atomic.AddInt64(&m.InboundDropped, 1) }
func (m *RoomMetrics) IncRelayed()        { atomic.AddInt64(&m.Relayed, 1) }
func (m *RoomMetrics) IncRelayFailed()    { atomic.AddInt64(&m.RelayFailed, 1) }
func (m *RoomMetrics) IncTickPanic()      { atomic.AddInt64(&m.TickPanics, 1) }

func (m *RoomMetrics) AddRelayed(n int)      { atomic.AddInt64(&m.Relayed, int64(n)) }
func (m *RoomMetrics) AddRelayDropped(n int) { atomic.AddInt64(&m.RelayDropped, int64(n)) }

// AddPlacement 记录一次触发的结果；未触发的帧不计
func (m *RoomMetrics) AddPlacement(res placement.Result) {
	if !res.Triggered {
		return
	}
	if res.Outcome == placement.OutcomePlaced {
		atomic.AddInt64(&m.EditsPlaced, 1)
		return
	}
	atomic.AddInt64(&m.PlaceFailed, 1)
}

// AddFlush 记录一次复制结果
func (m *RoomMetrics) AddFlush(res replication.FlushResult) {
	if res.Oversize > 0 {
		atomic.AddInt64(&m.EditsDropped, int64(res.Oversize))
	}
	if !res.Flushed {
		return
	}
	if res.Err == nil {
		atomic.AddInt64(&m.BatchesSent, 1)
		atomic.AddInt64(&m.EditsSent, int64(res.Edits))
		return
	}
	atomic.AddInt64(&m.SendFailures, 1)
	if res.Dropped {
		atomic.AddInt64(&m.BatchesDropped, 1)
		atomic.AddInt64(&m.EditsDropped, int64(res.Edits))
	}
}

// AddApply 记录一次远端批次应用
func (m *RoomMetrics) AddApply(rep replication.ApplyReport) {
	atomic.AddInt64(&m.RecordsApplied, int64(rep.Applied))
	atomic.AddInt64(&m.RecordsMalformed, int64(rep.Malformed))
	atomic.AddInt64(&m.RecordsUnknown, int64(rep.Unknown))
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":        tick,
		"avg_tick_ms":       avgMs,
		"edits_placed":      atomic.LoadInt64(&m.EditsPlaced),
		"place_failed":      atomic.LoadInt64(&m.PlaceFailed),
		"batches_sent":      atomic.LoadInt64(&m.BatchesSent),
		"edits_sent":        atomic.LoadInt64(&m.EditsSent),
		"send_failures":     atomic.LoadInt64(&m.SendFailures),
		"batches_dropped":   atomic.LoadInt64(&m.BatchesDropped),
		"edits_dropped":     atomic.LoadInt64(&m.EditsDropped),
		"inbound_batches":   atomic.LoadInt64(&m.InboundBatches),
		"inbound_dropped":   atomic.LoadInt64(&m.InboundDropped),
		"records_applied":   atomic.LoadInt64(&m.RecordsApplied),
		"records_malformed": atomic.LoadInt64(&m.RecordsMalformed),
		"records_unknown":   atomic.LoadInt64(&m.RecordsUnknown),
		"relayed":           atomic.LoadInt64(&m.Relayed),
		"relay_failed":      atomic.LoadInt64(&m.RelayFailed),
		"relay_dropped":     atomic.LoadInt64(&m.RelayDropped),
		"tick_panics":       atomic.LoadInt64(&m.TickPanics),
	}
}
