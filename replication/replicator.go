package replication

import (
	"context"

	"go.uber.org/zap"
)

// 默认参数：每 60 Tick 最多发送一批，单批 < 4096 字节，失败最多重试 3 次
const (
	DefaultFlushTicks    = 60
	DefaultMaxBatchBytes = 4096
	DefaultMaxRetries    = 3
)

// Channel 出站通道。请求可靠传输，但仍可能同步失败。
type Channel interface {
	Send(ctx context.Context, payload []byte) error
}

// DropSink 接收被永久丢弃的编辑（超过重试上限或单条超长）
type DropSink interface {
	Dropped(edits []Edit, reason error)
}

// Config 复制器参数
type Config struct {
	FlushTicks    int
	MaxBatchBytes int
	MaxRetries    int
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		FlushTicks:    DefaultFlushTicks,
		MaxBatchBytes: DefaultMaxBatchBytes,
		MaxRetries:    DefaultMaxRetries,
	}
}

// FlushResult 一次 Tick 的结果，供调用方记录指标
type FlushResult struct {
	Flushed   bool  // 本 Tick 尝试过发送
	Edits     int   // 批次内编辑数
	Bytes     int   // 批次编码长度
	Err       error // 发送错误
	Requeued  bool  // 失败后已放回队首
	Dropped   bool  // 超过重试上限被丢弃
	Oversize  int   // 因单条超长被丢弃的编辑数
	Remaining int   // 发送后队列剩余
}

// Replicator 编辑队列与复制器。
// 只在模拟协程中调用（Enqueue/Tick 非并发安全）。
type Replicator struct {
	cfg  Config
	ch   Channel
	sink DropSink
	log  *zap.SugaredLogger

	queue   []Edit
	timer   int
	retries int
}

// Option 可选项
type Option func(*Replicator)

// WithLogger 设置日志
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Replicator) { r.log = l }
}

// WithDropSink 设置丢弃回调
func WithDropSink(s DropSink) Option {
	return func(r *Replicator) { r.sink = s }
}

func NewReplicator(cfg Config, ch Channel, opts ...Option) *Replicator {
	if cfg.FlushTicks <= 0 {
		cfg.FlushTicks = DefaultFlushTicks
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	r := &Replicator{cfg: cfg, ch: ch, log: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Enqueue 追加到队尾；不去重
func (r *Replicator) Enqueue(e Edit) {
	r.queue = append(r.queue, e)
}

// Pending 队列长度
func (r *Replicator) Pending() int { return len(r.queue) }

// Retries 当前重试计数
func (r *Replicator) Retries() int { return r.retries }

// SetFlushTicks 运行期调整发送节奏（只在模拟协程调用）
func (r *Replicator) SetFlushTicks(n int) {
	if n > 0 {
		r.cfg.FlushTicks = n
	}
}

// Tick 每个模拟 Tick 调用一次。
// 队列为空且无计时时空转；计时满 FlushTicks 才尝试发送一批。
// 批次被上限截断时剩余编辑留待下个周期，本周期不再补发。
func (r *Replicator) Tick(ctx context.Context) FlushResult {
	var res FlushResult
	if len(r.queue) == 0 && r.timer == 0 {
		return res
	}
	r.timer++
	if r.timer < r.cfg.FlushTicks {
		return res
	}
	r.timer = 0
	if len(r.queue) == 0 {
		return res
	}

	edits, records, size, oversize := r.take()
	res.Oversize = oversize
	if len(edits) == 0 {
		res.Remaining = len(r.queue)
		return res
	}
	res.Flushed = true
	res.Edits = len(edits)
	res.Bytes = size

	payload, err := EncodeBatch(records)
	if err == nil {
		r.log.Debugf("sending voxel batch: edits=%d bytes=%d", len(edits), len(payload))
		err = r.ch.Send(ctx, payload)
	}

	if err == nil {
		r.retries = 0
		if len(r.queue) > 0 {
			r.log.Debugf("batch sent, %d edits still queued", len(r.queue))
		}
		res.Remaining = len(r.queue)
		return res
	}

	res.Err = err
	r.retries++
	if r.retries > r.cfg.MaxRetries {
		r.log.Errorf("send failed too many times, dropping batch of %d edits: %v", len(edits), err)
		r.retries = 0
		res.Dropped = true
		if r.sink != nil {
			r.sink.Dropped(edits, err)
		}
	} else {
		r.log.Warnf("send failed, batch of %d edits re-queued (%d/%d): %v", len(edits), r.retries, r.cfg.MaxRetries, err)
		r.queue = append(edits, r.queue...)
		res.Requeued = true
	}
	res.Remaining = len(r.queue)
	return res
}

// take 按 FIFO 贪心取出编辑，累计编码长度（含分隔符）严格小于上限；
// 放不下的那条留在队首，不拆分。
func (r *Replicator) take() (edits []Edit, records []string, size, oversize int) {
	for len(r.queue) > 0 {
		e := r.queue[0]
		rec := e.Record()
		add := EncodedLen(rec)
		if len(records) > 0 {
			add += separatorLen
		}
		if size+add >= r.cfg.MaxBatchBytes {
			if len(records) > 0 {
				break
			}
			// 单条即超限：永远发不出去，丢弃以免阻塞队列
			r.queue = r.queue[1:]
			oversize++
			r.log.Errorf("dropping edit %s: %v", rec, ErrRecordTooLarge)
			if r.sink != nil {
				r.sink.Dropped([]Edit{e}, ErrRecordTooLarge)
			}
			continue
		}
		size += add
		edits = append(edits, e)
		records = append(records, rec)
		r.queue = r.queue[1:]
	}
	if len(r.queue) == 0 {
		r.queue = nil
	}
	return edits, records, size, oversize
}
