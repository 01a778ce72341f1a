package replication

import "sync/atomic"

// DefaultInboxSize 入站缓冲容量
const DefaultInboxSize = 256

// Inbox 传输层协程 → 模拟协程的入站批次交接队列。
// Deliver 可在任意协程调用；Drain 只在模拟协程调用。
type Inbox struct {
	ch      chan []byte
	dropped atomic.Int64
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{ch: make(chan []byte, size)}
}

// Deliver 非阻塞投递；缓冲满时丢弃并返回 false，保证网络读不阻塞 Tick
func (in *Inbox) Deliver(payload []byte) bool {
	select {
	case in.ch <- payload:
		return true
	default:
		in.dropped.Add(1)
		return false
	}
}

// Drain 取出当前所有批次（非阻塞）；返回处理数量
func (in *Inbox) Drain(fn func(payload []byte)) int {
	n := 0
	for {
		select {
		case b := <-in.ch:
			fn(b)
			n++
		default:
			return n
		}
	}
}

// Dropped 因缓冲满被丢弃的批次数
func (in *Inbox) Dropped() int64 { return in.dropped.Load() }

// Len 当前积压
func (in *Inbox) Len() int { return len(in.ch) }
