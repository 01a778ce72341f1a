package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"concretetool/replication"
)

// errDropLogClosed 关闭后不再写入，避免重新打开无人关闭的文件
var errDropLogClosed = errors.New("dead letter log closed")

// droppedBatch 死信记录（一行 JSON）
type droppedBatch struct {
	TS      string   `json:"ts"`
	Room    string   `json:"room"`
	Reason  string   `json:"reason"`
	Records []string `json:"records"`
}

// DropLog 将永久丢弃的编辑写入按小时滚动的 jsonl.zst 文件，便于事后排查
type DropLog struct {
	baseDir string
	room    string
	now     func() time.Time

	mu      sync.Mutex
	closed  bool
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewDropLog(baseDir, room string) *DropLog {
	return &DropLog{baseDir: baseDir, room: room, now: time.Now}
}

// Dropped 实现 replication.DropSink；写入失败只记录日志
func (d *DropLog) Dropped(edits []replication.Edit, reason error) {
	rec := droppedBatch{
		TS:      d.now().UTC().Format(time.RFC3339Nano),
		Room:    d.room,
		Records: make([]string, len(edits)),
	}
	if reason != nil {
		rec.Reason = reason.Error()
	}
	for i, e := range edits {
		rec.Records[i] = e.Record()
	}
	if err := d.write(rec); err != nil {
		Log.Errorf("dead letter write failed: %v", err)
	}
}

func (d *DropLog) write(v any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDropLogClosed
	}

	hour := d.now().UTC().Format("2006-01-02-15")
	if hour != d.curHour {
		if err := d.rotateLocked(hour); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := d.w.Write(b); err != nil {
		return err
	}
	if err := d.w.WriteByte('\n'); err != nil {
		return err
	}
	// 丢弃很少发生，逐条落盘
	if err := d.w.Flush(); err != nil {
		return err
	}
	return d.enc.Flush()
}

func (d *DropLog) rotateLocked(hour string) error {
	if err := d.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.baseDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d.baseDir, fmt.Sprintf("%s-dropped-%s.jsonl.zst", d.room, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	d.f = f
	d.enc = enc
	d.w = bufio.NewWriter(enc)
	d.curHour = hour
	return nil
}

func (d *DropLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.closeLocked()
}

func (d *DropLog) closeLocked() error {
	if d.f == nil {
		return nil
	}
	var firstErr error
	if d.w != nil {
		if err := d.w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.enc != nil {
		if err := d.enc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	d.f, d.enc, d.w = nil, nil, nil
	d.curHour = ""
	return firstErr
}
