package server

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concretetool/placement"
	"concretetool/replication"
	"concretetool/voxel"
)

// captureChannel 记录所有出站批次
type captureChannel struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (c *captureChannel) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *captureChannel) batches() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func ptr[T any](v T) *T { return &v }

// newTestRoom 不启动 Ticker，测试里手动推进
func newTestRoom(t *testing.T, mutate func(*Config)) *Room {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Volumes = nil
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRoom("test", cfg)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

// rockWall 在 x=12..14 处放一段实心，视点 (10,10,10) 朝 +X 时 1 米处为空
func rockWall(r *Room) *voxel.Grid {
	g := voxel.NewGrid("Rock", voxel.KindAsteroid, voxelOrigin, voxel.Vec3I{X: 32, Y: 32, Z: 32})
	full := voxel.Cell{Content: voxel.ContentFull}
	for x := 12; x <= 14; x++ {
		g.WriteCell(voxel.Vec3I{X: x, Y: 10, Z: 10}, &full)
	}
	r.Volumes().Add(g)
	return g
}

var voxelOrigin = vec3([3]float64{})

func contentAt(g *voxel.Grid, p voxel.Vec3I) uint8 {
	var c voxel.Cell
	g.ReadCell(p, &c)
	return c.Content
}

func TestNewRoom_MissingMaterial(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tool.Material = "Unobtainium"
	_, err := NewRoom("test", cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, voxel.ErrMaterialNotFound)
}

func TestNewRoom_GeneratesVolumes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Volumes = []VolumeConfig{{Name: "A", Kind: "asteroid", Size: [3]int{16, 16, 16}, Seed: 7}}
	r, err := NewRoom("test", cfg)
	require.NoError(t, err)
	defer r.Close()

	v, ok := r.Volumes().ByName("A")
	require.True(t, ok)
	assert.Equal(t, voxel.KindAsteroid, v.Kind())
}

func TestRoom_AppliesInboundBatchOnTick(t *testing.T) {
	r := newTestRoom(t, nil)
	g := rockWall(r)

	payload, err := replication.EncodeBatch([]string{"5;5;5;Rock", "garbage", "1;1;1;Nowhere"})
	require.NoError(t, err)
	r.OnBatch("p1", payload)

	// 网络协程只入队，Tick 之前不修改体积
	assert.Equal(t, voxel.ContentEmpty, contentAt(g, voxel.Vec3I{X: 5, Y: 5, Z: 5}))

	r.Tick(time.Now())
	assert.Equal(t, voxel.ContentFull, contentAt(g, voxel.Vec3I{X: 5, Y: 5, Z: 5}))

	snap := r.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap["inbound_batches"])
	assert.EqualValues(t, 1, snap["records_applied"])
	assert.EqualValues(t, 1, snap["records_malformed"])
	assert.EqualValues(t, 1, snap["records_unknown"])
}

func TestRoom_PlaceAndReplicate(t *testing.T) {
	r := newTestRoom(t, nil)
	g := rockWall(r)
	up := &captureChannel{}
	r.SetUpstream(up)

	now := time.Now()
	require.True(t, r.OnInput(Input{Actor: &ActorCommand{
		Position: &[3]float64{10, 8.4, 10},
		Forward:  &[3]float64{1, 0, 0},
		Equip:    ptr(true),
	}}))
	r.Tick(now)

	st, ok := r.ActorState()
	require.True(t, ok)
	assert.True(t, st.Holding)
	assert.Equal(t, placement.OutcomeCursor.String(), st.Outcome)
	require.NotNil(t, st.Cursor)
	assert.Equal(t, [3]float64{11, 10, 10}, *st.Cursor)

	now = now.Add(16 * time.Millisecond)
	require.True(t, r.OnInput(Input{Actor: &ActorCommand{Fire: true}}))
	r.Tick(now)

	st, _ = r.ActorState()
	assert.Equal(t, placement.OutcomePlaced.String(), st.Outcome)
	assert.Equal(t, 49, st.Ammo)
	assert.Equal(t, voxel.ContentFull, contentAt(g, voxel.Vec3I{X: 11, Y: 10, Z: 10}))

	// 放置所在帧计为第 1 帧，第 60 帧发送
	for i := 0; i < DefaultConfig().Replication.FlushTicks-2; i++ {
		now = now.Add(16 * time.Millisecond)
		r.Tick(now)
	}
	assert.Empty(t, up.batches())

	r.Tick(now.Add(16 * time.Millisecond))
	batches := up.batches()
	require.Len(t, batches, 1)
	records, err := replication.DecodeBatch(batches[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"11;10;10;Rock"}, records)

	snap := r.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap["edits_placed"])
	assert.EqualValues(t, 1, snap["batches_sent"])
}

func TestRoom_FailedPlacementShowsStatus(t *testing.T) {
	r := newTestRoom(t, nil)
	rockWall(r)

	now := time.Now()
	// 朝 -X 看：4 米处为空
	r.OnInput(Input{Actor: &ActorCommand{
		Position: &[3]float64{10, 8.4, 10},
		Forward:  &[3]float64{-1, 0, 0},
		Equip:    ptr(true),
		Fire:     true,
	}})
	r.Tick(now)

	st, _ := r.ActorState()
	assert.Equal(t, placement.OutcomeAimCloser.String(), st.Outcome)
	assert.Equal(t, "Aim closer to the surface.", st.Status)
	assert.Nil(t, st.Cursor)
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["place_failed"])
}

func TestRoom_ConfigPatch(t *testing.T) {
	r := newTestRoom(t, nil)
	require.True(t, r.OnInput(Input{Config: &ConfigPatch{FlushTicks: ptr(5), Creative: ptr(true)}}))

	// Tick 之前不生效
	assert.Equal(t, 60, r.Tunables().FlushTicks)
	r.Tick(time.Now())
	assert.Equal(t, Tunables{FlushTicks: 5, Creative: true}, r.Tunables())
}

func TestRoom_DedicatedHasNoActor(t *testing.T) {
	r := newTestRoom(t, func(c *Config) { c.Tool.Dedicated = true })
	r.OnInput(Input{Actor: &ActorCommand{Fire: true}})
	r.Tick(time.Now())

	_, ok := r.ActorState()
	assert.False(t, ok)
}

func TestRoom_SendAfterCloseFails(t *testing.T) {
	r := newTestRoom(t, nil)
	r.Close()
	err := hubChannel{r}.Send(context.Background(), []byte{1, 0})
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestRoom_SendFailureRequeues(t *testing.T) {
	r := newTestRoom(t, func(c *Config) { c.Replication.FlushTicks = 1 })
	rockWall(r)
	up := &captureChannel{err: ErrPeerBacklog}
	r.SetUpstream(up)

	r.replicator.Enqueue(replication.Edit{Pos: voxel.Vec3I{X: 1, Y: 2, Z: 3}, Volume: "Rock"})
	r.Tick(time.Now())

	assert.Equal(t, 1, r.replicator.Pending())
	assert.Equal(t, 1, r.replicator.Retries())
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["send_failures"])
}

// testConn 不带 websocket 的对端连接，测试直接读写发送队列
func testConn(size int) *ClientConn {
	return &ClientConn{send: make(chan []byte, size)}
}

func rockBatch(t *testing.T) []byte {
	t.Helper()
	payload, err := replication.EncodeBatch([]string{"1;1;1;Rock"})
	require.NoError(t, err)
	return payload
}

func TestRoom_RelayBacklogRedelivers(t *testing.T) {
	r := newTestRoom(t, nil)
	rockWall(r)
	a, b := testConn(4), testConn(1)
	r.JoinPeer("A", a)
	r.JoinPeer("B", b)

	// B 的发送队列已满
	b.send <- []byte("filler")
	payload := rockBatch(t)
	r.OnBatch("A", payload)
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["relay_failed"])

	<-b.send
	now := time.Now()
	for i := 0; i < r.cfg.Replication.FlushTicks-1; i++ {
		now = now.Add(16 * time.Millisecond)
		r.Tick(now)
	}
	assert.Empty(t, b.send)

	r.Tick(now.Add(16 * time.Millisecond))
	require.Len(t, b.send, 1)
	assert.Equal(t, payload, <-b.send)
	assert.Empty(t, a.send)

	snap := r.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap["relayed"])
	assert.EqualValues(t, 0, snap["relay_dropped"])
}

func TestRoom_RelayBacklogKeepsOrder(t *testing.T) {
	r := newTestRoom(t, func(c *Config) { c.Replication.FlushTicks = 1 })
	b := testConn(2)
	r.JoinPeer("B", b)

	b.send <- []byte("filler-1")
	b.send <- []byte("filler-2")
	first, err := replication.EncodeBatch([]string{"1;1;1;Rock"})
	require.NoError(t, err)
	second, err := replication.EncodeBatch([]string{"2;2;2;Rock"})
	require.NoError(t, err)
	r.OnBatch("A", first)
	<-b.send
	// 已有积压时，新消息也排在积压之后
	r.OnBatch("A", second)
	<-b.send

	r.Tick(time.Now())
	require.Len(t, b.send, 2)
	assert.Equal(t, first, <-b.send)
	assert.Equal(t, second, <-b.send)
}

func TestRoom_RelayBacklogDropsAfterRetries(t *testing.T) {
	dir := t.TempDir()
	r := newTestRoom(t, func(c *Config) {
		c.Replication.FlushTicks = 1
		c.Replication.DeadLetterDir = dir
	})
	b := testConn(1)
	r.JoinPeer("B", b)
	b.send <- []byte("filler")

	r.OnBatch("A", rockBatch(t))
	now := time.Now()
	for i := 0; i < r.cfg.Replication.MaxRetries; i++ {
		now = now.Add(16 * time.Millisecond)
		r.Tick(now)
	}
	assert.EqualValues(t, 0, r.Metrics().Snapshot()["relay_dropped"])

	r.Tick(now.Add(16 * time.Millisecond))
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["relay_dropped"])
	r.Close()

	files, err := filepath.Glob(filepath.Join(dir, "test-dropped-*.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	got := readDropped(t, files[0])
	require.Len(t, got, 1)
	assert.Equal(t, []string{"1;1;1;Rock"}, got[0].Records)
	assert.Equal(t, ErrPeerBacklog.Error(), got[0].Reason)
}

func TestRoom_InboxFullSkipsRelay(t *testing.T) {
	r := newTestRoom(t, func(c *Config) { c.Replication.InboxSize = 1 })
	b := testConn(4)
	r.JoinPeer("B", b)

	r.OnBatch("A", rockBatch(t))
	r.OnBatch("A", rockBatch(t))

	assert.Len(t, b.send, 1)
	snap := r.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap["inbound_dropped"])
	assert.EqualValues(t, 1, snap["relayed"])
}

func TestRoom_CloseStopsTicker(t *testing.T) {
	r := newTestRoom(t, func(c *Config) { c.TickRateHz = 1000 })
	r.StartTicker()
	require.Eventually(t, func() bool { return r.TickSeq() > 0 }, 2*time.Second, time.Millisecond)

	r.Close()
	seq := r.TickSeq()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, seq, r.TickSeq())
}

func TestRoom_RemoveVolume(t *testing.T) {
	r := newTestRoom(t, nil)
	rockWall(r)

	require.True(t, r.OnInput(Input{RemoveVolume: "Rock"}))
	r.Tick(time.Now())
	_, ok := r.Volumes().ByName("Rock")
	assert.False(t, ok)

	// 目标体积已不存在的远端编辑只计数，不影响房间
	r.OnBatch("A", rockBatch(t))
	r.Tick(time.Now())
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["records_unknown"])

	// 角色不在任何体积内：触发时提示只能放在小行星上
	r.OnInput(Input{Actor: &ActorCommand{
		Position: &[3]float64{10, 8.4, 10},
		Forward:  &[3]float64{1, 0, 0},
		Equip:    ptr(true),
		Fire:     true,
	}})
	r.Tick(time.Now())
	st, _ := r.ActorState()
	assert.Equal(t, placement.OutcomeNoTarget.String(), st.Outcome)
	assert.Equal(t, "Concrete can only be placed on asteroids!", st.Status)
}
