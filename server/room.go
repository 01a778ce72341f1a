package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"concretetool/placement"
	"concretetool/replication"
	"concretetool/voxel"
)

var (
	// ErrRoomClosed 房间已关闭，不再发送
	ErrRoomClosed = errors.New("room closed")
	// ErrPeerBacklog 至少一个对端的发送队列已满
	ErrPeerBacklog = errors.New("peer send queue full")
)

// PeerID 对端唯一标识
type PeerID string

// maxRelayBacklog 每个对端最多暂存的待重发中继消息数
const maxRelayBacklog = 64

// peerLink 对端连接，以及发送队列满时暂存、等待重发的中继消息
type peerLink struct {
	conn    *ClientConn
	backlog [][]byte
	retries int // 连续无进展的重发次数
}

// leaveRequest 只移除仍是同一连接的对端（同 ID 重连时不误删）
type leaveRequest struct {
	id   PeerID
	conn *ClientConn
}

// Tunables 运行期可调参数的当前值
type Tunables struct {
	FlushTicks int  `json:"flushTicks"`
	Creative   bool `json:"creative"`
}

// Room 一个模拟实例：体积、本地工具会话、编辑复制，同时作为对端之间的中继。
// 世界状态只在 Tick 协程中修改；网络协程只通过通道交接。
type Room struct {
	ID string

	cfg Config
	log *zap.SugaredLogger

	volumes    *voxel.Registry
	accessor   *voxel.Accessor
	replicator *replication.Replicator
	applier    *replication.Applier
	inbox      *replication.Inbox
	checker    *placement.Checker
	session    *placement.Session
	actor      *Actor
	status     *hudStatus
	cursor     *ghostCursor
	statics    []placement.Body
	drops      *DropLog
	tunables   Tunables
	outcome    placement.Outcome
	relayTimer int

	mu          sync.RWMutex
	peers       map[PeerID]*peerLink
	upstream    replication.Channel
	actorState  ActorState
	tunablesPub Tunables

	inputChan chan Input
	leaveChan chan leaveRequest

	metrics *RoomMetrics
	tickSeq atomic.Int64

	tickerStarted atomic.Bool
	tickerDone    chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	closed        atomic.Bool
}

// NewRoom 创建房间并生成初始体积。找不到工具材质时返回错误，调用方应中止启动。
func NewRoom(id string, cfg Config) (*Room, error) {
	materials := voxel.NewMaterialTable(cfg.Materials...)
	mat, err := materials.Lookup(cfg.Tool.Material)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", id, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		ID:         id,
		cfg:        cfg,
		log:        Log.With("room", id),
		volumes:    voxel.NewRegistry(),
		accessor:   voxel.NewAccessor(mat),
		inbox:      replication.NewInbox(cfg.Replication.InboxSize),
		peers:      make(map[PeerID]*peerLink),
		inputChan:  make(chan Input, 64),
		leaveChan:  make(chan leaveRequest, 64),
		metrics:    &RoomMetrics{},
		ctx:        ctx,
		cancel:     cancel,
		tickerDone: make(chan struct{}),
		tunables: Tunables{
			FlushTicks: cfg.Replication.FlushTicks,
			Creative:   cfg.Tool.Creative,
		},
	}
	r.tunablesPub = r.tunables

	for _, vc := range cfg.Volumes {
		kind, err := parseKind(vc.Kind)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("room %s: volume %s: %w", id, vc.Name, err)
		}
		r.volumes.Add(voxel.GenerateAsteroid(voxel.AsteroidSpec{
			Name:   vc.Name,
			Kind:   kind,
			Origin: vec3(vc.Origin),
			Size:   voxel.Vec3I{X: vc.Size[0], Y: vc.Size[1], Z: vc.Size[2]},
			Seed:   vc.Seed,
		}))
	}
	for _, bc := range cfg.Bodies {
		class, err := parseClass(bc.Class)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("room %s: body %s: %w", id, bc.ID, err)
		}
		r.statics = append(r.statics, staticBody{
			id:      bc.ID,
			class:   class,
			dynamic: bc.Dynamic,
			box:     placement.Box{Min: vec3(bc.Min), Max: vec3(bc.Max)},
		})
	}

	opts := []replication.Option{replication.WithLogger(r.log)}
	if cfg.Replication.DeadLetterDir != "" {
		r.drops = NewDropLog(cfg.Replication.DeadLetterDir, id)
		opts = append(opts, replication.WithDropSink(r.drops))
	}
	r.replicator = replication.NewReplicator(cfg.replicationConfig(), hubChannel{r}, opts...)
	r.applier = replication.NewApplier(r.volumes, r.accessor, r.log)

	// 专用主机没有本地角色，只中继与应用远端编辑
	if !cfg.Tool.Dedicated {
		r.actor = NewActor("host", vec3([3]float64{}), cfg.Tool.StartAmmo)
		r.actor.tool = cfg.Tool.Subtype
		r.status = &hudStatus{log: r.log, now: time.Now}
		r.cursor = &ghostCursor{log: r.log}
		r.checker = placement.NewChecker(r, &boxOutliner{log: r.log, on: map[string]bool{}}, cfg.Tool.CleanTicks)
		r.session = placement.NewSession(cfg.sessionConfig(), placement.SessionDeps{
			Actor:   r.actor,
			Volumes: r.volumes,
			Scanner: placement.NewScanner(r.accessor, r.checker, r.replicator),
			Checker: r.checker,
			Inv:     r.actor,
			Status:  r.status,
			Cursor:  r.cursor,
			Log:     r.log,
		})
		r.actorState = r.actor.state()
	}
	return r, nil
}

// Volumes 房间的体积表
func (r *Room) Volumes() *voxel.Registry { return r.volumes }

// Metrics 运行指标
func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// TickSeq 已执行的 Tick 数
func (r *Room) TickSeq() int64 { return r.tickSeq.Load() }

// SetUpstream 作为对端加入其他主机时，出站批次改发到上游
func (r *Room) SetUpstream(ch replication.Channel) {
	r.mu.Lock()
	r.upstream = ch
	r.mu.Unlock()
}

// Bodies 实现 placement.BodySource
func (r *Room) Bodies() []placement.Body {
	out := make([]placement.Body, 0, len(r.statics)+1)
	out = append(out, r.statics...)
	if r.actor != nil {
		out = append(out, r.actor)
	}
	return out
}

// JoinPeer 将对端加入房间；同 ID 的旧连接被替换并关闭，未发出的中继消息转给新连接
func (r *Room) JoinPeer(id PeerID, conn *ClientConn) {
	r.mu.Lock()
	link, ok := r.peers[id]
	if !ok {
		link = &peerLink{}
		r.peers[id] = link
	}
	old := link.conn
	link.conn = conn
	link.retries = 0
	r.mu.Unlock()
	if old != nil && old != conn {
		old.Close()
	}
	r.log.Infof("peer joined: %s", id)
}

// LeavePeer 将对端移出房间
func (r *Room) LeavePeer(id PeerID, conn *ClientConn) {
	r.mu.Lock()
	link, ok := r.peers[id]
	if ok && (conn == nil || link.conn == conn) {
		delete(r.peers, id)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		link.conn.Close()
		r.log.Infof("peer left: %s (%d relayed batches not delivered)", id, len(link.backlog))
	}
}

// RequestLeave 请求在 Tick 线程中移除对端，避免并发改动房间状态
func (r *Room) RequestLeave(id PeerID, conn *ClientConn) {
	select {
	case r.leaveChan <- leaveRequest{id: id, conn: conn}:
	case <-r.ctx.Done():
	}
}

// PeerCount 当前连接数
func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// OnBatch 入站批次：交给 Tick 协程应用，并转发给其他对端（不阻塞网络读）。
// 本机收不下的批次也不转发，主机与其他对端保持一致。
func (r *Room) OnBatch(from PeerID, payload []byte) {
	r.metrics.IncInbound()
	if !r.inbox.Deliver(payload) {
		r.metrics.IncInboundDropped()
		r.log.Warnf("inbox full, dropped batch from %s (%d bytes)", from, len(payload))
		return
	}
	if err := r.relay(from, payload); err != nil {
		r.log.Errorf("relay batch from %s: %v", from, err)
	}
}

// OnInput 管理指令（不立即生效），等下一次 Tick 处理；队列满时返回 false
func (r *Room) OnInput(in Input) bool {
	select {
	case r.inputChan <- in:
		return true
	default:
		return false
	}
}

// relay 转发给除 from 以外的所有对端。发送队列满时暂存到该对端的 backlog，
// 由 RetryRelays 按节奏重发；backlog 也满时返回 ErrPeerBacklog。
func (r *Room) relay(from PeerID, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for id, link := range r.peers {
		if id == from {
			continue
		}
		// 已有积压时排在后面，保持顺序
		if len(link.backlog) == 0 && link.conn.Enqueue(payload) {
			r.metrics.IncRelayed()
			continue
		}
		r.metrics.IncRelayFailed()
		if len(link.backlog) >= maxRelayBacklog {
			r.metrics.AddRelayDropped(1)
			r.deadLetter([][]byte{payload}, ErrPeerBacklog)
			err = fmt.Errorf("%w: %s", ErrPeerBacklog, id)
			continue
		}
		link.backlog = append(link.backlog, payload)
	}
	return err
}

// RetryRelays 每个发送节奏重发一次积压的中继消息。连续 MaxRetries 次
// 没有任何进展后丢弃该对端的积压。
func (r *Room) RetryRelays() {
	r.relayTimer++
	if r.relayTimer < r.tunables.FlushTicks {
		return
	}
	r.relayTimer = 0

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, link := range r.peers {
		if len(link.backlog) == 0 {
			continue
		}
		sent := 0
		for _, payload := range link.backlog {
			if !link.conn.Enqueue(payload) {
				break
			}
			sent++
		}
		if sent > 0 {
			r.metrics.AddRelayed(sent)
			link.backlog = link.backlog[sent:]
			link.retries = 0
		}
		if len(link.backlog) == 0 {
			link.backlog = nil
			continue
		}
		if sent > 0 {
			continue
		}
		link.retries++
		if link.retries <= r.cfg.Replication.MaxRetries {
			r.log.Warnf("peer %s still backlogged, %d relayed batches waiting (%d/%d)",
				id, len(link.backlog), link.retries, r.cfg.Replication.MaxRetries)
			continue
		}
		r.log.Errorf("peer %s backlogged too long, dropping %d relayed batches", id, len(link.backlog))
		r.metrics.AddRelayDropped(len(link.backlog))
		r.deadLetter(link.backlog, ErrPeerBacklog)
		link.backlog = nil
		link.retries = 0
	}
}

// deadLetter 将无法送达的中继消息解码后写入死信文件
func (r *Room) deadLetter(payloads [][]byte, reason error) {
	if r.drops == nil {
		return
	}
	var edits []replication.Edit
	for _, payload := range payloads {
		lines, err := replication.DecodeBatch(payload)
		if err != nil {
			continue
		}
		for _, line := range lines {
			if e, err := replication.ParseRecord(line); err == nil {
				edits = append(edits, e)
			}
		}
	}
	if len(edits) > 0 {
		r.drops.Dropped(edits, reason)
	}
}

// Tick 单线程推进一帧：处理输入 → 更新工具会话 → 发送编辑
func (r *Room) Tick(now time.Time) {
	r.tickSeq.Add(1)
	r.ProcessInputs(now)
	r.UpdateWorld(now)
	r.FlushEdits()
	r.RetryRelays()
	r.publish()
}

// ProcessInputs 处理当前帧的所有入站（非阻塞 drain）
func (r *Room) ProcessInputs(now time.Time) {
	for {
		select {
		case req := <-r.leaveChan:
			r.LeavePeer(req.id, req.conn)
		case in := <-r.inputChan:
			r.applyInput(in, now)
		default:
			r.inbox.Drain(func(payload []byte) {
				r.metrics.AddApply(r.applier.Apply(payload))
			})
			return
		}
	}
}

// UpdateWorld 推进本地工具会话；单帧异常不影响房间继续运行
func (r *Room) UpdateWorld(now time.Time) {
	if r.session == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.IncTickPanic()
			r.log.Errorf("tool session panic: %v", rec)
		}
	}()
	res := r.session.Tick(now)
	r.metrics.AddPlacement(res)
	r.outcome = res.Outcome
}

// FlushEdits 按节奏发送排队的编辑
func (r *Room) FlushEdits() {
	r.metrics.AddFlush(r.replicator.Tick(r.ctx))
}

func (r *Room) applyInput(in Input, now time.Time) {
	if p := in.Config; p != nil {
		if p.FlushTicks != nil && *p.FlushTicks > 0 {
			r.tunables.FlushTicks = *p.FlushTicks
			r.replicator.SetFlushTicks(*p.FlushTicks)
		}
		if p.Creative != nil {
			r.tunables.Creative = *p.Creative
			if r.session != nil {
				r.session.SetCreative(*p.Creative)
			}
		}
		r.log.Infof("config updated: flushTicks=%d creative=%v", r.tunables.FlushTicks, r.tunables.Creative)
	}
	if name := in.RemoveVolume; name != "" {
		if r.volumes.Remove(name) {
			r.log.Infof("volume removed: %s", name)
		}
	}
	if c := in.Actor; c != nil && r.actor != nil {
		a := r.actor
		if c.Position != nil {
			a.pos = vec3(*c.Position)
		}
		if c.Forward != nil {
			if f := vec3(*c.Forward); f.Len() > 0 {
				a.forward = f.Normalize()
			}
		}
		if c.Tool != "" {
			a.tool = c.Tool
		}
		if c.Equip != nil {
			a.equipped = *c.Equip
		}
		if c.Ammo != nil {
			a.ammo = *c.Ammo
		}
		if c.Fire {
			a.Fire(now, r.tunables.Creative)
		}
	}
}

// publish 发布只读快照给管理接口
func (r *Room) publish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tunablesPub = r.tunables
	if r.actor == nil {
		return
	}
	r.actorState = r.actor.state()
	r.actorState.Outcome = r.outcome.String()
	r.actorState.Holding = r.session.Holding()
	r.actorState.Status = r.status.Current()
	r.actorState.Cursor = r.cursor.position()
}

// ActorState 本地角色快照；专用主机返回 false
func (r *Room) ActorState() (ActorState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actorState, r.actor != nil
}

// Tunables 当前可调参数
func (r *Room) Tunables() Tunables {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tunablesPub
}

// Close 停止 Tick 并等待其退出，然后断开所有对端、关闭死信文件
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.cancel()
		if r.tickerStarted.Load() {
			<-r.tickerDone
		}
		r.mu.Lock()
		peers := r.peers
		r.peers = make(map[PeerID]*peerLink)
		r.mu.Unlock()
		for _, link := range peers {
			link.conn.Close()
		}
		if r.drops != nil {
			if err := r.drops.Close(); err != nil {
				r.log.Errorf("close dead letter log: %v", err)
			}
		}
		r.log.Info("room closed")
	})
}

// hubChannel 出站通道：有上游时发往上游，否则广播给所有对端
type hubChannel struct{ r *Room }

func (h hubChannel) Send(ctx context.Context, payload []byte) error {
	if h.r.closed.Load() {
		return ErrRoomClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.r.mu.RLock()
	up := h.r.upstream
	h.r.mu.RUnlock()
	if up != nil {
		return up.Send(ctx, payload)
	}
	return h.r.relay("", payload)
}

// staticBody 配置中的场景物体
type staticBody struct {
	id      string
	class   placement.BodyClass
	dynamic bool
	box     placement.Box
}

func (b staticBody) ID() string                 { return b.id }
func (b staticBody) Class() placement.BodyClass { return b.class }
func (b staticBody) Dynamic() bool              { return b.dynamic }
func (b staticBody) Bounds() placement.Box      { return b.box }
