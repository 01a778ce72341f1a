package server

import (
	"encoding/json"
	"net/http"
)

// roomFor 按 ?room= 查找或创建房间，失败时已写出错误响应
func (m *RoomManager) roomFor(w http.ResponseWriter, r *http.Request) (*Room, bool) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = m.cfg.DefaultRoom
	}
	room, err := m.GetOrCreateRoom(roomID)
	if err != nil {
		Log.Errorf("room %s: %v", roomID, err)
		http.Error(w, "room unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	return room, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// HandleAdminConfig 提供运行期参数的读取与更新
// GET /admin/config?room=room-1  返回当前参数
// POST /admin/config?room=room-1 以 JSON 载荷更新部分字段，下一次 Tick 生效
func (m *RoomManager) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	room, ok := m.roomFor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, room.Tunables())
	case http.MethodPost:
		var body ConfigPatch
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.FlushTicks != nil && *body.FlushTicks <= 0 {
			http.Error(w, "flushTicks must be positive", http.StatusBadRequest)
			return
		}
		if !room.OnInput(Input{Config: &body}) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleActor 驱动主机上的本地角色
// GET /admin/actor?room=room-1  返回角色快照
// POST /admin/actor?room=room-1 {"forward":[1,0,0],"equip":true,"fire":true}
func (m *RoomManager) HandleActor(w http.ResponseWriter, r *http.Request) {
	room, ok := m.roomFor(w, r)
	if !ok {
		return
	}
	state, hasActor := room.ActorState()
	if !hasActor {
		http.Error(w, "dedicated host has no actor", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, state)
	case http.MethodPost:
		var body ActorCommand
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if !room.OnInput(Input{Actor: &body}) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出指定房间的运行指标
// GET /metrics?room=room-1
func (m *RoomManager) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	room, ok := m.roomFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{
		"room":    room.ID,
		"tick":    room.TickSeq(),
		"peers":   room.PeerCount(),
		"metrics": room.metrics.Snapshot(),
	})
}

// volumeInfo 体积的只读描述
type volumeInfo struct {
	Name   string     `json:"name"`
	Kind   string     `json:"kind"`
	Origin [3]float64 `json:"origin"`
	Size   [3]int     `json:"size"`
}

// HandleVolumes 列出或移除房间内的体积
// GET /admin/volumes?room=room-1
// DELETE /admin/volumes?room=room-1&name=Asteroid_0  下一次 Tick 移除
func (m *RoomManager) HandleVolumes(w http.ResponseWriter, r *http.Request) {
	room, ok := m.roomFor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		all := room.Volumes().All()
		out := make([]volumeInfo, 0, len(all))
		for _, v := range all {
			size := v.Size()
			out = append(out, volumeInfo{
				Name:   v.Name(),
				Kind:   v.Kind().String(),
				Origin: [3]float64(v.Origin()),
				Size:   [3]int{size.X, size.Y, size.Z},
			})
		}
		writeJSON(w, out)
	case http.MethodDelete:
		name := r.URL.Query().Get("name")
		if _, found := room.Volumes().ByName(name); !found {
			http.Error(w, "unknown volume", http.StatusNotFound)
			return
		}
		if !room.OnInput(Input{RemoveVolume: name}) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
