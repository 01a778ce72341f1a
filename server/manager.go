package server

import "sync"

// RoomManager 管理多个房间的生命周期
type RoomManager struct {
	cfg Config

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRoomManager 使用同一份配置创建房间管理器
func NewRoomManager(cfg Config) *RoomManager {
	return &RoomManager{cfg: cfg, rooms: make(map[string]*Room)}
}

// Config 管理器使用的配置
func (m *RoomManager) Config() Config { return m.cfg }

// GetOrCreateRoom 获取或创建房间，并确保开始 Tick
func (m *RoomManager) GetOrCreateRoom(id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		return r, nil
	}
	r, err := NewRoom(id, m.cfg)
	if err != nil {
		return nil, err
	}
	m.rooms[id] = r
	r.StartTicker()
	return r, nil
}

// Room 查找已存在的房间
func (m *RoomManager) Room(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Close 关闭所有房间
func (m *RoomManager) Close() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()
	for _, r := range rooms {
		r.Close()
	}
}
