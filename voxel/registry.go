package voxel

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Registry 世界中全部体积的查找表，按加入顺序遍历
type Registry struct {
	mu      sync.RWMutex
	volumes []Volume
}

func NewRegistry(volumes ...Volume) *Registry {
	r := &Registry{}
	for _, v := range volumes {
		r.Add(v)
	}
	return r
}

// Add 同名体积会替换旧实例
func (r *Registry) Add(v Volume) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.volumes {
		if cur.Name() == v.Name() {
			r.volumes[i] = v
			return
		}
	}
	r.volumes = append(r.volumes, v)
}

// Remove 移除体积，返回是否存在
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.volumes {
		if cur.Name() == name {
			r.volumes = append(r.volumes[:i], r.volumes[i+1:]...)
			return true
		}
	}
	return false
}

// All 返回快照
func (r *Registry) All() []Volume {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Volume, len(r.volumes))
	copy(out, r.volumes)
	return out
}

// Find 返回满足谓词的全部体积
func (r *Registry) Find(pred func(Volume) bool) []Volume {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Volume
	for _, v := range r.volumes {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

// ByName 精确名称匹配，取第一个
func (r *Registry) ByName(name string) (Volume, bool) {
	found := r.Find(func(v Volume) bool { return v.Name() == name })
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

// At 返回包围盒包含该点的第一个体积，没有则返回 nil
func (r *Registry) At(p mgl64.Vec3) Volume {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.volumes {
		if Contains(v, p) {
			return v
		}
	}
	return nil
}
