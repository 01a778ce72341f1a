package voxel

import (
	"errors"
	"fmt"
)

// ErrMaterialNotFound 启动时找不到所需材质，系统无法工作
var ErrMaterialNotFound = errors.New("voxel material not found")

// Material 体素材质定义
type Material struct {
	Name  string
	Index uint8
}

// MaterialTable 名称 → 材质
type MaterialTable struct {
	byName map[string]Material
}

// NewMaterialTable 按给定顺序分配索引（0..n-1）
func NewMaterialTable(names ...string) *MaterialTable {
	t := &MaterialTable{byName: make(map[string]Material, len(names))}
	for i, n := range names {
		if _, dup := t.byName[n]; dup {
			continue
		}
		t.byName[n] = Material{Name: n, Index: uint8(i)}
	}
	return t
}

// Lookup 查找材质
func (t *MaterialTable) Lookup(name string) (Material, error) {
	m, ok := t.byName[name]
	if !ok {
		return Material{}, fmt.Errorf("%w: %q", ErrMaterialNotFound, name)
	}
	return m, nil
}

func (t *MaterialTable) Len() int { return len(t.byName) }
