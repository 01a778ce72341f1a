package voxel

// Accessor 通过一个复用的单元缓冲读写体素，避免 Tick 内每次调用分配。
// 不可重入：同一时刻只能有一次读或写在进行，只在模拟协程中使用。
type Accessor struct {
	material uint8
	scratch  Cell
}

// NewAccessor material 为放置时写入的固定材质索引
func NewAccessor(material Material) *Accessor {
	return &Accessor{material: material.Index}
}

// Material 放置写入的材质索引
func (a *Accessor) Material() uint8 { return a.material }

// Read 读取单元的填充度与材质
func (a *Accessor) Read(v Volume, pos Vec3I) (content, material uint8) {
	v.ReadCell(pos, &a.scratch)
	return a.scratch.Content, a.scratch.Material
}

// Write 写入单元，立即对下一帧可见
func (a *Accessor) Write(v Volume, pos Vec3I, content, material uint8) {
	a.scratch.Content = content
	a.scratch.Material = material
	v.WriteCell(pos, &a.scratch)
}

// Fill 写入实心 + 固定材质；重复调用结果一致
func (a *Accessor) Fill(v Volume, pos Vec3I) {
	a.Write(v, pos, ContentFull, a.material)
}
