package voxel

import (
	"math"

	"github.com/aquilax/go-perlin"
	"github.com/go-gl/mathgl/mgl64"
)

// 噪声参数（alpha/beta/n 同 perlin.NewPerlin）
const (
	noiseAlpha = 2.0
	noiseBeta  = 2.0
	noiseN     = 3
	noiseScale = 0.08
	// 表面起伏幅度，占半径比例
	noiseAmplitude = 0.35
)

// AsteroidSpec 程序化小行星参数
type AsteroidSpec struct {
	Name     string
	Kind     Kind
	Origin   mgl64.Vec3
	Size     Vec3I
	Seed     int64
	Material uint8
}

// GenerateAsteroid 以球体 + 3D Perlin 噪声生成体积。
// 相同参数生成结果一致。
func GenerateAsteroid(spec AsteroidSpec) *Grid {
	g := NewGrid(spec.Name, spec.Kind, spec.Origin, spec.Size)
	p := perlin.NewPerlin(noiseAlpha, noiseBeta, noiseN, spec.Seed)

	cx := float64(spec.Size.X) / 2
	cy := float64(spec.Size.Y) / 2
	cz := float64(spec.Size.Z) / 2
	radius := math.Min(cx, math.Min(cy, cz)) * 0.8
	if radius <= 0 {
		return g
	}

	var c Cell
	for z := 0; z < spec.Size.Z; z++ {
		for y := 0; y < spec.Size.Y; y++ {
			for x := 0; x < spec.Size.X; x++ {
				dx, dy, dz := float64(x)-cx, float64(y)-cy, float64(z)-cz
				d := math.Sqrt(dx*dx+dy*dy+dz*dz) / radius
				n := p.Noise3D(float64(x)*noiseScale, float64(y)*noiseScale, float64(z)*noiseScale)
				density := 1 - d + n*noiseAmplitude
				c.Content = densityToContent(density)
				if c.Content == ContentEmpty {
					continue
				}
				c.Material = spec.Material
				g.WriteCell(Vec3I{X: x, Y: y, Z: z}, &c)
			}
		}
	}
	return g
}

// densityToContent 将 [-?, ?] 密度映射到 0..255，表面附近产生部分填充
func densityToContent(d float64) uint8 {
	const band = 0.15
	t := (d + band) / (2 * band)
	if t <= 0 {
		return ContentEmpty
	}
	if t >= 1 {
		return ContentFull
	}
	return uint8(math.Round(t * float64(ContentFull)))
}
