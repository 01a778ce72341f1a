package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"concretetool/placement"
	"concretetool/replication"
	"concretetool/voxel"
)

// Config 进程配置（config.yaml）
type Config struct {
	Listen      string `yaml:"listen"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`
	DefaultRoom string `yaml:"default_room"`
	TickRateHz  int    `yaml:"tick_rate_hz"`

	Replication ReplicationConfig `yaml:"replication"`
	Tool        ToolConfig        `yaml:"tool"`

	Materials []string       `yaml:"materials"`
	Volumes   []VolumeConfig `yaml:"volumes"`
	Bodies    []BodyConfig   `yaml:"bodies"`
}

// ReplicationConfig 复制与入站参数
type ReplicationConfig struct {
	FlushTicks    int    `yaml:"flush_ticks"`
	MaxBatchBytes int    `yaml:"max_batch_bytes"`
	MaxRetries    int    `yaml:"max_retries"`
	InboxSize     int    `yaml:"inbox_size"`
	DeadLetterDir string `yaml:"dead_letter_dir"` // 为空则不落盘

	// 每个连接的入站批次限速
	InboundPerSecond float64 `yaml:"inbound_per_second"`
	InboundBurst     int     `yaml:"inbound_burst"`
}

// ToolConfig 工具参数
type ToolConfig struct {
	Subtype      string `yaml:"subtype"`
	Material     string `yaml:"material"`
	FireDelayMs  int    `yaml:"fire_delay_ms"`
	StatusTimeMs int    `yaml:"status_time_ms"`
	CleanTicks   int    `yaml:"clean_ticks"`
	Creative     bool   `yaml:"creative"`
	StartAmmo    int    `yaml:"start_ammo"`
	// Dedicated 无本地角色，只负责中继与应用远端编辑
	Dedicated bool `yaml:"dedicated"`
}

// VolumeConfig 房间初始体积
type VolumeConfig struct {
	Name   string     `yaml:"name"`
	Kind   string     `yaml:"kind"` // asteroid | planet
	Origin [3]float64 `yaml:"origin"`
	Size   [3]int     `yaml:"size"`
	Seed   int64      `yaml:"seed"`
}

// BodyConfig 场景中的物体（用于占位检查）
type BodyConfig struct {
	ID      string     `yaml:"id"`
	Class   string     `yaml:"class"` // grid | floating | character
	Dynamic bool       `yaml:"dynamic"`
	Min     [3]float64 `yaml:"min"`
	Max     [3]float64 `yaml:"max"`
}

// DefaultConfig 默认配置：60 TPS，一颗 64³ 小行星
func DefaultConfig() Config {
	rc := replication.DefaultConfig()
	return Config{
		Listen:      ":8080",
		LogFile:     "concrete.log",
		LogLevel:    "debug",
		DefaultRoom: "room-1",
		TickRateHz:  60,
		Replication: ReplicationConfig{
			FlushTicks:       rc.FlushTicks,
			MaxBatchBytes:    rc.MaxBatchBytes,
			MaxRetries:       rc.MaxRetries,
			InboxSize:        replication.DefaultInboxSize,
			InboundPerSecond: 20,
			InboundBurst:     40,
		},
		Tool: ToolConfig{
			Subtype:      placement.DefaultToolSubtype,
			Material:     "Concrete",
			FireDelayMs:  int(placement.DefaultFireDelay / time.Millisecond),
			StatusTimeMs: int(placement.DefaultStatusTime / time.Millisecond),
			CleanTicks:   placement.DefaultCleanTicks,
			StartAmmo:    50,
		},
		Materials: []string{"Stone", "Iron", "Ice", "Concrete"},
		Volumes: []VolumeConfig{
			{Name: "Asteroid_0", Kind: "asteroid", Size: [3]int{64, 64, 64}, Seed: 1},
		},
	}
}

// LoadConfig 读取 YAML，未出现的字段保留默认值
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate 基本合法性检查
func (c Config) Validate() error {
	var errs []error
	if c.TickRateHz <= 0 {
		errs = append(errs, errors.New("tick_rate_hz must be positive"))
	}
	if c.Replication.FlushTicks <= 0 {
		errs = append(errs, errors.New("replication.flush_ticks must be positive"))
	}
	if c.Replication.MaxBatchBytes <= 2 {
		errs = append(errs, errors.New("replication.max_batch_bytes too small"))
	}
	if c.Replication.MaxBatchBytes > replication.DefaultMaxBatchBytes {
		errs = append(errs, fmt.Errorf("replication.max_batch_bytes must not exceed %d", replication.DefaultMaxBatchBytes))
	}
	if c.Replication.MaxRetries < 0 {
		errs = append(errs, errors.New("replication.max_retries must not be negative"))
	}
	if c.Tool.Material == "" {
		errs = append(errs, errors.New("tool.material is required"))
	}
	seen := map[string]bool{}
	for i, v := range c.Volumes {
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("volumes[%d]: name is required", i))
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Errorf("volumes[%d]: duplicate name %q", i, v.Name))
		}
		seen[v.Name] = true
		if _, err := parseKind(v.Kind); err != nil {
			errs = append(errs, fmt.Errorf("volumes[%d]: %w", i, err))
		}
	}
	for i, b := range c.Bodies {
		if _, err := parseClass(b.Class); err != nil {
			errs = append(errs, fmt.Errorf("bodies[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (c Config) tickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRateHz)
}

func (c Config) replicationConfig() replication.Config {
	return replication.Config{
		FlushTicks:    c.Replication.FlushTicks,
		MaxBatchBytes: c.Replication.MaxBatchBytes,
		MaxRetries:    c.Replication.MaxRetries,
	}
}

func (c Config) sessionConfig() placement.SessionConfig {
	return placement.SessionConfig{
		ToolSubtype: c.Tool.Subtype,
		FireDelay:   time.Duration(c.Tool.FireDelayMs) * time.Millisecond,
		StatusTime:  time.Duration(c.Tool.StatusTimeMs) * time.Millisecond,
		Creative:    c.Tool.Creative,
	}
}

func parseKind(s string) (voxel.Kind, error) {
	switch s {
	case "", "asteroid":
		return voxel.KindAsteroid, nil
	case "planet":
		return voxel.KindPlanet, nil
	}
	return 0, fmt.Errorf("unknown volume kind %q", s)
}

func parseClass(s string) (placement.BodyClass, error) {
	switch s {
	case "grid":
		return placement.ClassGrid, nil
	case "floating":
		return placement.ClassFloating, nil
	case "character":
		return placement.ClassCharacter, nil
	case "", "other":
		return placement.ClassOther, nil
	}
	return 0, fmt.Errorf("unknown body class %q", s)
}

func vec3(a [3]float64) mgl64.Vec3 { return mgl64.Vec3{a[0], a[1], a[2]} }
