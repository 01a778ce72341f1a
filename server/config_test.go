package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second/60, cfg.tickInterval())
	assert.Equal(t, 60, cfg.replicationConfig().FlushTicks)
	assert.Equal(t, 4096, cfg.replicationConfig().MaxBatchBytes)
	assert.Equal(t, 3, cfg.replicationConfig().MaxRetries)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
default_room: lab
replication:
  flush_ticks: 30
  dead_letter_dir: /tmp/dead
tool:
  creative: true
volumes:
  - name: Ceres
    kind: asteroid
    origin: [100, 0, 0]
    size: [32, 32, 32]
    seed: 42
  - name: Earth
    kind: planet
    size: [8, 8, 8]
bodies:
  - id: ship-1
    class: grid
    dynamic: true
    min: [0, 0, 0]
    max: [2, 2, 2]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "lab", cfg.DefaultRoom)
	assert.Equal(t, 30, cfg.Replication.FlushTicks)
	// 未出现的字段保留默认值
	assert.Equal(t, 4096, cfg.Replication.MaxBatchBytes)
	assert.Equal(t, "Concrete", cfg.Tool.Material)
	assert.True(t, cfg.Tool.Creative)
	require.Len(t, cfg.Volumes, 2)
	assert.Equal(t, [3]float64{100, 0, 0}, cfg.Volumes[0].Origin)
	assert.Equal(t, "planet", cfg.Volumes[1].Kind)
	require.Len(t, cfg.Bodies, 1)
	assert.True(t, cfg.Bodies[0].Dynamic)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero tick rate", "tick_rate_hz: 0", "tick_rate_hz"},
		{"zero flush ticks", "replication:\n  flush_ticks: 0", "flush_ticks"},
		{"batch cap too large", "replication:\n  max_batch_bytes: 8192", "must not exceed 4096"},
		{"unknown kind", "volumes:\n  - name: X\n    kind: comet", "unknown volume kind"},
		{"duplicate volume", "volumes:\n  - name: X\n  - name: X", "duplicate name"},
		{"unknown class", "bodies:\n  - id: b\n    class: tree", "unknown body class"},
		{"bad yaml", "listen: [", "config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
