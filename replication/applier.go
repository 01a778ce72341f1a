package replication

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"concretetool/voxel"
)

// VolumeFinder 按名称查找体积
type VolumeFinder interface {
	ByName(name string) (voxel.Volume, bool)
}

// ApplyReport 一个入站批次的处理统计
type ApplyReport struct {
	Applied   int
	Malformed int
	Unknown   int
}

// Applier 将远端批次写入本地体积，不再入队复制（避免对端之间回环）。
// 与 Accessor 一样只在模拟协程中使用。
type Applier struct {
	volumes  VolumeFinder
	accessor *voxel.Accessor
	log      *zap.SugaredLogger
}

func NewApplier(volumes VolumeFinder, accessor *voxel.Accessor, log *zap.SugaredLogger) *Applier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Applier{volumes: volumes, accessor: accessor, log: log}
}

// Apply 逐行处理；坏行与未知体积只跳过该行，不影响其余记录
func (a *Applier) Apply(payload []byte) ApplyReport {
	var rep ApplyReport
	lines, err := DecodeBatch(payload)
	if err != nil {
		a.log.Errorf("invalid voxel batch (%d bytes): %v", len(payload), err)
		rep.Malformed++
		return rep
	}
	for _, line := range lines {
		if err := a.applyLine(line); err != nil {
			a.log.Errorf("skip record: %v", err)
			if errors.Is(err, ErrUnknownVolume) {
				rep.Unknown++
			} else {
				rep.Malformed++
			}
			continue
		}
		rep.Applied++
	}
	return rep
}

func (a *Applier) applyLine(line string) error {
	e, err := ParseRecord(line)
	if err != nil {
		return err
	}
	v, ok := a.volumes.ByName(e.Volume)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVolume, e.Volume)
	}
	a.accessor.Fill(v, e.Pos)
	a.log.Debugf("%s set voxel at %d,%d,%d", v.Name(), e.Pos.X, e.Pos.Y, e.Pos.Z)
	return nil
}
