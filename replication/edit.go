package replication

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"concretetool/voxel"
)

var (
	// ErrMalformedRecord 字段数不为 4 或坐标不是整数
	ErrMalformedRecord = errors.New("malformed edit record")
	// ErrUnknownVolume 目标体积不存在（可能已被移除）
	ErrUnknownVolume = errors.New("unknown volume")
	// ErrRecordTooLarge 单条记录编码后已超过批次上限，永远无法发送
	ErrRecordTooLarge = errors.New("edit record exceeds batch limit")
)

const (
	fieldSep  = ";"
	recordSep = "\n"
)

// Edit 一次待复制的体素写入。创建后不可变。
type Edit struct {
	Pos    voxel.Vec3I
	Volume string
}

// Record 序列化为 "x;y;z;volumeName"
func (e Edit) Record() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(e.Pos.X))
	b.WriteString(fieldSep)
	b.WriteString(strconv.Itoa(e.Pos.Y))
	b.WriteString(fieldSep)
	b.WriteString(strconv.Itoa(e.Pos.Z))
	b.WriteString(fieldSep)
	b.WriteString(e.Volume)
	return b.String()
}

func (e Edit) String() string { return e.Record() }

// ParseRecord 解析单行记录。体积名允许包含 ';'（只切 4 段）。
func ParseRecord(line string) (Edit, error) {
	fields := strings.SplitN(line, fieldSep, 4)
	if len(fields) != 4 {
		return Edit{}, fmt.Errorf("%w: %d fields in %q", ErrMalformedRecord, len(fields), line)
	}
	var xyz [3]int
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return Edit{}, fmt.Errorf("%w: bad coordinate %q in %q", ErrMalformedRecord, fields[i], line)
		}
		xyz[i] = n
	}
	return Edit{Pos: voxel.Vec3I{X: xyz[0], Y: xyz[1], Z: xyz[2]}, Volume: fields[3]}, nil
}
