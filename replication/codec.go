package replication

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// 线上格式：UTF-16LE 文本，无 BOM
var wireEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// separatorLen 记录分隔符 '\n' 的编码长度
const separatorLen = 2

// EncodedLen 字符串按 UTF-16 编码后的字节数（代理对 4 字节，其余 2 字节）
func EncodedLen(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 4
		} else {
			n += 2
		}
	}
	return n
}

// EncodeBatch 将记录以 '\n' 连接（末尾无换行）并编码
func EncodeBatch(records []string) ([]byte, error) {
	b, err := wireEncoding.NewEncoder().String(strings.Join(records, recordSep))
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return []byte(b), nil
}

// DecodeBatch 解码并按行切分
func DecodeBatch(payload []byte) ([]string, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: odd payload length %d", ErrMalformedRecord, len(payload))
	}
	if len(payload) == 0 {
		return nil, nil
	}
	s, err := wireEncoding.NewDecoder().Bytes(payload)
	if err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return strings.Split(string(s), recordSep), nil
}
