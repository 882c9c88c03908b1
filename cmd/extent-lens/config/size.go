package config

import (
	"fmt"
	"math/bits"
	"reflect"
	"strings"
	"unicode"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

// Size is an unsigned integer value that represents a size in bytes.
type Size uint64

// SizeHook returns a mapstructure decode hook func that converts strings like
// "4m" or "1 GB" to a Size.
func SizeHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(Size(0)) {
			return data, nil
		}

		return Size(parseSizeInBytes(cast.ToString(data))), nil
	}
}

// safeMul returns size*multiplier.
// Returns 0 if overflow is detected.
func safeMul(size uint64, multiplier uint64) uint64 {
	hi, lo := bits.Mul64(size, multiplier)
	if hi != 0 {
		return 0
	}
	return lo
}

// parseSizeInBytes converts strings like 1GB or 12 mb into an unsigned
// integer number of bytes. Both `k` and `kb` forms are accepted.
func parseSizeInBytes(sizeStr string) uint64 {
	sizeStr = strings.TrimSpace(sizeStr)
	lastChar := len(sizeStr) - 1
	multiplier := uint64(1)

	if lastChar > 0 {
		if sizeStr[lastChar] == 'b' || sizeStr[lastChar] == 'B' {
			lastChar--
		}
		if lastChar >= 0 {
			switch unicode.ToLower(rune(sizeStr[lastChar])) {
			case 'k':
				multiplier = 1 << 10
				sizeStr = strings.TrimSpace(sizeStr[:lastChar])
			case 'm':
				multiplier = 1 << 20
				sizeStr = strings.TrimSpace(sizeStr[:lastChar])
			case 'g':
				multiplier = 1 << 30
				sizeStr = strings.TrimSpace(sizeStr[:lastChar])
			case 't':
				multiplier = 1 << 40
				sizeStr = strings.TrimSpace(sizeStr[:lastChar])
			default:
				sizeStr = strings.TrimSpace(sizeStr[:lastChar+1])
			}
		}
	}

	return safeMul(cast.ToUint64(sizeStr), multiplier)
}

// ParseSize parses a size string like "64m". Empty string is zero.
func ParseSize(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v := parseSizeInBytes(s)
	if v == 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return v, nil
}
