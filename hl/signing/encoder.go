package signing

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Encodable 可以把自己转换为可编码值的类型（各动作变体实现它）
type Encodable interface {
	EncodeValue() any
}

// EncodingError 遇到不在编码集合内的类型。属于编程错误，Encode 直接 panic 抛出它。
type EncodingError struct {
	Value any
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("signing: 不支持编码的类型 %T", e.Value)
}

// msgpack 类型标记
const (
	tagNil     = 0xc0
	tagFalse   = 0xc2
	tagTrue    = 0xc3
	tagUint8   = 0xcc
	tagUint16  = 0xcd
	tagUint32  = 0xce
	tagStr8    = 0xd9
	tagStr16   = 0xda
	tagStr32   = 0xdb
	tagArray16 = 0xdc
	tagArray32 = 0xdd
	tagMap16   = 0xde
	tagMap32   = 0xdf

	fixStrPrefix   = 0xa0
	fixArrayPrefix = 0x90
	fixMapPrefix   = 0x80

	maxFixInt   = 0x7f
	maxFixStr   = 31
	maxFixArray = 15
	maxFixMap   = 15
)

// Encode 将动作值编码为交易所规范的紧凑二进制（msgpack 子集）。
//
// 支持：nil、bool、整数、浮点、decimal.Decimal、string、[]any/[]string/[]int、
// *OrderedMap、Encodable。负整数、超出 uint32 的整数与浮点数按十进制字符串编码。
// 其他类型 panic(*EncodingError)，不会静默退化为 nil。
func Encode(v any) []byte {
	return AppendEncode(make([]byte, 0, 128), v)
}

// AppendEncode 将 v 的编码追加到 dst
func AppendEncode(dst []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(dst, tagNil)
	case bool:
		if x {
			return append(dst, tagTrue)
		}
		return append(dst, tagFalse)
	case int:
		return appendInt(dst, int64(x))
	case int8:
		return appendInt(dst, int64(x))
	case int16:
		return appendInt(dst, int64(x))
	case int32:
		return appendInt(dst, int64(x))
	case int64:
		return appendInt(dst, x)
	case uint:
		return appendUint(dst, uint64(x))
	case uint8:
		return appendUint(dst, uint64(x))
	case uint16:
		return appendUint(dst, uint64(x))
	case uint32:
		return appendUint(dst, uint64(x))
	case uint64:
		return appendUint(dst, x)
	case float32:
		return appendString(dst, strconv.FormatFloat(float64(x), 'f', -1, 32))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			panic(&EncodingError{Value: v})
		}
		return appendString(dst, strconv.FormatFloat(x, 'f', -1, 64))
	case decimal.Decimal:
		return appendString(dst, x.String())
	case string:
		return appendString(dst, x)
	case []any:
		dst = appendArrayHeader(dst, len(x))
		for _, item := range x {
			dst = AppendEncode(dst, item)
		}
		return dst
	case []string:
		dst = appendArrayHeader(dst, len(x))
		for _, item := range x {
			dst = appendString(dst, item)
		}
		return dst
	case []int:
		dst = appendArrayHeader(dst, len(x))
		for _, item := range x {
			dst = appendInt(dst, int64(item))
		}
		return dst
	case *OrderedMap:
		if x == nil {
			return append(dst, tagNil)
		}
		dst = appendMapHeader(dst, len(x.keys))
		for i, k := range x.keys {
			dst = appendString(dst, k)
			dst = AppendEncode(dst, x.values[i])
		}
		return dst
	case Encodable:
		return AppendEncode(dst, x.EncodeValue())
	default:
		panic(&EncodingError{Value: v})
	}
}

func appendInt(dst []byte, x int64) []byte {
	if x < 0 {
		return appendString(dst, strconv.FormatInt(x, 10))
	}
	return appendUint(dst, uint64(x))
}

func appendUint(dst []byte, x uint64) []byte {
	switch {
	case x <= maxFixInt:
		return append(dst, byte(x))
	case x <= math.MaxUint8:
		return append(dst, tagUint8, byte(x))
	case x <= math.MaxUint16:
		dst = append(dst, tagUint16)
		return binary.BigEndian.AppendUint16(dst, uint16(x))
	case x <= math.MaxUint32:
		dst = append(dst, tagUint32)
		return binary.BigEndian.AppendUint32(dst, uint32(x))
	default:
		return appendString(dst, strconv.FormatUint(x, 10))
	}
}

func appendString(dst []byte, s string) []byte {
	n := len(s)
	switch {
	case n <= maxFixStr:
		dst = append(dst, fixStrPrefix|byte(n))
	case n <= math.MaxUint8:
		dst = append(dst, tagStr8, byte(n))
	case n <= math.MaxUint16:
		dst = append(dst, tagStr16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, tagStr32)
		dst = binary.BigEndian.AppendUint32(dst, uint32(n))
	}
	return append(dst, s...)
}

func appendArrayHeader(dst []byte, n int) []byte {
	switch {
	case n <= maxFixArray:
		return append(dst, fixArrayPrefix|byte(n))
	case n <= math.MaxUint16:
		dst = append(dst, tagArray16)
		return binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, tagArray32)
		return binary.BigEndian.AppendUint32(dst, uint32(n))
	}
}

func appendMapHeader(dst []byte, n int) []byte {
	switch {
	case n <= maxFixMap:
		return append(dst, fixMapPrefix|byte(n))
	case n <= math.MaxUint16:
		dst = append(dst, tagMap16)
		return binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, tagMap32)
		return binary.BigEndian.AppendUint32(dst, uint32(n))
	}
}
