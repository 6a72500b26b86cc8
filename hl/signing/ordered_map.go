package signing

import (
	"bytes"
	"encoding/json"
)

// OrderedMap 保持插入顺序的字符串键映射。
// 交易所对动作做 msgpack 哈希时键顺序有意义，所以动作统一用它表达，不使用 Go map。
type OrderedMap struct {
	keys   []string
	values []any
}

// NewOrderedMap 创建有序映射
func NewOrderedMap(capacity int) *OrderedMap {
	return &OrderedMap{
		keys:   make([]string, 0, capacity),
		values: make([]any, 0, capacity),
	}
}

// Set 设置键值；已存在的键原位替换，不改变顺序
func (m *OrderedMap) Set(key string, value any) *OrderedMap {
	for i, k := range m.keys {
		if k == key {
			m.values[i] = value
			return m
		}
	}
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
	return m
}

// Get 读取键值
func (m *OrderedMap) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for i, k := range m.keys {
		if k == key {
			return m.values[i], true
		}
	}
	return nil, false
}

// Len 键数量
func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys 按插入顺序返回键（副本）
func (m *OrderedMap) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// MarshalJSON 按插入顺序输出 JSON 对象
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		v := m.values[i]
		if e, ok := v.(Encodable); ok {
			v = e.EncodeValue()
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
