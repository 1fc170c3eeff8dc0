package notice

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Meta is an insertion-ordered string map. The zero value is ready to use.
// Setting an existing key replaces its value in place.
type Meta struct {
	keys []string
	vals map[string]string
}

// NewMeta builds a Meta from alternating key/value arguments.
// A trailing key without a value is ignored.
func NewMeta(kv ...string) Meta {
	var m Meta
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(kv[i], kv[i+1])
	}
	return m
}

// Set stores v under k, appending k if it is new.
func (m *Meta) Set(k, v string) {
	if m.vals == nil {
		m.vals = make(map[string]string)
	}
	if _, ok := m.vals[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.vals[k] = v
}

// SetDefault stores v under k only if k is absent.
func (m *Meta) SetDefault(k, v string) {
	if _, ok := m.vals[k]; ok {
		return
	}
	m.Set(k, v)
}

// Get returns the value for k or "".
func (m Meta) Get(k string) string { return m.vals[k] }

// Lookup returns the value for k and whether it was present.
func (m Meta) Lookup(k string) (string, bool) {
	v, ok := m.vals[k]
	return v, ok
}

// Delete removes k, keeping the order of the remaining keys.
func (m *Meta) Delete(k string) {
	if _, ok := m.vals[k]; !ok {
		return
	}
	delete(m.vals, k)
	for i, key := range m.keys {
		if key == k {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys.
func (m Meta) Len() int { return len(m.keys) }

// Keys returns a copy of the keys in insertion order.
func (m Meta) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Each calls fn for every entry in insertion order.
func (m Meta) Each(fn func(k, v string)) {
	for _, k := range m.keys {
		fn(k, m.vals[k])
	}
}

// Clone returns an independent copy.
func (m Meta) Clone() Meta {
	var out Meta
	m.Each(out.Set)
	return out
}

// Merge copies every entry of o into m. Values from o win; new keys are
// appended in o's order.
func (m *Meta) Merge(o Meta) {
	o.Each(m.Set)
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m Meta) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, m.vals[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order. Non-string scalar
// values are stored in their literal form; nested objects and arrays are
// flattened into their compact JSON text.
func (m *Meta) UnmarshalJSON(data []byte) error {
	*m = Meta{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("meta: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("meta: expected string key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("meta: value for %q: %w", key, err)
		}
		m.Set(key, rawToString(raw))
	}
	_, err = dec.Token()
	return err
}

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err == nil {
		return compact.String()
	}
	return string(trimmed)
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
