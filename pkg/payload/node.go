// Package payload reaches into the schema-less JSON snapshots that devices
// submit. Every lookup returns a Node that may be absent; a missing key, a
// null value and a value of the wrong shape all look the same to callers,
// so extraction sites never need their own error handling.
package payload

import (
	"encoding/json"
	"strings"
)

// Object is a decoded JSON object.
type Object map[string]any

// Node is the result of an optional lookup into a payload tree.
// The zero Node is absent.
type Node struct {
	value   any
	present bool
}

// From wraps a payload as the root of a lookup. A nil payload is absent.
func From(obj Object) Node {
	if obj == nil {
		return Node{}
	}
	return Node{value: obj, present: true}
}

// Of wraps an arbitrary decoded value. nil (JSON null) is absent.
func Of(v any) Node {
	if v == nil {
		return Node{}
	}
	return Node{value: v, present: true}
}

// Present reports whether the lookup reached a non-null value.
func (n Node) Present() bool {
	return n.present
}

// Raw returns the underlying decoded value, or nil when absent.
func (n Node) Raw() any {
	return n.value
}

// Get descends one level. It is absent unless n is an object holding key.
func (n Node) Get(key string) Node {
	obj, ok := n.Object()
	if !ok {
		return Node{}
	}
	return Of(obj[key])
}

// Echo returns the value stored under key unmodified, null included, or
// def when n is not an object or has no such key.
func (n Node) Echo(key string, def any) any {
	obj, ok := n.Object()
	if !ok {
		return def
	}
	if v, exists := obj[key]; exists {
		return v
	}
	return def
}

// Path descends a dotted path such as "networkInfo.wifiInfo.ssid".
func (n Node) Path(path string) Node {
	cur := n
	for _, key := range strings.Split(path, ".") {
		cur = cur.Get(key)
		if !cur.present {
			return Node{}
		}
	}
	return cur
}

// Object returns the node as an object.
func (n Node) Object() (Object, bool) {
	switch v := n.value.(type) {
	case Object:
		return v, v != nil
	case map[string]any:
		return Object(v), v != nil
	}
	return nil, false
}

// String returns the node as a string.
func (n Node) String() (string, bool) {
	s, ok := n.value.(string)
	return s, ok
}

// Bool returns the node as a boolean.
func (n Node) Bool() (bool, bool) {
	b, ok := n.value.(bool)
	return b, ok
}

// Float returns the node as a float64. Payloads arrive through the JSON,
// CBOR and SQL decoders, so every Go numeric kind is accepted. Booleans and
// numeric-looking strings are not numbers.
func (n Node) Float() (float64, bool) {
	switch v := n.value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
