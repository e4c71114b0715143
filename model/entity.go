package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Entity is one backend record as decoded from JSON. Numbers are kept as
// json.Number so identifiers round-trip unchanged.
type Entity map[string]any

// ID returns the identifier stored under field in its string form.
func (e Entity) ID(field string) string {
	return Stringify(e[field])
}

// Clone returns a shallow copy of e.
func (e Entity) Clone() Entity {
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Merge returns a copy of e overlaid with the keys of update.
func (e Entity) Merge(update Entity) Entity {
	out := e.Clone()
	for k, v := range update {
		out[k] = v
	}
	return out
}

// Stringify renders a decoded JSON scalar as a string. nil becomes "".
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}

// PayloadField is one key of a create or update request body.
type PayloadField struct {
	Key   string
	Value any
}

// Payload is an ordered request body. Values are strings, bools or *Upload.
type Payload []PayloadField

// Get returns the value stored under key.
func (p Payload) Get(key string) (any, bool) {
	for _, f := range p {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// HasUpload reports whether any value is a file.
func (p Payload) HasUpload() bool {
	for _, f := range p {
		if u, ok := f.Value.(*Upload); ok && u != nil {
			return true
		}
	}
	return false
}

// OrderItem is one element of a reorder request.
type OrderItem struct {
	ID    any `json:"id"`
	Order int `json:"order"`
}
