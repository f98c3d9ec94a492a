package pack

import (
	"encoding/json"
	"fmt"
)

// TypedValue is a self-describing value: its type travels with it.
type TypedValue struct {
	T Type
	V interface{}
}

type typedWire struct {
	T json.RawMessage `json:"t"`
	V json.RawMessage `json:"v"`
}

// MarshalJSON encodes {"t": type, "v": wire value}.
func (tv TypedValue) MarshalJSON() ([]byte, error) {
	wire, err := Marshal(tv.T, tv.V)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		T Type        `json:"t"`
		V interface{} `json:"v"`
	}{T: tv.T, V: wire})
}

// UnmarshalJSON decodes the type first, then the value against it.
func (tv *TypedValue) UnmarshalJSON(data []byte) error {
	var w typedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode typed value: %w", err)
	}
	var t Type
	if err := json.Unmarshal(w.T, &t); err != nil {
		return err
	}
	raw := w.V
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	v, err := UnmarshalJSON(t, raw)
	if err != nil {
		return err
	}
	tv.T, tv.V = t, v
	return nil
}

// Struct returns V as a struct value, or nil if it is not one.
func (tv TypedValue) Struct() *StructValue {
	s, _ := tv.V.(*StructValue)
	return s
}
