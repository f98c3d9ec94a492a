package pack

import (
	"encoding/json"
	"fmt"
	"math/big"

	bridgeerrors "github.com/R3E-Network/bridge_client/internal/errors"
)

// Unmarshal converts the JSON wire form of a value into its decoded form.
//
// Decoded forms: bool, *big.Int for every integer width, string, []byte for
// every byte string width, []interface{} for lists, *StructValue for structs
// and Nil for the nil type.
func Unmarshal(t Type, wire interface{}) (interface{}, error) {
	switch t.Kind {
	case KindNil:
		return Nil, nil
	case KindBool:
		b, ok := wire.(bool)
		if !ok {
			return nil, mismatch(t, wire)
		}
		return b, nil
	case KindU8, KindU16, KindU32, KindU64, KindU128, KindU256:
		return unmarshalInt(t, wire)
	case KindString:
		s, ok := wire.(string)
		if !ok {
			return nil, mismatch(t, wire)
		}
		return s, nil
	case KindBytes, KindBytes32, KindBytes65:
		return unmarshalBytes(t, wire)
	case KindList:
		return unmarshalList(t, wire)
	case KindStruct:
		return unmarshalStruct(t, wire)
	default:
		return nil, bridgeerrors.UnknownType(preview(t.Kind.String()))
	}
}

// UnmarshalJSON decodes raw JSON and unmarshals it as t.
func UnmarshalJSON(t Type, raw []byte) (interface{}, error) {
	var wire interface{}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode pack value: %w", err)
	}
	return Unmarshal(t, wire)
}

func unmarshalInt(t Type, wire interface{}) (*big.Int, error) {
	var s string
	switch w := wire.(type) {
	case string:
		s = w
	case json.Number:
		s = w.String()
	default:
		return nil, mismatch(t, wire)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, bridgeerrors.SchemaMismatch("", fmt.Sprintf("invalid %s %s", t.Kind, preview(s)))
	}
	if err := checkWidth(t, n); err != nil {
		return nil, err
	}
	return n, nil
}

func checkWidth(t Type, n *big.Int) error {
	if n.Sign() < 0 || n.BitLen() > t.Kind.Bits() {
		return bridgeerrors.SchemaMismatch("", fmt.Sprintf("%s out of range for %s", n.String(), t.Kind))
	}
	return nil
}

func unmarshalBytes(t Type, wire interface{}) ([]byte, error) {
	s, ok := wire.(string)
	if !ok {
		return nil, mismatch(t, wire)
	}
	b, err := DecodeBase64(s)
	if err != nil {
		return nil, bridgeerrors.SchemaMismatch("", fmt.Sprintf("invalid base64 for %s", t.Kind))
	}
	if err := checkLength(t, b); err != nil {
		return nil, err
	}
	return b, nil
}

func checkLength(t Type, b []byte) error {
	want := 0
	switch t.Kind {
	case KindBytes32:
		want = 32
	case KindBytes65:
		want = 65
	default:
		return nil
	}
	if len(b) != want {
		return bridgeerrors.SchemaMismatch("", fmt.Sprintf("%s expects %d bytes, got %d", t.Kind, want, len(b)))
	}
	return nil
}

func unmarshalList(t Type, wire interface{}) ([]interface{}, error) {
	items, ok := wire.([]interface{})
	if !ok {
		return nil, mismatch(t, wire)
	}
	if t.Elem == nil {
		return nil, bridgeerrors.SchemaMismatch("", "list type without element type")
	}
	out := make([]interface{}, 0, len(items))
	for i, item := range items {
		v, err := Unmarshal(*t.Elem, item)
		if err != nil {
			return nil, fmt.Errorf("list element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func unmarshalStruct(t Type, wire interface{}) (*StructValue, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	obj, ok := wire.(map[string]interface{})
	if !ok {
		return nil, mismatch(t, wire)
	}
	if err := matchKeys(t, keysOf(obj)); err != nil {
		return nil, err
	}

	out := &StructValue{Fields: make([]FieldValue, 0, len(t.Fields))}
	for _, f := range t.Fields {
		v, err := Unmarshal(f.Type, obj[f.Name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out.Fields = append(out.Fields, FieldValue{Name: f.Name, Value: v})
	}
	return out, nil
}

// matchKeys requires the present keys to equal the declared fields exactly.
func matchKeys(t Type, present map[string]struct{}) error {
	for _, f := range t.Fields {
		if _, ok := present[f.Name]; !ok {
			return bridgeerrors.SchemaMismatch(f.Name, "missing struct field")
		}
	}
	if len(present) == len(t.Fields) {
		return nil
	}
	declared := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		declared[f.Name] = struct{}{}
	}
	for k := range present {
		if _, ok := declared[k]; !ok {
			return bridgeerrors.SchemaMismatch(k, "undeclared struct field")
		}
	}
	return nil
}

func keysOf(obj map[string]interface{}) map[string]struct{} {
	keys := make(map[string]struct{}, len(obj))
	for k := range obj {
		keys[k] = struct{}{}
	}
	return keys
}

func mismatch(t Type, wire interface{}) error {
	return bridgeerrors.SchemaMismatch("", fmt.Sprintf("expected %s, got %s", t.Kind, preview(wire)))
}

// =============================================================================
// Marshal
// =============================================================================

// Marshal converts a decoded value into its JSON wire form.
//
// Structs may be given as *StructValue or map[string]interface{}; integers
// as *big.Int, native integer types or decimal strings.
func Marshal(t Type, v interface{}) (interface{}, error) {
	switch t.Kind {
	case KindNil:
		return nil, nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(t, fmt.Sprintf("%T", v))
		}
		return b, nil
	case KindU8, KindU16, KindU32, KindU64, KindU128, KindU256:
		n, err := toBigInt(v)
		if err != nil {
			return nil, bridgeerrors.SchemaMismatch("", err.Error())
		}
		if err := checkWidth(t, n); err != nil {
			return nil, err
		}
		return n.String(), nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(t, fmt.Sprintf("%T", v))
		}
		return s, nil
	case KindBytes, KindBytes32, KindBytes65:
		b, ok := v.([]byte)
		if !ok {
			return nil, mismatch(t, fmt.Sprintf("%T", v))
		}
		if err := checkLength(t, b); err != nil {
			return nil, err
		}
		return EncodeBase64(b), nil
	case KindList:
		return marshalList(t, v)
	case KindStruct:
		return marshalStruct(t, v)
	default:
		return nil, bridgeerrors.UnknownType(preview(t.Kind.String()))
	}
}

// MarshalJSON marshals v as t and encodes the result.
func MarshalJSON(t Type, v interface{}) ([]byte, error) {
	wire, err := Marshal(t, v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

func marshalList(t Type, v interface{}) ([]interface{}, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, mismatch(t, fmt.Sprintf("%T", v))
	}
	if t.Elem == nil {
		return nil, bridgeerrors.SchemaMismatch("", "list type without element type")
	}
	out := make([]interface{}, 0, len(items))
	for i, item := range items {
		w, err := Marshal(*t.Elem, item)
		if err != nil {
			return nil, fmt.Errorf("list element %d: %w", i, err)
		}
		out = append(out, w)
	}
	return out, nil
}

func marshalStruct(t Type, v interface{}) (map[string]interface{}, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	fields, err := structFields(t, v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(t.Fields))
	for _, f := range t.Fields {
		w, err := Marshal(f.Type, fields[f.Name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[f.Name] = w
	}
	return out, nil
}

// structFields normalises a struct input to a map after checking its keys.
func structFields(t Type, v interface{}) (map[string]interface{}, error) {
	var fields map[string]interface{}
	switch s := v.(type) {
	case *StructValue:
		fields = make(map[string]interface{}, len(s.Fields))
		for _, f := range s.Fields {
			if _, dup := fields[f.Name]; dup {
				return nil, bridgeerrors.SchemaMismatch(f.Name, "duplicate field in struct value")
			}
			fields[f.Name] = f.Value
		}
	case map[string]interface{}:
		fields = s
	default:
		return nil, mismatch(t, fmt.Sprintf("%T", v))
	}
	if err := matchKeys(t, keysOf(fields)); err != nil {
		return nil, err
	}
	return fields, nil
}
