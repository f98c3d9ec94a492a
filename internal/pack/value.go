package pack

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

type nilValue struct{}

// String renders the nil value.
func (nilValue) String() string { return "nil" }

// Nil is the explicit empty value produced for the nil type.
// It is distinct from a struct field that is absent.
var Nil = nilValue{}

// IsNil reports whether v is the explicit nil value.
func IsNil(v interface{}) bool {
	_, ok := v.(nilValue)
	return ok
}

// FieldValue is one decoded struct field.
type FieldValue struct {
	Name  string
	Value interface{}
}

// StructValue is a decoded struct, fields in type declaration order.
type StructValue struct {
	Fields []FieldValue
}

// NewStruct builds a StructValue from alternating name, value pairs.
func NewStruct(kv ...interface{}) *StructValue {
	s := &StructValue{Fields: make([]FieldValue, 0, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		s.Fields = append(s.Fields, FieldValue{Name: kv[i].(string), Value: kv[i+1]})
	}
	return s
}

// Get returns the named field and whether it exists.
func (s *StructValue) Get(name string) (interface{}, bool) {
	if s == nil {
		return nil, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Int returns the named field as an integer.
func (s *StructValue) Int(name string) (*big.Int, bool) {
	v, ok := s.Get(name)
	if !ok {
		return nil, false
	}
	n, ok := v.(*big.Int)
	return n, ok
}

// Bytes returns the named field as a byte string.
func (s *StructValue) Bytes(name string) ([]byte, bool) {
	v, ok := s.Get(name)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Str returns the named field as a string.
func (s *StructValue) Str(name string) (string, bool) {
	v, ok := s.Get(name)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Names returns the field names in order.
func (s *StructValue) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// EncodeBase64 is the canonical byte string encoding (URL alphabet, unpadded).
func EncodeBase64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64 accepts both base64 alphabets, padded or not.
func DecodeBase64(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	if strings.ContainsAny(trimmed, "+/") {
		return base64.RawStdEncoding.DecodeString(trimmed)
	}
	return base64.RawURLEncoding.DecodeString(trimmed)
}

func toBigInt(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return n, nil
	case big.Int:
		return &n, nil
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case string:
		out, ok := new(big.Int).SetString(n, 10)
		if !ok {
			return nil, fmt.Errorf("invalid decimal %q", n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected integer value of type %T", v)
	}
}
