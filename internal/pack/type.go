// Package pack implements the self-describing value encoding used by the
// signer network's RPC payloads.
//
// A value travels as a typed pair {t, v}: t is a type definition and v is the
// JSON wire form of the value. Integers are decimal strings, byte strings are
// base64, structs are objects whose keys must match the declared fields
// exactly. The same types also have a deterministic binary form used for
// transaction hashing.
package pack

import (
	"encoding/json"
	"fmt"

	bridgeerrors "github.com/R3E-Network/bridge_client/internal/errors"
)

// TypeKind enumerates the primitive and composite pack types.
type TypeKind uint8

const (
	KindNil TypeKind = iota
	KindBool
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindU256
	KindString
	KindBytes
	KindBytes32
	KindBytes65
	KindList
	KindStruct
)

var kindNames = map[TypeKind]string{
	KindNil:     "nil",
	KindBool:    "bool",
	KindU8:      "u8",
	KindU16:     "u16",
	KindU32:     "u32",
	KindU64:     "u64",
	KindU128:    "u128",
	KindU256:    "u256",
	KindString:  "string",
	KindBytes:   "bytes",
	KindBytes32: "bytes32",
	KindBytes65: "bytes65",
	KindList:    "list",
	KindStruct:  "struct",
}

// String returns the wire name of the kind.
func (k TypeKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", k)
}

// IsInteger reports whether k is one of the unsigned integer kinds.
func (k TypeKind) IsInteger() bool {
	return k >= KindU8 && k <= KindU256
}

// Bits returns the width of an integer kind, or 0.
func (k TypeKind) Bits() int {
	switch k {
	case KindU8:
		return 8
	case KindU16:
		return 16
	case KindU32:
		return 32
	case KindU64:
		return 64
	case KindU128:
		return 128
	case KindU256:
		return 256
	default:
		return 0
	}
}

// Type is a pack type definition.
type Type struct {
	Kind   TypeKind
	Elem   *Type       // KindList only
	Fields []FieldType // KindStruct only, in declaration order
}

// FieldType declares one named struct field.
type FieldType struct {
	Name string
	Type Type
}

// Primitive types.
var (
	NilType     = Type{Kind: KindNil}
	BoolType    = Type{Kind: KindBool}
	U8Type      = Type{Kind: KindU8}
	U16Type     = Type{Kind: KindU16}
	U32Type     = Type{Kind: KindU32}
	U64Type     = Type{Kind: KindU64}
	U128Type    = Type{Kind: KindU128}
	U256Type    = Type{Kind: KindU256}
	StringType  = Type{Kind: KindString}
	BytesType   = Type{Kind: KindBytes}
	Bytes32Type = Type{Kind: KindBytes32}
	Bytes65Type = Type{Kind: KindBytes65}
)

// List returns a homogeneous list type.
func List(elem Type) Type {
	return Type{Kind: KindList, Elem: &elem}
}

// Struct returns a struct type with the given fields.
func Struct(fields ...FieldType) Type {
	return Type{Kind: KindStruct, Fields: fields}
}

// Field declares a struct field.
func Field(name string, t Type) FieldType {
	return FieldType{Name: name, Type: t}
}

// Validate checks that a struct type declares each key once, recursively.
func (t Type) Validate() error {
	switch t.Kind {
	case KindList:
		if t.Elem == nil {
			return bridgeerrors.SchemaMismatch("", "list type without element type")
		}
		return t.Elem.Validate()
	case KindStruct:
		seen := make(map[string]struct{}, len(t.Fields))
		for _, f := range t.Fields {
			if _, dup := seen[f.Name]; dup {
				return bridgeerrors.SchemaMismatch(f.Name, "duplicate field in struct type")
			}
			seen[f.Name] = struct{}{}
			if err := f.Type.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// String renders the type in its JSON wire form.
func (t Type) String() string {
	b, err := json.Marshal(t)
	if err != nil {
		return t.Kind.String()
	}
	return string(b)
}

// MarshalJSON encodes the type definition in the wire grammar.
func (t Type) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case KindList:
		if t.Elem == nil {
			return nil, bridgeerrors.SchemaMismatch("", "list type without element type")
		}
		return json.Marshal(map[string]Type{"list": *t.Elem})
	case KindStruct:
		fields := make([]map[string]Type, 0, len(t.Fields))
		for _, f := range t.Fields {
			fields = append(fields, map[string]Type{f.Name: f.Type})
		}
		return json.Marshal(map[string]interface{}{"struct": fields})
	default:
		name, ok := kindNames[t.Kind]
		if !ok {
			return nil, bridgeerrors.UnknownType(t.Kind.String())
		}
		return json.Marshal(name)
	}
}

// UnmarshalJSON decodes a type definition from the wire grammar.
func (t *Type) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseType(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType converts a decoded JSON type definition into a Type.
func ParseType(raw interface{}) (Type, error) {
	switch def := raw.(type) {
	case string:
		for kind, name := range kindNames {
			if name == def && kind != KindList && kind != KindStruct {
				return Type{Kind: kind}, nil
			}
		}
	case map[string]interface{}:
		if elem, ok := def["list"]; ok && len(def) == 1 {
			et, err := ParseType(elem)
			if err != nil {
				return Type{}, err
			}
			return List(et), nil
		}
		if fields, ok := def["struct"].([]interface{}); ok && len(def) == 1 {
			return parseStruct(fields)
		}
	}
	return Type{}, bridgeerrors.UnknownType(preview(raw))
}

func parseStruct(defs []interface{}) (Type, error) {
	fields := make([]FieldType, 0, len(defs))
	for _, d := range defs {
		entry, ok := d.(map[string]interface{})
		if !ok || len(entry) != 1 {
			return Type{}, bridgeerrors.UnknownType(preview(d))
		}
		for name, ft := range entry {
			parsed, err := ParseType(ft)
			if err != nil {
				return Type{}, err
			}
			fields = append(fields, Field(name, parsed))
		}
	}
	st := Struct(fields...)
	if err := st.Validate(); err != nil {
		return Type{}, err
	}
	return st, nil
}

const previewLimit = 20

// preview renders v as JSON and truncates it for error messages.
func preview(v interface{}) string {
	b, err := json.Marshal(v)
	s := string(b)
	if err != nil {
		s = fmt.Sprintf("%v", v)
	}
	if r := []rune(s); len(r) > previewLimit {
		return string(r[:previewLimit-3]) + "..."
	}
	return s
}
