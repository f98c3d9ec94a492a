package pack

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bridgeerrors "github.com/R3E-Network/bridge_client/internal/errors"
)

// Binary type identifiers.
var typeIDs = map[TypeKind]byte{
	KindNil:     0,
	KindBool:    1,
	KindU8:      2,
	KindU16:     3,
	KindU32:     4,
	KindU64:     5,
	KindU128:    6,
	KindU256:    7,
	KindString:  10,
	KindBytes:   11,
	KindBytes32: 12,
	KindBytes65: 13,
	KindList:    20,
	KindStruct:  21,
}

// EncodeString writes a u32 length prefix followed by s.
func EncodeString(s string) []byte {
	out := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(out, uint32(len(s)))
	copy(out[4:], s)
	return out
}

// EncodeType returns the binary form of a type definition.
func EncodeType(t Type) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeType(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeType(buf *bytes.Buffer, t Type) error {
	id, ok := typeIDs[t.Kind]
	if !ok {
		return bridgeerrors.UnknownType(t.Kind.String())
	}
	buf.WriteByte(id)
	switch t.Kind {
	case KindList:
		if t.Elem == nil {
			return bridgeerrors.SchemaMismatch("", "list type without element type")
		}
		return writeType(buf, *t.Elem)
	case KindStruct:
		writeLen(buf, len(t.Fields))
		for _, f := range t.Fields {
			buf.Write(EncodeString(f.Name))
			if err := writeType(buf, f.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

// Encode returns the deterministic binary form of v as t.
// Integers are fixed-width big-endian; strings, bytes and lists carry a u32
// length prefix; struct fields follow declaration order.
func Encode(t Type, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, t, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTyped returns the type encoding followed by the value encoding.
func EncodeTyped(t Type, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeType(&buf, t); err != nil {
		return nil, err
	}
	if err := writeValue(&buf, t, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, t Type, v interface{}) error {
	switch t.Kind {
	case KindNil:
		return nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(t, fmt.Sprintf("%T", v))
		}
		if b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		return nil
	case KindU8, KindU16, KindU32, KindU64, KindU128, KindU256:
		n, err := toBigInt(v)
		if err != nil {
			return bridgeerrors.SchemaMismatch("", err.Error())
		}
		if err := checkWidth(t, n); err != nil {
			return err
		}
		fixed := make([]byte, t.Kind.Bits()/8)
		n.FillBytes(fixed)
		buf.Write(fixed)
		return nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return mismatch(t, fmt.Sprintf("%T", v))
		}
		buf.Write(EncodeString(s))
		return nil
	case KindBytes, KindBytes32, KindBytes65:
		b, ok := v.([]byte)
		if !ok {
			return mismatch(t, fmt.Sprintf("%T", v))
		}
		if err := checkLength(t, b); err != nil {
			return err
		}
		if t.Kind == KindBytes {
			writeLen(buf, len(b))
		}
		buf.Write(b)
		return nil
	case KindList:
		items, ok := v.([]interface{})
		if !ok {
			return mismatch(t, fmt.Sprintf("%T", v))
		}
		if t.Elem == nil {
			return bridgeerrors.SchemaMismatch("", "list type without element type")
		}
		writeLen(buf, len(items))
		for _, item := range items {
			if err := writeValue(buf, *t.Elem, item); err != nil {
				return err
			}
		}
		return nil
	case KindStruct:
		fields, err := structFields(t, v)
		if err != nil {
			return err
		}
		for _, f := range t.Fields {
			if err := writeValue(buf, f.Type, fields[f.Name]); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
		return nil
	default:
		return bridgeerrors.UnknownType(t.Kind.String())
	}
}

func writeLen(buf *bytes.Buffer, n int) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(n))
	buf.Write(l[:])
}
