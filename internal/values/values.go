// Package values defines the shared row-level vocabulary used by the
// storage, index and execution layers: Value, Tuple, Schema, Field and Rid
// (spec §3).
package values

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
)

// DataType is a column's SQL type.
type DataType int

const (
	Integer DataType = iota
	Float
	Boolean
	Text
	Blob
	Timestamp
)

func (d DataType) String() string {
	switch d {
	case Integer:
		return "INTEGER"
	case Float:
		return "FLOAT"
	case Boolean:
		return "BOOLEAN"
	case Text:
		return "TEXT"
	case Blob:
		return "BLOB"
	case Timestamp:
		return "TIMESTAMP"
	default:
		return "UNKNOWN"
	}
}

// FixedSize reports the encoded width for fixed-size types, or (0, false)
// for variable-length ones (Text, Blob).
func (d DataType) FixedSize() (int, bool) {
	switch d {
	case Integer:
		return 8, true
	case Float:
		return 8, true
	case Boolean:
		return 1, true
	case Timestamp:
		return 8, true
	default:
		return 0, false
	}
}

// Field describes one output column of a Schema.
type Field struct {
	Name     string
	Table    string // optional qualifier; "" if none
	DataType DataType
	Nullable bool
	// Visible is false for tombstoned columns left behind by a logical
	// DROP COLUMN: the physical tuple layout still carries the value so
	// older encoded rows stay valid, but the column is hidden from SELECT *
	// and name resolution.
	Visible bool
}

// Schema is an ordered list of fields.
type Schema struct {
	Fields []Field
}

// VisibleSchema returns the subset of fields that are not tombstoned.
func (s Schema) VisibleSchema() Schema {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Visible {
			out = append(out, f)
		}
	}
	return Schema{Fields: out}
}

// FieldIndex returns the index in Fields of the visible field whose Name
// equals name exactly (case-sensitive, no table-qualifier handling), or -1
// if there is none.
func (s Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Visible && f.Name == name {
			return i
		}
	}
	return -1
}

// Value is a single column's runtime value.
type Value struct {
	typ  valueTag
	i    int64
	f    float64
	b    bool
	text string
	blob []byte
}

type valueTag int

const (
	tagNull valueTag = iota
	tagInteger
	tagFloat
	tagBoolean
	tagText
	tagBlob
	tagTimestamp
)

func Null() Value                { return Value{typ: tagNull} }
func IntVal(v int64) Value       { return Value{typ: tagInteger, i: v} }
func FloatVal(v float64) Value   { return Value{typ: tagFloat, f: v} }
func BoolVal(v bool) Value       { return Value{typ: tagBoolean, b: v} }
func TextVal(v string) Value     { return Value{typ: tagText, text: v} }
func BlobVal(v []byte) Value     { return Value{typ: tagBlob, blob: v} }
func TimestampVal(v int64) Value { return Value{typ: tagTimestamp, i: v} }

func (v Value) IsNull() bool     { return v.typ == tagNull }
func (v Value) IsInteger() bool  { return v.typ == tagInteger }
func (v Value) IsFloat() bool    { return v.typ == tagFloat }
func (v Value) IsBoolean() bool  { return v.typ == tagBoolean }
func (v Value) IsText() bool     { return v.typ == tagText }
func (v Value) IsBlob() bool     { return v.typ == tagBlob }
func (v Value) IsTimestamp() bool { return v.typ == tagTimestamp }

func (v Value) Int() int64     { return v.i }
func (v Value) Float64() float64 { return v.f }
func (v Value) Bool() bool     { return v.b }
func (v Value) Text() string   { return v.text }
func (v Value) Blob() []byte   { return v.blob }

func (v Value) String() string {
	switch v.typ {
	case tagNull:
		return "NULL"
	case tagInteger:
		return fmt.Sprintf("%d", v.i)
	case tagFloat:
		return fmt.Sprintf("%g", v.f)
	case tagBoolean:
		return fmt.Sprintf("%t", v.b)
	case tagText:
		return v.text
	case tagBlob:
		return fmt.Sprintf("%x", v.blob)
	case tagTimestamp:
		return fmt.Sprintf("%d", v.i)
	default:
		return "?"
	}
}

// Tuple is an ordered sequence of Values matching a Schema.
type Tuple struct {
	Values []Value
}

func NewTuple(vs []Value) Tuple { return Tuple{Values: vs} }

func (t Tuple) Len() int { return len(t.Values) }

func (t Tuple) Get(i int) (Value, bool) {
	if i < 0 || i >= len(t.Values) {
		return Value{}, false
	}
	return t.Values[i], true
}

// Concat appends other's values after t's, used by NestedLoopJoin.
func (t Tuple) Concat(other Tuple) Tuple {
	out := make([]Value, 0, len(t.Values)+len(other.Values))
	out = append(out, t.Values...)
	out = append(out, other.Values...)
	return Tuple{Values: out}
}

// Rid is a Record Identifier locating a tuple in a table heap.
type Rid struct {
	PageID uint64
	SlotID uint32
}

// EncodeTuple packs a tuple per spec §3/§6: one null-flag byte per field,
// then fixed-size little-endian payload for numerics/bool/timestamp, or a
// u32 length prefix plus bytes for text/blob.
func EncodeTuple(t Tuple, schema Schema) ([]byte, error) {
	if t.Len() != len(schema.Fields) {
		return nil, chronoserr.New(chronoserr.KindExecution, "tuple length does not match schema")
	}
	buf := make([]byte, 0, 16*len(schema.Fields))
	for i, f := range schema.Fields {
		v := t.Values[i]
		if v.IsNull() {
			buf = append(buf, 1)
			continue
		}
		buf = append(buf, 0)
		switch f.DataType {
		case Integer:
			if !v.IsInteger() {
				return nil, schemaMismatch(f, v)
			}
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.i))
			buf = append(buf, b[:]...)
		case Timestamp:
			if !v.IsInteger() && !v.IsTimestamp() {
				return nil, schemaMismatch(f, v)
			}
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.i))
			buf = append(buf, b[:]...)
		case Float:
			if !v.IsFloat() {
				return nil, schemaMismatch(f, v)
			}
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.f))
			buf = append(buf, b[:]...)
		case Boolean:
			if !v.IsBoolean() {
				return nil, schemaMismatch(f, v)
			}
			if v.b {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case Text:
			if !v.IsText() {
				return nil, schemaMismatch(f, v)
			}
			var lb [4]byte
			binary.LittleEndian.PutUint32(lb[:], uint32(len(v.text)))
			buf = append(buf, lb[:]...)
			buf = append(buf, v.text...)
		case Blob:
			if !v.IsBlob() {
				return nil, schemaMismatch(f, v)
			}
			var lb [4]byte
			binary.LittleEndian.PutUint32(lb[:], uint32(len(v.blob)))
			buf = append(buf, lb[:]...)
			buf = append(buf, v.blob...)
		default:
			return nil, chronoserr.New(chronoserr.KindSchema, "unknown data type in schema")
		}
	}
	return buf, nil
}

// DecodeTuple reverses EncodeTuple.
func DecodeTuple(schema Schema, data []byte) (Tuple, error) {
	values := make([]Value, len(schema.Fields))
	off := 0
	for i, f := range schema.Fields {
		if off >= len(data) {
			return Tuple{}, chronoserr.New(chronoserr.KindExecution, "tuple bytes truncated")
		}
		isNull := data[off] == 1
		off++
		if isNull {
			values[i] = Null()
			continue
		}
		switch f.DataType {
		case Integer:
			b, err := readExact(data, off, 8)
			if err != nil {
				return Tuple{}, err
			}
			values[i] = IntVal(int64(binary.LittleEndian.Uint64(b)))
			off += 8
		case Timestamp:
			b, err := readExact(data, off, 8)
			if err != nil {
				return Tuple{}, err
			}
			values[i] = TimestampVal(int64(binary.LittleEndian.Uint64(b)))
			off += 8
		case Float:
			b, err := readExact(data, off, 8)
			if err != nil {
				return Tuple{}, err
			}
			values[i] = FloatVal(math.Float64frombits(binary.LittleEndian.Uint64(b)))
			off += 8
		case Boolean:
			b, err := readExact(data, off, 1)
			if err != nil {
				return Tuple{}, err
			}
			values[i] = BoolVal(b[0] != 0)
			off += 1
		case Text:
			lb, err := readExact(data, off, 4)
			if err != nil {
				return Tuple{}, err
			}
			n := int(binary.LittleEndian.Uint32(lb))
			off += 4
			b, err := readExact(data, off, n)
			if err != nil {
				return Tuple{}, err
			}
			values[i] = TextVal(string(b))
			off += n
		case Blob:
			lb, err := readExact(data, off, 4)
			if err != nil {
				return Tuple{}, err
			}
			n := int(binary.LittleEndian.Uint32(lb))
			off += 4
			b, err := readExact(data, off, n)
			if err != nil {
				return Tuple{}, err
			}
			dst := make([]byte, n)
			copy(dst, b)
			values[i] = BlobVal(dst)
			off += n
		default:
			return Tuple{}, chronoserr.New(chronoserr.KindSchema, "unknown data type in schema")
		}
	}
	return Tuple{Values: values}, nil
}

// EncodedLen returns the byte length EncodeTuple would produce; it builds
// the encoding with EncodeTuple and measures it. Used by
// TableInfo.UpdateTuples to decide whether an update can be applied in place.
func EncodedLen(t Tuple, schema Schema) (int, error) {
	enc, err := EncodeTuple(t, schema)
	if err != nil {
		return 0, err
	}
	return len(enc), nil
}

func schemaMismatch(f Field, v Value) error {
	return chronoserr.New(chronoserr.KindSchema, fmt.Sprintf("value %s does not match column %q of type %s", v, f.Name, f.DataType))
}

func readExact(data []byte, off, n int) ([]byte, error) {
	if off+n > len(data) {
		return nil, chronoserr.New(chronoserr.KindExecution, "tuple bytes truncated")
	}
	return data[off : off+n], nil
}
