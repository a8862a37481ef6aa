package values

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
)

// IndexKeyType tags the shape of an index key (spec §3, §6 header page).
type IndexKeyType uint8

const (
	KeyTypeInteger   IndexKeyType = 1
	KeyTypeText      IndexKeyType = 2
	KeyTypeComposite IndexKeyType = 3
)

// DefaultTextKeySize is the padded width used for Text keys when the index
// definition doesn't override it.
const DefaultTextKeySize = 128

// IndexKey is a fixed-size index key: Integer, Text (length-capped,
// zero-padded to a fixed width) or Composite (a tuple of non-composite
// keys, declared order).
type IndexKey struct {
	typ        IndexKeyType
	i          int64
	text       string
	components []IndexKey
}

// String renders the key for diagnostics and constraint-error messages.
func (k IndexKey) String() string {
	switch k.typ {
	case KeyTypeInteger:
		return fmt.Sprintf("%d", k.i)
	case KeyTypeText:
		return k.text
	case KeyTypeComposite:
		parts := make([]string, len(k.components))
		for i, c := range k.components {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return "?"
	}
}

func IntKey(v int64) IndexKey   { return IndexKey{typ: KeyTypeInteger, i: v} }
func TextKey(v string) IndexKey { return IndexKey{typ: KeyTypeText, text: v} }
func CompositeKey(parts ...IndexKey) IndexKey {
	return IndexKey{typ: KeyTypeComposite, components: parts}
}

// FromValue converts a runtime Value into an index key of the given type.
func FromValue(v Value, typ IndexKeyType) (IndexKey, error) {
	if v.IsNull() {
		return IndexKey{}, chronoserr.New(chronoserr.KindExecution, "cannot use NULL value as index key")
	}
	switch typ {
	case KeyTypeInteger:
		if v.IsInteger() || v.IsTimestamp() {
			return IntKey(v.Int()), nil
		}
	case KeyTypeText:
		if v.IsText() {
			return TextKey(v.Text()), nil
		}
	}
	return IndexKey{}, chronoserr.New(chronoserr.KindExecution, "value cannot be used as index key of this type")
}

// Encode serializes the key to its fixed on-disk width. textKeySize is the
// padded width for Text components; keyTypes describes each component in
// order (length 1 for non-composite keys).
func (k IndexKey) Encode(keyTypes []IndexKeyType, textKeySize int) ([]byte, error) {
	if len(keyTypes) == 0 {
		return nil, chronoserr.New(chronoserr.KindExecution, "index key types cannot be empty")
	}
	if len(keyTypes) == 1 {
		return encodeComponent(k, keyTypes[0], textKeySize)
	}
	if k.typ != KeyTypeComposite || len(k.components) != len(keyTypes) {
		return nil, chronoserr.New(chronoserr.KindExecution, "composite index key mismatch")
	}
	var buf bytes.Buffer
	for i, part := range k.components {
		enc, err := encodeComponent(part, keyTypes[i], textKeySize)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	return buf.Bytes(), nil
}

func encodeComponent(k IndexKey, typ IndexKeyType, textKeySize int) ([]byte, error) {
	switch typ {
	case KeyTypeInteger:
		if k.typ != KeyTypeInteger {
			return nil, chronoserr.New(chronoserr.KindExecution, "expected integer key component")
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(k.i))
		return b, nil
	case KeyTypeText:
		if k.typ != KeyTypeText {
			return nil, chronoserr.New(chronoserr.KindExecution, "expected text key component")
		}
		if len(k.text) > textKeySize-2 {
			return nil, chronoserr.New(chronoserr.KindExecution, "text key exceeds index key width")
		}
		b := make([]byte, textKeySize)
		binary.LittleEndian.PutUint16(b[0:2], uint16(len(k.text)))
		copy(b[2:], k.text)
		return b, nil
	default:
		return nil, chronoserr.New(chronoserr.KindExecution, "composite key type cannot be nested")
	}
}

// DecodeKey reverses Encode for a single on-disk key of the given component
// types.
func DecodeKey(data []byte, keyTypes []IndexKeyType, textKeySize int) (IndexKey, error) {
	if len(keyTypes) == 1 {
		return decodeComponent(data, keyTypes[0], textKeySize)
	}
	parts := make([]IndexKey, len(keyTypes))
	off := 0
	for i, typ := range keyTypes {
		width := componentWidth(typ, textKeySize)
		part, err := decodeComponent(data[off:off+width], typ, textKeySize)
		if err != nil {
			return IndexKey{}, err
		}
		parts[i] = part
		off += width
	}
	return CompositeKey(parts...), nil
}

func decodeComponent(data []byte, typ IndexKeyType, textKeySize int) (IndexKey, error) {
	switch typ {
	case KeyTypeInteger:
		if len(data) < 8 {
			return IndexKey{}, chronoserr.New(chronoserr.KindCorrupt, "truncated integer index key")
		}
		return IntKey(int64(binary.LittleEndian.Uint64(data))), nil
	case KeyTypeText:
		if len(data) < 2 {
			return IndexKey{}, chronoserr.New(chronoserr.KindCorrupt, "truncated text index key")
		}
		n := int(binary.LittleEndian.Uint16(data[0:2]))
		if 2+n > len(data) {
			return IndexKey{}, chronoserr.New(chronoserr.KindCorrupt, "truncated text index key payload")
		}
		return TextKey(string(data[2 : 2+n])), nil
	default:
		return IndexKey{}, chronoserr.New(chronoserr.KindCorrupt, "unsupported composite component type")
	}
}

// TotalKeySize returns the fixed on-disk width for a key shaped by
// keyTypes.
func TotalKeySize(keyTypes []IndexKeyType, textKeySize int) int {
	total := 0
	for _, t := range keyTypes {
		total += componentWidth(t, textKeySize)
	}
	return total
}

func componentWidth(typ IndexKeyType, textKeySize int) int {
	switch typ {
	case KeyTypeInteger:
		return 8
	case KeyTypeText:
		return textKeySize
	default:
		return 0
	}
}

// Compare orders two keys: tag-then-bytes for mismatched types, component
// by component (lexicographic) for composite keys.
func Compare(a, b IndexKey) int {
	if a.typ != b.typ {
		if a.typ < b.typ {
			return -1
		}
		return 1
	}
	switch a.typ {
	case KeyTypeInteger:
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		default:
			return 0
		}
	case KeyTypeText:
		return bytes.Compare([]byte(a.text), []byte(b.text))
	case KeyTypeComposite:
		for i := 0; i < len(a.components) && i < len(b.components); i++ {
			if c := Compare(a.components[i], b.components[i]); c != 0 {
				return c
			}
		}
		return len(a.components) - len(b.components)
	default:
		return 0
	}
}
