// Package codec implements the tagged binary format used to persist snapshot
// metadata, plus a keyed obfuscation layer applied before bytes leave the host.
package codec

import (
	"fmt"
	"math/big"
	"sort"
)

// Kind identifies the type of an encoded value. Every value on the wire is
// preceded by its one-byte Kind tag.
type Kind byte

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindStr
	KindBytes
	KindDict
	KindList
	KindSet
	KindDatetime
	KindPath
	KindRecord
)

// DefaultPrecision is the number of fractional decimal digits kept for Float values.
const DefaultPrecision = 10

// datetimePrecision keeps microseconds.
const datetimePrecision = 6

var kindNames = [...]string{
	KindNull:     "null",
	KindInt:      "int",
	KindFloat:    "float",
	KindBool:     "bool",
	KindStr:      "str",
	KindBytes:    "bytes",
	KindDict:     "dict",
	KindList:     "list",
	KindSet:      "set",
	KindDatetime: "datetime",
	KindPath:     "path",
	KindRecord:   "record",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Path is a slash-separated relative path. Writers normalize backslashes so
// that encodings are identical across platforms.
type Path string

// Set is an unordered collection. It is encoded like a list; decoding drops
// duplicate elements.
type Set []any

// Record is an anonymous structure: a type name plus named fields. Typed
// values are converted to and from Record through the Recorder interface.
type Record struct {
	Type   string
	Fields map[string]any
}

// CodecRecord lets a Record be written wherever a Recorder is accepted.
func (r Record) CodecRecord() Record { return r }

// Recorder is implemented by types that encode themselves as a Record.
type Recorder interface {
	CodecRecord() Record
}

// fieldNames returns the record's field names in encoding order.
func (r Record) fieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Error reports malformed input or an unsupported value.
type Error struct {
	Op     string
	Offset int
	Msg    string
}

func (e *Error) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("codec: %s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("codec: %s at offset %d: %s", e.Op, e.Offset, e.Msg)
}

func errorf(op string, offset int, format string, args ...any) *Error {
	return &Error{Op: op, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

var bigOne = big.NewInt(1)

// twosComplement returns the minimal big-endian two's-complement form of v.
func twosComplement(v *big.Int) []byte {
	switch v.Sign() {
	case 0:
		return []byte{0}
	case 1:
		b := v.Bytes()
		if b[0]&0x80 != 0 {
			b = append([]byte{0}, b...)
		}
		return b
	}

	// For negative v, ^b of (-v - 1) gives the two's-complement bytes.
	m := new(big.Int).Neg(v)
	m.Sub(m, bigOne)
	b := m.Bytes()
	if len(b) == 0 {
		return []byte{0xff}
	}
	for i := range b {
		b[i] = ^b[i]
	}
	if b[0]&0x80 == 0 {
		b = append([]byte{0xff}, b...)
	}
	return b
}

func fromTwosComplement(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(bigOne, uint(8*len(b))))
	}
	return v
}

func pow10(p int) *big.Float {
	n := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p)), nil)
	return new(big.Float).SetPrec(256).SetInt(n)
}

// Marshal encodes a single value with its tag.
func Marshal(v any) ([]byte, error) {
	w := NewWriter()
	if err := w.Write(v); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Unmarshal decodes exactly one tagged value from data.
func Unmarshal(data []byte) (any, error) {
	r := NewReader(data)
	v, err := r.Read()
	if err != nil {
		return nil, err
	}
	if r.HasMore() {
		return nil, errorf("unmarshal", r.off, "%d trailing bytes", len(r.buf)-r.off)
	}
	return v, nil
}
