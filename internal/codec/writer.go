package codec

import (
	"encoding/base64"
	"math"
	"math/big"
	"reflect"
	"sort"
	"time"
)

// Writer accumulates tagged values into a byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) tag(k Kind) {
	w.buf = append(w.buf, byte(k))
}

// putInt appends the untagged length-prefixed integer body.
func (w *Writer) putInt(v *big.Int) error {
	b := twosComplement(v)
	if len(b) > math.MaxUint8 {
		return errorf("write int", len(w.buf), "integer needs %d bytes", len(b))
	}
	w.buf = append(w.buf, byte(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

func (w *Writer) putLen(n int) {
	// Lengths are small non-negative ints; putInt cannot fail for them.
	_ = w.putInt(big.NewInt(int64(n)))
}

func (w *Writer) putStr(s string) {
	w.putLen(len(s))
	w.buf = append(w.buf, s...)
}

func (w *Writer) putFloat(v float64, precision int) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errorf("write float", len(w.buf), "cannot encode %v", v)
	}
	if precision < 0 || precision > math.MaxUint8 {
		return errorf("write float", len(w.buf), "precision %d out of range", precision)
	}

	scaled := new(big.Float).SetPrec(256).SetFloat64(v)
	scaled.Mul(scaled, pow10(precision))
	half := big.NewFloat(0.5)
	if v < 0 {
		half.Neg(half)
	}
	scaled.Add(scaled, half)
	n, _ := scaled.Int(nil)

	return w.putFixed(n, precision)
}

func (w *Writer) putFixed(n *big.Int, precision int) error {
	b := twosComplement(n)
	if len(b) > math.MaxUint8 {
		return errorf("write float", len(w.buf), "value needs %d bytes", len(b))
	}
	w.buf = append(w.buf, byte(len(b)), byte(precision))
	w.buf = append(w.buf, b...)
	return nil
}

// WriteNull writes a null value.
func (w *Writer) WriteNull() {
	w.tag(KindNull)
}

// WriteInt writes a signed integer.
func (w *Writer) WriteInt(v int64) {
	w.tag(KindInt)
	_ = w.putInt(big.NewInt(v))
}

// WriteBigInt writes an arbitrary-size integer of at most 255 bytes.
func (w *Writer) WriteBigInt(v *big.Int) error {
	w.tag(KindInt)
	return w.putInt(v)
}

// WriteFloat writes v with DefaultPrecision fractional digits.
func (w *Writer) WriteFloat(v float64) error {
	return w.WriteFloatPrecision(v, DefaultPrecision)
}

// WriteFloatPrecision writes v as round(v * 10^precision).
func (w *Writer) WriteFloatPrecision(v float64, precision int) error {
	w.tag(KindFloat)
	return w.putFloat(v, precision)
}

// WriteBool writes a boolean.
func (w *Writer) WriteBool(v bool) {
	w.tag(KindBool)
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// WriteStr writes a UTF-8 string.
func (w *Writer) WriteStr(s string) {
	w.tag(KindStr)
	w.putStr(s)
}

// WriteBytes writes a byte slice. The payload is base64 text in a string block.
func (w *Writer) WriteBytes(b []byte) {
	w.tag(KindBytes)
	w.putStr(base64.StdEncoding.EncodeToString(b))
}

// WriteDatetime writes t as Unix seconds with microsecond precision.
func (w *Writer) WriteDatetime(t time.Time) {
	w.tag(KindDatetime)
	micros := t.Round(time.Microsecond).UnixMicro()
	_ = w.putFixed(big.NewInt(micros), datetimePrecision)
}

// WritePath writes p as given. Callers pass slash separated paths; a
// backslash is an ordinary name character.
func (w *Writer) WritePath(p Path) {
	w.tag(KindPath)
	w.putStr(string(p))
}

// WriteList writes each element with its own tag.
func (w *Writer) WriteList(items []any) error {
	w.tag(KindList)
	return w.putSeq(items)
}

// WriteSet writes the set's elements. Order on the wire is not significant.
func (w *Writer) WriteSet(s Set) error {
	w.tag(KindSet)
	return w.putSeq(s)
}

func (w *Writer) putSeq(items []any) error {
	w.putLen(len(items))
	for _, item := range items {
		if err := w.Write(item); err != nil {
			return err
		}
	}
	return nil
}

// WriteDict writes m with entries sorted by key.
func (w *Writer) WriteDict(m map[string]any) error {
	w.tag(KindDict)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.putLen(len(keys))
	for _, k := range keys {
		w.WriteStr(k)
		if err := w.Write(m[k]); err != nil {
			return err
		}
	}
	return nil
}

// WriteRecord writes r with fields sorted by name.
func (w *Writer) WriteRecord(r Recorder) error {
	rec := r.CodecRecord()
	w.tag(KindRecord)
	w.putLen(len(rec.Fields))
	w.putStr(rec.Type)
	for _, name := range rec.fieldNames() {
		w.putStr(name)
		if err := w.Write(rec.Fields[name]); err != nil {
			return err
		}
	}
	return nil
}

// Write encodes v according to its dynamic type.
func (w *Writer) Write(v any) error {
	switch x := v.(type) {
	case nil:
		w.WriteNull()
	case bool:
		w.WriteBool(x)
	case int:
		w.WriteInt(int64(x))
	case int8:
		w.WriteInt(int64(x))
	case int16:
		w.WriteInt(int64(x))
	case int32:
		w.WriteInt(int64(x))
	case int64:
		w.WriteInt(x)
	case uint8:
		w.WriteInt(int64(x))
	case uint16:
		w.WriteInt(int64(x))
	case uint32:
		w.WriteInt(int64(x))
	case uint:
		return w.WriteBigInt(new(big.Int).SetUint64(uint64(x)))
	case uint64:
		return w.WriteBigInt(new(big.Int).SetUint64(x))
	case *big.Int:
		return w.WriteBigInt(x)
	case float32:
		return w.WriteFloat(float64(x))
	case float64:
		return w.WriteFloat(x)
	case string:
		w.WriteStr(x)
	case []byte:
		w.WriteBytes(x)
	case Path:
		w.WritePath(x)
	case time.Time:
		w.WriteDatetime(x)
	case Set:
		return w.WriteSet(x)
	case []any:
		return w.WriteList(x)
	case map[string]any:
		return w.WriteDict(x)
	case Recorder:
		return w.WriteRecord(x)
	default:
		return w.writeReflect(v)
	}
	return nil
}

// writeReflect handles typed slices and string-keyed maps.
func (w *Writer) writeReflect(v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return w.WriteList(items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return errorf("write", len(w.buf), "unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return w.WriteDict(m)
	case reflect.Pointer:
		if rv.IsNil() {
			w.WriteNull()
			return nil
		}
		return w.Write(rv.Elem().Interface())
	}
	return errorf("write", len(w.buf), "unsupported type %T", v)
}
