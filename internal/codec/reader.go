package codec

import (
	"encoding/base64"
	"math/big"
	"time"
	"unicode/utf8"
)

// Reader consumes tagged values from a buffer in order.
type Reader struct {
	buf []byte
	off int
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// HasMore reports whether unread bytes remain.
func (r *Reader) HasMore() bool {
	return r.off < len(r.buf)
}

func (r *Reader) take(op string, n int) ([]byte, error) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, errorf(op, r.off, "need %d bytes, have %d", n, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) byte1(op string) (byte, error) {
	b, err := r.take(op, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) tag(op string) (Kind, error) {
	b, err := r.byte1(op)
	return Kind(b), err
}

// expect reads a tag and checks it against want.
func (r *Reader) expect(want Kind) error {
	start := r.off
	got, err := r.tag("read " + want.String())
	if err != nil {
		return err
	}
	if got != want {
		r.off = start
		return errorf("read "+want.String(), start, "unexpected tag %s", got)
	}
	return nil
}

func (r *Reader) getBigInt(op string) (*big.Int, error) {
	n, err := r.byte1(op)
	if err != nil {
		return nil, err
	}
	b, err := r.take(op, int(n))
	if err != nil {
		return nil, err
	}
	return fromTwosComplement(b), nil
}

func (r *Reader) getInt(op string) (int64, error) {
	start := r.off
	v, err := r.getBigInt(op)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, errorf(op, start, "integer overflows int64")
	}
	return v.Int64(), nil
}

// getLen reads a count or byte length and bounds it by the remaining input.
func (r *Reader) getLen(op string) (int, error) {
	start := r.off
	n, err := r.getInt(op)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > int64(len(r.buf)-r.off) {
		return 0, errorf(op, start, "invalid length %d", n)
	}
	return int(n), nil
}

func (r *Reader) getStr(op string) (string, error) {
	n, err := r.getLen(op)
	if err != nil {
		return "", err
	}
	start := r.off
	b, err := r.take(op, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errorf(op, start, "invalid utf-8")
	}
	return string(b), nil
}

func (r *Reader) getFixed(op string) (*big.Int, int, error) {
	n, err := r.byte1(op)
	if err != nil {
		return nil, 0, err
	}
	p, err := r.byte1(op)
	if err != nil {
		return nil, 0, err
	}
	b, err := r.take(op, int(n))
	if err != nil {
		return nil, 0, err
	}
	return fromTwosComplement(b), int(p), nil
}

func (r *Reader) getFloat(op string) (float64, error) {
	n, p, err := r.getFixed(op)
	if err != nil {
		return 0, err
	}
	q := new(big.Float).SetPrec(256).SetInt(n)
	q.Quo(q, pow10(p))
	f, _ := q.Float64()
	return f, nil
}

func (r *Reader) getDatetime(op string) (time.Time, error) {
	n, p, err := r.getFixed(op)
	if err != nil {
		return time.Time{}, err
	}
	nanos := new(big.Int).Set(n)
	if p <= 9 {
		nanos.Mul(nanos, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(9-p)), nil))
	} else {
		nanos.Quo(nanos, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p-9)), nil))
	}
	if !nanos.IsInt64() {
		return time.Time{}, errorf(op, r.off, "datetime out of range")
	}
	return time.Unix(0, nanos.Int64()), nil
}

// ReadNull reads a null value.
func (r *Reader) ReadNull() error {
	return r.expect(KindNull)
}

// ReadInt reads an integer that fits in int64.
func (r *Reader) ReadInt() (int64, error) {
	if err := r.expect(KindInt); err != nil {
		return 0, err
	}
	return r.getInt("read int")
}

// ReadFloat reads a fixed-point float.
func (r *Reader) ReadFloat() (float64, error) {
	if err := r.expect(KindFloat); err != nil {
		return 0, err
	}
	return r.getFloat("read float")
}

// ReadBool reads a boolean.
func (r *Reader) ReadBool() (bool, error) {
	if err := r.expect(KindBool); err != nil {
		return false, err
	}
	b, err := r.byte1("read bool")
	if err != nil {
		return false, err
	}
	if b > 1 {
		return false, errorf("read bool", r.off-1, "invalid bool byte %d", b)
	}
	return b == 1, nil
}

// ReadStr reads a string.
func (r *Reader) ReadStr() (string, error) {
	if err := r.expect(KindStr); err != nil {
		return "", err
	}
	return r.getStr("read str")
}

// ReadBytes reads a byte slice.
func (r *Reader) ReadBytes() ([]byte, error) {
	if err := r.expect(KindBytes); err != nil {
		return nil, err
	}
	return r.getBytes()
}

func (r *Reader) getBytes() ([]byte, error) {
	start := r.off
	s, err := r.getStr("read bytes")
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errorf("read bytes", start, "invalid base64: %v", err)
	}
	return b, nil
}

// ReadDatetime reads a timestamp.
func (r *Reader) ReadDatetime() (time.Time, error) {
	if err := r.expect(KindDatetime); err != nil {
		return time.Time{}, err
	}
	return r.getDatetime("read datetime")
}

// ReadPath reads a slash-separated path.
func (r *Reader) ReadPath() (Path, error) {
	if err := r.expect(KindPath); err != nil {
		return "", err
	}
	s, err := r.getStr("read path")
	return Path(s), err
}

// ReadList reads a list of tagged values.
func (r *Reader) ReadList() ([]any, error) {
	if err := r.expect(KindList); err != nil {
		return nil, err
	}
	return r.getList()
}

func (r *Reader) getList() ([]any, error) {
	n, err := r.getLen("read list")
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := r.Read()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// ReadSet reads a set, dropping elements whose encoding repeats.
func (r *Reader) ReadSet() (Set, error) {
	if err := r.expect(KindSet); err != nil {
		return nil, err
	}
	return r.getSet()
}

func (r *Reader) getSet() (Set, error) {
	n, err := r.getLen("read set")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, n)
	items := make(Set, 0, n)
	for i := 0; i < n; i++ {
		start := r.off
		v, err := r.Read()
		if err != nil {
			return nil, err
		}
		key := string(r.buf[start:r.off])
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, v)
	}
	return items, nil
}

// ReadDict reads a string-keyed dictionary.
func (r *Reader) ReadDict() (map[string]any, error) {
	if err := r.expect(KindDict); err != nil {
		return nil, err
	}
	return r.getDict()
}

func (r *Reader) getDict() (map[string]any, error) {
	n, err := r.getLen("read dict")
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, n)
	for i := 0; i < n; i++ {
		start := r.off
		k, err := r.Read()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, errorf("read dict", start, "unsupported key type %T", k)
		}
		v, err := r.Read()
		if err != nil {
			return nil, err
		}
		m[key] = v
	}
	return m, nil
}

// ReadRecord reads an anonymous record.
func (r *Reader) ReadRecord() (Record, error) {
	if err := r.expect(KindRecord); err != nil {
		return Record{}, err
	}
	return r.getRecord()
}

func (r *Reader) getRecord() (Record, error) {
	n, err := r.getLen("read record")
	if err != nil {
		return Record{}, err
	}
	typ, err := r.getStr("read record")
	if err != nil {
		return Record{}, err
	}
	rec := Record{Type: typ, Fields: make(map[string]any, n)}
	for i := 0; i < n; i++ {
		name, err := r.getStr("read record")
		if err != nil {
			return Record{}, err
		}
		v, err := r.Read()
		if err != nil {
			return Record{}, err
		}
		rec.Fields[name] = v
	}
	return rec, nil
}

// Read decodes the next tagged value of any kind.
func (r *Reader) Read() (any, error) {
	start := r.off
	k, err := r.tag("read")
	if err != nil {
		return nil, err
	}

	switch k {
	case KindNull:
		return nil, nil
	case KindInt:
		return r.getInt("read int")
	case KindFloat:
		return r.getFloat("read float")
	case KindBool:
		r.off = start
		return r.ReadBool()
	case KindStr:
		return r.getStr("read str")
	case KindBytes:
		return r.getBytes()
	case KindDict:
		return r.getDict()
	case KindList:
		return r.getList()
	case KindSet:
		return r.getSet()
	case KindDatetime:
		return r.getDatetime("read datetime")
	case KindPath:
		s, err := r.getStr("read path")
		return Path(s), err
	case KindRecord:
		return r.getRecord()
	}
	return nil, errorf("read", start, "unknown tag %d", byte(k))
}
