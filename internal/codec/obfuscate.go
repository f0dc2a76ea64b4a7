package codec

import (
	"encoding/base64"
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

const stdAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// byteShift is added to every output byte, mod 256.
const byteShift = 0xfb

// Obfuscator applies a reversible keyed transform to encoded bytes. It hides
// metadata from casual inspection only; it offers no confidentiality.
type Obfuscator struct {
	enc *base64.Encoding
}

// NewObfuscator derives an obfuscator from a string key.
func NewObfuscator(key string) *Obfuscator {
	return newObfuscator(append([]byte("s:"), key...))
}

// NewObfuscatorInt derives an obfuscator from an integer key.
func NewObfuscatorInt(key int64) *Obfuscator {
	seed := make([]byte, 10)
	copy(seed, "i:")
	binary.BigEndian.PutUint64(seed[2:], uint64(key))
	return newObfuscator(seed)
}

// newObfuscator shuffles the base64 alphabet with a SHAKE256 stream seeded by seed.
func newObfuscator(seed []byte) *Obfuscator {
	alphabet := []byte(stdAlphabet)
	stream := sha3.NewShake256()
	_, _ = stream.Write(seed)

	var word [8]byte
	for i := len(alphabet) - 1; i > 0; i-- {
		_, _ = stream.Read(word[:])
		j := binary.BigEndian.Uint64(word[:]) % uint64(i+1)
		alphabet[i], alphabet[j] = alphabet[j], alphabet[i]
	}
	return &Obfuscator{enc: base64.NewEncoding(string(alphabet))}
}

// Obfuscate transforms plain codec bytes for storage.
func (o *Obfuscator) Obfuscate(plain []byte) []byte {
	out := make([]byte, o.enc.EncodedLen(len(plain)))
	o.enc.Encode(out, plain)
	for i := range out {
		out[i] += byteShift
	}
	return out
}

// Deobfuscate reverses Obfuscate. Input produced with a different key fails
// here or while decoding the result.
func (o *Obfuscator) Deobfuscate(data []byte) ([]byte, error) {
	shifted := make([]byte, len(data))
	for i, b := range data {
		shifted[i] = b - byteShift
	}
	plain := make([]byte, o.enc.DecodedLen(len(shifted)))
	n, err := o.enc.Decode(plain, shifted)
	if err != nil {
		return nil, &Error{Op: "deobfuscate", Offset: -1, Msg: err.Error()}
	}
	return plain[:n], nil
}
