package cryptoprim

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"

	"github.com/cuemby/basin/pkg/basinerr"
)

// defaultIV is the RFC 3394 standard initial value A0.
var defaultIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// WrapKey implements RFC 3394 AES key wrap: kek must be 16/24/32 bytes,
// plaintext must be a multiple of 8 bytes and at least 16. No keywrap
// implementation exists anywhere in the retrieval pack (see DESIGN.md);
// this is the minimal reference algorithm built directly on crypto/aes,
// matching the teacher's habit of reaching for stdlib block-cipher
// primitives directly rather than a wrapper library.
func WrapKey(kek, plaintext []byte) ([]byte, error) {
	if len(plaintext)%8 != 0 || len(plaintext) < 16 {
		return nil, basinerr.CryptoFailure("wrap_key", errBadKeywrapInput)
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, basinerr.CryptoFailure("wrap_key", err)
	}

	n := len(plaintext) / 8
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], plaintext[i*8:(i+1)*8])
	}

	a := defaultIV
	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], a[:])
			copy(buf[8:], r[i-1][:])
			block.Encrypt(buf, buf)

			var t uint64 = uint64(n*j + i)
			var tbytes [8]byte
			binary.BigEndian.PutUint64(tbytes[:], t)
			for k := range a {
				a[k] = buf[k] ^ tbytes[k]
			}
			copy(r[i-1][:], buf[8:])
		}
	}

	out := make([]byte, 8+len(plaintext))
	copy(out[:8], a[:])
	for i := 0; i < n; i++ {
		copy(out[8+i*8:], r[i][:])
	}
	return out, nil
}

// UnwrapKey reverses WrapKey, verifying the integrity check value.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 24 {
		return nil, basinerr.CryptoFailure("unwrap_key", errBadKeywrapInput)
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, basinerr.CryptoFailure("unwrap_key", err)
	}

	n := len(wrapped)/8 - 1
	var a [8]byte
	copy(a[:], wrapped[:8])
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], wrapped[8+i*8:8+(i+1)*8])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			var t uint64 = uint64(n*j + i)
			var tbytes [8]byte
			binary.BigEndian.PutUint64(tbytes[:], t)

			var xored [8]byte
			for k := range a {
				xored[k] = a[k] ^ tbytes[k]
			}
			copy(buf[:8], xored[:])
			copy(buf[8:], r[i-1][:])
			block.Decrypt(buf, buf)

			copy(a[:], buf[:8])
			copy(r[i-1][:], buf[8:])
		}
	}

	if subtle.ConstantTimeCompare(a[:], defaultIV[:]) != 1 {
		return nil, basinerr.CryptoFailure("unwrap_key", errKeywrapIntegrity)
	}

	out := make([]byte, 0, n*8)
	for i := 0; i < n; i++ {
		out = append(out, r[i][:]...)
	}
	return out, nil
}

type keywrapInputError struct{}

func (keywrapInputError) Error() string { return "key wrap input must be a multiple of 8 bytes, at least 16" }

var errBadKeywrapInput = keywrapInputError{}

type keywrapIntegrityError struct{}

func (keywrapIntegrityError) Error() string { return "key wrap integrity check failed" }

var errKeywrapIntegrity = keywrapIntegrityError{}
