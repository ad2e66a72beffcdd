package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/lukechampine/fastxor"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

/*
Label encryption: a stored label is nonce || H(key, nonce) XOR label where H
is an extendable output function.
*/

const (
	XORBlake3 = iota
	XORBlake2
)

var ErrLabelTooShort = fmt.Errorf("encrypted label is shorter than its nonce")

// ParseMode maps a cipher name as found in a parameter file to its mode
func ParseMode(name string) (int, error) {
	switch name {
	case "blake3", "":
		return XORBlake3, nil
	case "blake2b":
		return XORBlake2, nil
	default:
		return 0, fmt.Errorf("unknown label cipher %q", name)
	}
}

// Blake3 has XOF which is perfect for doing xor cipher.
func xorCipherWithBlake3(key, nonce, src []byte) ([]byte, error) {
	hash := make([]byte, len(src))
	if err := getBlake3Hash(key, nonce, hash); err != nil {
		return nil, err
	}
	fastxor.Bytes(hash, hash, src)
	return hash, nil
}

func getBlake3Hash(key, nonce, dst []byte) error {
	h := blake3.New()
	if _, err := h.Write(key); err != nil {
		return err
	}
	if _, err := h.Write(nonce); err != nil {
		return err
	}

	// convert to *digest to take a snapshot of the hashstate for XOF
	d := h.Digest()
	_, err := d.Read(dst)
	return err
}

// xorCipherWithBlake2 returns the result of H(key, nonce) XOR src
// note that encrypt and decrypt in XOR cipher are the same.
func xorCipherWithBlake2(key, nonce, src []byte) ([]byte, error) {
	hash := make([]byte, len(src))
	if err := getBlake2Hash(key, nonce, hash); err != nil {
		return nil, err
	}
	fastxor.Bytes(hash, hash, src)
	return hash, nil
}

// getBlake2Hash produce hash digest of the key and nonce
func getBlake2Hash(key, nonce, dst []byte) (err error) {
	if len(dst) == 0 {
		return nil
	}
	d, err := blake2b.NewXOF(uint32(len(dst)), nil)
	if err != nil {
		return err
	}

	d.Write(key)
	d.Write(nonce)
	_, err = d.Read(dst)
	return
}

func xorCipher(mode int, key, nonce, src []byte) ([]byte, error) {
	switch mode {
	case XORBlake3:
		return xorCipherWithBlake3(key, nonce, src)
	case XORBlake2:
		return xorCipherWithBlake2(key, nonce, src)
	}
	return nil, fmt.Errorf("wrong label cipher mode %d", mode)
}

// EncryptLabel draws a fresh nonce of nonceLen bytes and returns
// nonce || ciphertext.
func EncryptLabel(mode int, key, label []byte, nonceLen int) ([]byte, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct, err := xorCipher(mode, key, nonce, label)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// DecryptLabel reverses EncryptLabel
func DecryptLabel(mode int, key, encrypted []byte, nonceLen int) ([]byte, error) {
	if len(encrypted) < nonceLen {
		return nil, ErrLabelTooShort
	}
	return xorCipher(mode, key, encrypted[:nonceLen], encrypted[nonceLen:])
}
