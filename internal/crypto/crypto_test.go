package crypto

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/zeebo/blake3"
)

var (
	p      = []byte("example testing label that holds important secrets: %QWEQW$##%Y^&%^*(*)&, []m")
	xorKey = make([]byte, 16)
	prng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func init() {
	prng.Read(xorKey)
}

func BenchmarkBlake3(b *testing.B) {
	for i := 0; i < b.N; i++ {
		blake3.Sum256(p)
	}
}

func testEncryptDecrypt(t *testing.T, mode int) {
	for _, nonceLen := range []int{0, 4, 16} {
		ciphertext, err := EncryptLabel(mode, xorKey, p, nonceLen)
		if err != nil {
			t.Fatal(err)
		}
		if len(ciphertext) != nonceLen+len(p) {
			t.Fatalf("want ciphertext length %d, got %d", nonceLen+len(p), len(ciphertext))
		}

		wrongKey := append([]byte(nil), xorKey...)
		wrongKey[0] ^= 1
		plain, err := DecryptLabel(mode, wrongKey, ciphertext, nonceLen)
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Equal(p, plain) {
			t.Fatalf("decryption should not work!")
		}

		plain, err = DecryptLabel(mode, xorKey, ciphertext, nonceLen)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(p, plain) {
			t.Fatalf("Decryption should have worked")
		}
	}
}

func TestXORBlake3EncryptDecrypt(t *testing.T) {
	testEncryptDecrypt(t, XORBlake3)
}

func TestXORBlake2EncryptDecrypt(t *testing.T) {
	testEncryptDecrypt(t, XORBlake2)
}

func TestFreshNonce(t *testing.T) {
	c1, _ := EncryptLabel(XORBlake3, xorKey, p, 8)
	c2, _ := EncryptLabel(XORBlake3, xorKey, p, 8)
	if bytes.Equal(c1, c2) {
		t.Fatalf("two encryptions of the same label should differ")
	}
}

func TestErrors(t *testing.T) {
	if _, err := DecryptLabel(XORBlake3, xorKey, []byte{1, 2}, 4); err != ErrLabelTooShort {
		t.Fatalf("expected ErrLabelTooShort, got %v", err)
	}
	if _, err := EncryptLabel(7, xorKey, p, 0); err == nil {
		t.Fatalf("expected an error for an unknown mode")
	}
	if _, err := ParseMode("aes"); err == nil {
		t.Fatalf("expected an error for an unknown cipher name")
	}
}
