package he

import (
	"errors"
	"testing"

	"github.com/optable/hepsi/pkg/params"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	c, err := NewContext(params.Default())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestEncryptDecrypt(t *testing.T) {
	c := testContext(t)
	keys := c.GenKeys()
	enc := c.NewEncoder()

	values := make([]uint64, c.Slots())
	for i := range values {
		values[i] = uint64(i) % c.T()
	}
	ct, err := c.Encrypt(enc, c.NewEncryptor(keys), values)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decrypt(enc, c.NewDecryptor(keys), ct)
	if err != nil {
		t.Fatal(err)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Fatalf("slot %d: want %d, got %d", i, values[i], got[i])
		}
	}
}

func TestMulRelinThroughWire(t *testing.T) {
	c := testContext(t)
	keys := c.GenKeys()
	enc := c.NewEncoder()

	x := make([]uint64, c.Slots())
	for i := range x {
		x[i] = uint64(3*i+1) % c.T()
	}
	ct, err := c.Encrypt(enc, c.NewEncryptor(keys), x)
	if err != nil {
		t.Fatal(err)
	}

	// ship the ciphertext and the relinearization key
	b, err := MarshalCiphertext(ct)
	if err != nil {
		t.Fatal(err)
	}
	kb, err := MarshalRelinKey(keys.Relin)
	if err != nil {
		t.Fatal(err)
	}
	received, err := c.UnmarshalCiphertext(b)
	if err != nil {
		t.Fatal(err)
	}
	rlk, err := c.UnmarshalRelinKey(kb)
	if err != nil {
		t.Fatal(err)
	}

	eval := c.NewEvaluator(rlk)
	sq, err := eval.MulRelinNew(received, received)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decrypt(enc, c.NewDecryptor(keys), sq)
	if err != nil {
		t.Fatal(err)
	}
	for i := range x {
		want := x[i] * x[i] % c.T()
		if got[i] != want {
			t.Fatalf("slot %d: want %d, got %d", i, want, got[i])
		}
	}
}

func TestMalformed(t *testing.T) {
	c := testContext(t)
	for _, b := range [][]byte{nil, {1, 2, 3}, make([]byte, 64)} {
		if _, err := c.UnmarshalCiphertext(b); !errors.Is(err, ErrMalformed) {
			t.Fatalf("ciphertext %v: expected ErrMalformed, got %v", b, err)
		}
		if _, err := c.UnmarshalRelinKey(b); !errors.Is(err, ErrMalformed) {
			t.Fatalf("relin key %v: expected ErrMalformed, got %v", b, err)
		}
	}
}

func TestRandomPlaintext(t *testing.T) {
	c := testContext(t)
	prng, err := NewPRNG()
	if err != nil {
		t.Fatal(err)
	}
	pt, err := c.RandomPlaintext(c.NewEncoder(), prng)
	if err != nil {
		t.Fatal(err)
	}
	values, err := c.Decode(c.NewEncoder(), pt)
	if err != nil {
		t.Fatal(err)
	}
	zeros := 0
	for _, v := range values {
		if v >= c.T() {
			t.Fatalf("value %d out of field", v)
		}
		if v == 0 {
			zeros++
		}
	}
	if zeros > 16 {
		t.Fatalf("%d zero slots out of %d", zeros, len(values))
	}
}
