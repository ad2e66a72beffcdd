// Package he wraps the BGV scheme of lattigo into the handful of operations
// the matching engine needs: batched encoding, secret key encryption,
// scale invariant evaluation and (de)serialization of ciphertexts and
// relinearization keys.
package he

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/optable/hepsi/pkg/params"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
	"github.com/zeebo/blake3"
)

var ErrMalformed = errors.New("malformed homomorphic encryption object")

// Context is the BGV parameter set derived from a parameter file. It is
// safe for concurrent use; encoders, encryptors and evaluators built from it
// are not and must be shallow copied per goroutine.
type Context struct {
	Params bgv.Parameters
}

// NewContext instantiates the BGV parameters of p
func NewContext(p *params.Params) (*Context, error) {
	bp, err := bgv.NewParametersFromLiteral(bgv.ParametersLiteral{
		LogN:             p.HE.LogN,
		LogQ:             p.HE.LogQ,
		LogP:             p.HE.LogP,
		PlaintextModulus: p.HE.PlaintextModulus,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", params.ErrInvalidParams, err)
	}
	return &Context{Params: bp}, nil
}

// Slots is the number of values batched in one plaintext
func (c *Context) Slots() int {
	return c.Params.MaxSlots()
}

// T is the plaintext modulus
func (c *Context) T() uint64 {
	return c.Params.PlaintextModulus()
}

// NewEncoder returns a batch encoder
func (c *Context) NewEncoder() *bgv.Encoder {
	return bgv.NewEncoder(c.Params)
}

// Encode batches values, one per slot, into a plaintext at the top level
func (c *Context) Encode(enc *bgv.Encoder, values []uint64) (*rlwe.Plaintext, error) {
	pt := bgv.NewPlaintext(c.Params, c.Params.MaxLevel())
	if err := enc.Encode(values, pt); err != nil {
		return nil, err
	}
	return pt, nil
}

// Decode unbatches pt
func (c *Context) Decode(enc *bgv.Encoder, pt *rlwe.Plaintext) ([]uint64, error) {
	values := make([]uint64, c.Slots())
	if err := enc.Decode(pt, values); err != nil {
		return nil, err
	}
	return values, nil
}

// RandomPlaintext encodes uniformly random slot values drawn from prng
func (c *Context) RandomPlaintext(enc *bgv.Encoder, prng io.Reader) (*rlwe.Plaintext, error) {
	buf := make([]byte, 8*c.Slots())
	if _, err := io.ReadFull(prng, buf); err != nil {
		return nil, err
	}
	values := make([]uint64, c.Slots())
	t := c.T()
	for i := range values {
		values[i] = binary.LittleEndian.Uint64(buf[8*i:]) % t
	}
	return c.Encode(enc, values)
}

// NewPRNG returns a blake3 keystream seeded from crypto/rand
func NewPRNG() (io.Reader, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	h := blake3.New()
	h.Write(seed)
	return h.Digest(), nil
}

// Keys is the receiver's key material. Only the relinearization key is
// ever sent.
type Keys struct {
	Secret *rlwe.SecretKey
	Relin  *rlwe.RelinearizationKey
}

// GenKeys draws a fresh secret key and its relinearization key
func (c *Context) GenKeys() *Keys {
	kgen := rlwe.NewKeyGenerator(c.Params)
	sk := kgen.GenSecretKeyNew()
	return &Keys{Secret: sk, Relin: kgen.GenRelinearizationKeyNew(sk)}
}

// NewEncryptor returns a secret key encryptor
func (c *Context) NewEncryptor(k *Keys) *rlwe.Encryptor {
	return rlwe.NewEncryptor(c.Params, k.Secret)
}

// NewDecryptor returns a decryptor
func (c *Context) NewDecryptor(k *Keys) *rlwe.Decryptor {
	return rlwe.NewDecryptor(c.Params, k.Secret)
}

// NewEvaluator returns a scale invariant evaluator relinearizing with rlk
func (c *Context) NewEvaluator(rlk *rlwe.RelinearizationKey) *bgv.Evaluator {
	return bgv.NewEvaluator(c.Params, rlwe.NewMemEvaluationKeySet(rlk), true)
}

// Encrypt batches and encrypts values
func (c *Context) Encrypt(enc *bgv.Encoder, encryptor *rlwe.Encryptor, values []uint64) (*rlwe.Ciphertext, error) {
	pt, err := c.Encode(enc, values)
	if err != nil {
		return nil, err
	}
	ct := bgv.NewCiphertext(c.Params, 1, c.Params.MaxLevel())
	if err := encryptor.Encrypt(pt, ct); err != nil {
		return nil, err
	}
	return ct, nil
}

// Decrypt decrypts and unbatches ct
func (c *Context) Decrypt(enc *bgv.Encoder, decryptor *rlwe.Decryptor, ct *rlwe.Ciphertext) ([]uint64, error) {
	pt := bgv.NewPlaintext(c.Params, ct.Level())
	decryptor.Decrypt(ct, pt)
	return c.Decode(enc, pt)
}

// MarshalCiphertext serializes ct
func MarshalCiphertext(ct *rlwe.Ciphertext) ([]byte, error) {
	return ct.MarshalBinary()
}

// UnmarshalCiphertext deserializes and checks the shape of a ciphertext
func (c *Context) UnmarshalCiphertext(b []byte) (ct *rlwe.Ciphertext, err error) {
	defer func() {
		if r := recover(); r != nil {
			ct, err = nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformed, r)
		}
	}()

	ct = bgv.NewCiphertext(c.Params, 1, c.Params.MaxLevel())
	if err := ct.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformed, err)
	}
	if ct.Degree() != 1 || ct.Level() > c.Params.MaxLevel() {
		return nil, fmt.Errorf("%w: ciphertext of degree %d at level %d", ErrMalformed, ct.Degree(), ct.Level())
	}
	if n := len(ct.Value[0].Coeffs[0]); n != c.Params.N() {
		return nil, fmt.Errorf("%w: ciphertext of degree %d polynomials, want %d", ErrMalformed, n, c.Params.N())
	}
	return ct, nil
}

// MarshalRelinKey serializes a relinearization key
func MarshalRelinKey(rlk *rlwe.RelinearizationKey) ([]byte, error) {
	return rlk.MarshalBinary()
}

// UnmarshalRelinKey deserializes a relinearization key
func (c *Context) UnmarshalRelinKey(b []byte) (rlk *rlwe.RelinearizationKey, err error) {
	defer func() {
		if r := recover(); r != nil {
			rlk, err = nil, fmt.Errorf("%w: relinearization key: %v", ErrMalformed, r)
		}
	}()

	rlk = rlwe.NewRelinearizationKey(c.Params)
	if err := rlk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: relinearization key: %v", ErrMalformed, err)
	}
	if rlk.LevelQ() != c.Params.MaxLevelQ() || rlk.LevelP() != c.Params.MaxLevelP() {
		return nil, fmt.Errorf("%w: relinearization key at levels (%d, %d)", ErrMalformed, rlk.LevelQ(), rlk.LevelP())
	}
	return rlk, nil
}
