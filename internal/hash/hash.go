package hash

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/dchest/siphash"
	"github.com/minio/highwayhash"
	"github.com/shivakar/metrohash"
	"github.com/twmb/murmur3"
)

const (
	SaltLength = 32

	Murmur3 = iota
	Metro
	Highway
	SipHash
)

var (
	ErrUnknownHash        = fmt.Errorf("cannot create a hasher of unknown hash type")
	ErrSaltLengthMismatch = fmt.Errorf("provided salt is not %d length", SaltLength)
)

func init() {
	if SaltLength != 32 {
		log.Fatalf("SaltLength has to be fixed to 32 and is set to %d", SaltLength)
	}
}

// Hasher implements different non cryptographic hashing functions
type Hasher interface {
	Hash64([]byte) uint64
}

// ParseType maps a hash name as found in a parameter file to its type
func ParseType(name string) (int, error) {
	switch name {
	case "murmur3":
		return Murmur3, nil
	case "metro", "":
		return Metro, nil
	case "highway":
		return Highway, nil
	case "siphash":
		return SipHash, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownHash, name)
	}
}

// New creates a hasher of type t
func New(t int, salt []byte) (Hasher, error) {
	switch t {
	case Murmur3:
		return NewMurmur3Hasher(salt)
	case Metro:
		return NewMetroHasher(salt)
	case Highway:
		return NewHighwayHasher(salt)
	case SipHash:
		return NewSipHasher(salt)
	default:
		return nil, ErrUnknownHash
	}
}

// Murmur3 implementation of Hasher
type murmur64 struct {
	salt []byte
}

// NewMurmur3Hasher returns a Murmur3 hasher that uses salt as a prefix to the
// bytes being summed
func NewMurmur3Hasher(salt []byte) (murmur64, error) {
	if len(salt) != SaltLength {
		return murmur64{}, ErrSaltLengthMismatch
	}

	return murmur64{salt: salt}, nil
}

func (t murmur64) Hash64(p []byte) uint64 {
	// prepend the salt in a fresh buffer, salt must not be aliased
	b := make([]byte, 0, len(t.salt)+len(p))
	b = append(b, t.salt...)
	return murmur3.Sum64(append(b, p...))
}

// Metro Hash implementation of Hasher
type metro struct {
	salt []byte
}

// NewMetroHasher returns a metro64 hasher that uses salt as a
// prefix to the bytes being summed
func NewMetroHasher(salt []byte) (metro, error) {
	if len(salt) != SaltLength {
		return metro{}, ErrSaltLengthMismatch
	}

	return metro{salt: salt}, nil
}

func (m metro) Hash64(p []byte) uint64 {
	h := metrohash.NewMetroHash64()
	h.Write(m.salt)
	h.Write(p)
	return h.Sum64()
}

// HighwayHash implementation of Hasher, the salt is the 256 bit key
type highway struct {
	key []byte
}

// NewHighwayHasher returns a highwayhash hasher keyed with salt
func NewHighwayHasher(salt []byte) (highway, error) {
	if len(salt) != SaltLength {
		return highway{}, ErrSaltLengthMismatch
	}

	return highway{key: salt}, nil
}

func (h highway) Hash64(p []byte) uint64 {
	return highwayhash.Sum64(p, h.key)
}

// SipHash-2-4 implementation of Hasher, keyed with the first
// 16 bytes of the salt
type sip struct {
	k0, k1 uint64
}

// NewSipHasher returns a siphash hasher keyed with salt
func NewSipHasher(salt []byte) (sip, error) {
	if len(salt) != SaltLength {
		return sip{}, ErrSaltLengthMismatch
	}

	return sip{
		k0: binary.LittleEndian.Uint64(salt[:8]),
		k1: binary.LittleEndian.Uint64(salt[8:16]),
	}, nil
}

func (s sip) Hash64(p []byte) uint64 {
	return siphash.Hash(s.k0, s.k1, p)
}
