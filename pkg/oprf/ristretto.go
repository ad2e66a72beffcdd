package oprf

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	gr "github.com/bwesterb/go-ristretto"
	r255 "github.com/gtank/ristretto255"
	"github.com/optable/hepsi/pkg/params"
)

// EncodedLen is the length of an encoded group element or scalar
const EncodedLen = 32

// suite is a ristretto255 backend. Scalars and elements cross the interface
// in their canonical 32 byte encoding.
type suite interface {
	randomScalar() ([EncodedLen]byte, error)
	invert([EncodedLen]byte) ([EncodedLen]byte, error)
	// deriveMultiply maps in to the group and multiplies by s
	deriveMultiply(s [EncodedLen]byte, in []byte) ([EncodedLen]byte, error)
	// multiply decodes p and multiplies it by s
	multiply(s [EncodedLen]byte, p []byte) ([EncodedLen]byte, error)
}

func newSuite(group string) (suite, error) {
	switch group {
	case params.GroupR255, "":
		return r255Suite{}, nil
	case params.GroupGR:
		return grSuite{}, nil
	default:
		return nil, fmt.Errorf("unknown oprf group %q", group)
	}
}

// "github.com/gtank/ristretto255"
type r255Suite struct{}

func (r255Suite) scalar(b [EncodedLen]byte) (*r255.Scalar, error) {
	s := r255.NewScalar()
	if err := s.Decode(b[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedElement, err)
	}
	return s, nil
}

func (r255Suite) randomScalar() (out [EncodedLen]byte, err error) {
	var uniformBytes = make([]byte, 64)
	if _, err = rand.Read(uniformBytes); err != nil {
		return out, fmt.Errorf("could not generate uniform bytes to seed r255: %w", err)
	}
	s := r255.NewScalar()
	s.FromUniformBytes(uniformBytes)
	copy(out[:], s.Encode(nil))
	return out, nil
}

func (r r255Suite) invert(b [EncodedLen]byte) (out [EncodedLen]byte, err error) {
	s, err := r.scalar(b)
	if err != nil {
		return out, err
	}
	s.Invert(s)
	copy(out[:], s.Encode(nil))
	return out, nil
}

func (r r255Suite) deriveMultiply(b [EncodedLen]byte, in []byte) (out [EncodedLen]byte, err error) {
	s, err := r.scalar(b)
	if err != nil {
		return out, err
	}
	var p = r255.NewElement()
	// derive
	hash := sha512.Sum512(in)
	p.FromUniformBytes(hash[:])
	// multiply
	p.ScalarMult(s, p)
	copy(out[:], p.Encode(nil))
	return out, nil
}

func (r r255Suite) multiply(b [EncodedLen]byte, encoded []byte) (out [EncodedLen]byte, err error) {
	s, err := r.scalar(b)
	if err != nil {
		return out, err
	}
	var p = r255.NewElement()
	if err := p.Decode(encoded); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedElement, err)
	}
	p.ScalarMult(s, p)
	copy(out[:], p.Encode(nil))
	return out, nil
}

// "github.com/bwesterb/go-ristretto"
type grSuite struct{}

func (grSuite) randomScalar() (out [EncodedLen]byte, err error) {
	var s gr.Scalar
	s.Rand()
	s.BytesInto(&out)
	return out, nil
}

func (grSuite) invert(b [EncodedLen]byte) (out [EncodedLen]byte, err error) {
	var s gr.Scalar
	s.SetBytes(&b)
	s.Inverse(&s)
	s.BytesInto(&out)
	return out, nil
}

func (grSuite) deriveMultiply(b [EncodedLen]byte, in []byte) (out [EncodedLen]byte, err error) {
	var s gr.Scalar
	s.SetBytes(&b)
	var p gr.Point
	// derive
	p.DeriveDalek(in)
	// multiply
	var q gr.Point
	q.ScalarMult(&p, &s)
	q.BytesInto(&out)
	return out, nil
}

func (grSuite) multiply(b [EncodedLen]byte, encoded []byte) (out [EncodedLen]byte, err error) {
	if len(encoded) != EncodedLen {
		return out, fmt.Errorf("%w: element of %d bytes", ErrMalformedElement, len(encoded))
	}
	var s gr.Scalar
	s.SetBytes(&b)
	var buf [EncodedLen]byte
	copy(buf[:], encoded)
	var p gr.Point
	if !p.SetBytes(&buf) {
		return out, ErrMalformedElement
	}
	p.ScalarMult(&p, &s)
	p.BytesInto(&out)
	return out, nil
}
