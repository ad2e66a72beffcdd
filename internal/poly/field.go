// Package poly implements the plaintext side polynomial arithmetic over Z_t:
// membership polynomials from their roots, label interpolation and the powers
// DAG used to evaluate them on encrypted points.
package poly

import (
	"errors"
	"math/bits"
)

var ErrDuplicatePoint = errors.New("interpolation points are not distinct")

// Field is arithmetic modulo a prime t < 2^63
type Field struct {
	T uint64
}

// NewField returns the prime field Z_t
func NewField(t uint64) Field {
	return Field{T: t}
}

// Reduce maps any uint64 into the field
func (f Field) Reduce(a uint64) uint64 {
	return a % f.T
}

func (f Field) Add(a, b uint64) uint64 {
	s := a + b
	if s >= f.T {
		s -= f.T
	}
	return s
}

func (f Field) Sub(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}
	return a + f.T - b
}

func (f Field) Neg(a uint64) uint64 {
	if a == 0 {
		return 0
	}
	return f.T - a
}

// Mul requires a, b < t so the high word is below t
func (f Field) Mul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	_, r := bits.Div64(hi, lo, f.T)
	return r
}

func (f Field) Pow(a uint64, e uint64) uint64 {
	r := uint64(1)
	for ; e > 0; e >>= 1 {
		if e&1 == 1 {
			r = f.Mul(r, a)
		}
		a = f.Mul(a, a)
	}
	return r
}

// Inv is the multiplicative inverse of a != 0
func (f Field) Inv(a uint64) uint64 {
	return f.Pow(a, f.T-2)
}

// FromRoots returns the coefficients, lowest degree first, of the monic
// polynomial prod (x - r) over roots. No roots yields the constant 1.
func (f Field) FromRoots(roots []uint64) []uint64 {
	coeffs := make([]uint64, len(roots)+1)
	coeffs[0] = 1
	for i, r := range roots {
		neg := f.Neg(r)
		// multiply by (x - r), degree grows from i to i+1
		for k := i + 1; k > 0; k-- {
			coeffs[k] = f.Add(coeffs[k-1], f.Mul(coeffs[k], neg))
		}
		coeffs[0] = f.Mul(coeffs[0], neg)
	}
	return coeffs
}

// Interpolate returns the coefficients, lowest degree first, of the unique
// polynomial of degree < len(xs) going through (xs[i], ys[i]).
func (f Field) Interpolate(xs, ys []uint64) ([]uint64, error) {
	n := len(xs)
	if n != len(ys) {
		return nil, errors.New("mismatched interpolation points")
	}
	if n == 0 {
		return nil, nil
	}

	// Newton divided differences, in place
	dd := make([]uint64, n)
	copy(dd, ys)
	for j := 1; j < n; j++ {
		for i := n - 1; i >= j; i-- {
			den := f.Sub(xs[i], xs[i-j])
			if den == 0 {
				return nil, ErrDuplicatePoint
			}
			dd[i] = f.Mul(f.Sub(dd[i], dd[i-1]), f.Inv(den))
		}
	}

	// expand dd[0] + dd[1](x-x0) + dd[2](x-x0)(x-x1) + ... by Horner
	coeffs := make([]uint64, n)
	coeffs[0] = dd[n-1]
	deg := 0
	for k := n - 2; k >= 0; k-- {
		neg := f.Neg(xs[k])
		// coeffs = coeffs * (x - xs[k]) + dd[k]
		deg++
		for i := deg; i > 0; i-- {
			coeffs[i] = f.Add(coeffs[i-1], f.Mul(coeffs[i], neg))
		}
		coeffs[0] = f.Add(f.Mul(coeffs[0], neg), dd[k])
	}
	return coeffs, nil
}

// Eval evaluates coeffs at x
func (f Field) Eval(coeffs []uint64, x uint64) uint64 {
	var r uint64
	for i := len(coeffs) - 1; i >= 0; i-- {
		r = f.Add(f.Mul(r, x), coeffs[i])
	}
	return r
}
