// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package field implements arithmetic over the large field used for
// Shamir sharing and the ACSS bivariate polynomial construction: a fixed
// 252-bit prime field, represented uniformly as math/big.Int-backed
// elements (spec §3.2, §9 field-consolidation note). There is no
// separate small-field type; GF(256) arithmetic happens at the byte level
// inside crypto/merkle's Reed-Solomon coding and is never mixed with this
// type.
package field

import (
	"crypto/rand"
	"math/big"
)

// modulus is a 252-bit prime, separate from the 255-bit scalar field of
// the BLS12-381 curve that crypto/coin builds its BLS threshold coin over;
// this is the field ACSS's bivariate polynomials live in.
var modulus, _ = new(big.Int).SetString(
	"3618502788666131213697322783095070105623107215331596699973092056135872020481", 10) // 2^251 + 17*2^192 + 1

// Element is a large field element, always reduced modulo modulus.
type Element struct {
	v *big.Int
}

// Modulus returns the field's prime modulus.
func Modulus() *big.Int {
	return new(big.Int).Set(modulus)
}

// Zero returns the additive identity.
func Zero() Element { return Element{v: big.NewInt(0)} }

// One returns the multiplicative identity.
func One() Element { return Element{v: big.NewInt(1)} }

// FromInt64 wraps a small integer as a field element.
func FromInt64(x int64) Element {
	return reduce(big.NewInt(x))
}

// FromBigInt reduces an arbitrary big.Int into the field.
func FromBigInt(x *big.Int) Element {
	return reduce(new(big.Int).Set(x))
}

// FromBytes reduces a big-endian byte string into the field (spec §6:
// field elements are serialized as big-endian fixed-width byte strings).
func FromBytes(b []byte) Element {
	return reduce(new(big.Int).SetBytes(b))
}

func reduce(x *big.Int) Element {
	x.Mod(x, modulus)
	return Element{v: x}
}

// Bytes returns the 32-byte big-endian encoding of e.
func (e Element) Bytes() []byte {
	out := make([]byte, 32)
	b := e.v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

// BigInt returns a copy of the underlying integer.
func (e Element) BigInt() *big.Int {
	return new(big.Int).Set(e.v)
}

// Add returns e+o mod p.
func (e Element) Add(o Element) Element {
	return reduce(new(big.Int).Add(e.v, o.v))
}

// Sub returns e-o mod p.
func (e Element) Sub(o Element) Element {
	return reduce(new(big.Int).Sub(e.v, o.v))
}

// Mul returns e*o mod p.
func (e Element) Mul(o Element) Element {
	return reduce(new(big.Int).Mul(e.v, o.v))
}

// Inv returns the multiplicative inverse of e, or the zero element if e is
// zero (there is no inverse; callers must not call Inv on zero).
func (e Element) Inv() Element {
	if e.v.Sign() == 0 {
		return Zero()
	}
	return Element{v: new(big.Int).ModInverse(e.v, modulus)}
}

// Neg returns -e mod p.
func (e Element) Neg() Element {
	return reduce(new(big.Int).Neg(e.v))
}

// Equal reports whether e and o represent the same field element.
func (e Element) Equal(o Element) bool {
	return e.v.Cmp(o.v) == 0
}

// IsZero reports whether e is the additive identity.
func (e Element) IsZero() bool {
	return e.v.Sign() == 0
}

// Random returns a uniformly random field element.
func Random() (Element, error) {
	x, err := rand.Int(rand.Reader, modulus)
	if err != nil {
		return Element{}, err
	}
	return Element{v: x}, nil
}

// String renders the element in decimal, for logging/debugging.
func (e Element) String() string {
	return e.v.String()
}
