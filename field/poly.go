// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package field

// Poly is a univariate polynomial over the field, stored as an ordered
// coefficient slice with Poly[i] the coefficient of x^i (spec §3.2).
type Poly []Element

// NewPoly builds a degree-len(coeffs)-1 polynomial from coefficients,
// lowest degree first.
func NewPoly(coeffs ...Element) Poly {
	p := make(Poly, len(coeffs))
	copy(p, coeffs)
	return p
}

// RandomPoly returns a random polynomial of the given degree with a fixed
// constant term (used when the constant term is a secret to be shared).
func RandomPoly(degree int, constant Element) (Poly, error) {
	p := make(Poly, degree+1)
	p[0] = constant
	for i := 1; i <= degree; i++ {
		c, err := Random()
		if err != nil {
			return nil, err
		}
		p[i] = c
	}
	return p, nil
}

// Degree returns the polynomial's degree.
func (p Poly) Degree() int {
	return len(p) - 1
}

// Eval evaluates p at x using Horner's method.
func (p Poly) Eval(x Element) Element {
	if len(p) == 0 {
		return Zero()
	}
	acc := p[len(p)-1]
	for i := len(p) - 2; i >= 0; i-- {
		acc = acc.Mul(x).Add(p[i])
	}
	return acc
}

// Add returns the coefficient-wise sum of p and o.
func (p Poly) Add(o Poly) Poly {
	n := len(p)
	if len(o) > n {
		n = len(o)
	}
	out := make(Poly, n)
	for i := 0; i < n; i++ {
		var a, b Element = Zero(), Zero()
		if i < len(p) {
			a = p[i]
		}
		if i < len(o) {
			b = o[i]
		}
		out[i] = a.Add(b)
	}
	return out
}

// Scale returns p with every coefficient multiplied by c.
func (p Poly) Scale(c Element) Poly {
	out := make(Poly, len(p))
	for i, coef := range p {
		out[i] = coef.Mul(c)
	}
	return out
}

// Mul returns the product p*o by coefficient convolution.
func (p Poly) Mul(o Poly) Poly {
	if len(p) == 0 || len(o) == 0 {
		return Poly{}
	}
	out := make(Poly, len(p)+len(o)-1)
	for i := range out {
		out[i] = Zero()
	}
	for i, a := range p {
		for j, b := range o {
			out[i+j] = out[i+j].Add(a.Mul(b))
		}
	}
	return out
}

// Share is a Shamir share: the evaluation point X and the value Y = f(X)
// (spec §3.2 "Shamir share").
type Share struct {
	X Element
	Y Element
}

// Shares evaluates p at 1..n, returning n shares (x=0 is reserved for the
// secret itself and never handed out).
func (p Poly) Shares(n int) []Share {
	out := make([]Share, n)
	for i := 0; i < n; i++ {
		x := FromInt64(int64(i + 1))
		out[i] = Share{X: x, Y: p.Eval(x)}
	}
	return out
}

// Interpolate reconstructs f(targetX) from shares via Lagrange
// interpolation. Requires len(shares) >= degree+1 distinct x-coordinates;
// the caller is responsible for supplying only verified shares (spec §4.2:
// "reconstruction requires any t+1 verified shards").
func Interpolate(shares []Share, targetX Element) Element {
	acc := Zero()
	for i, si := range shares {
		num := One()
		den := One()
		for j, sj := range shares {
			if i == j {
				continue
			}
			num = num.Mul(targetX.Sub(sj.X))
			den = den.Mul(si.X.Sub(sj.X))
		}
		term := si.Y.Mul(num).Mul(den.Inv())
		acc = acc.Add(term)
	}
	return acc
}

// InterpolateAtZero is the common case of reconstructing the secret f(0).
func InterpolateAtZero(shares []Share) Element {
	return Interpolate(shares, Zero())
}

// InterpolatePoly reconstructs the full degree-len(shares)-1 polynomial
// passing through shares, by summing each share's Lagrange basis
// polynomial scaled by its Y value. Unlike Interpolate, which evaluates
// the interpolant at a single target point, this returns the coefficient
// vector itself so the polynomial can be evaluated at further points
// later (needed to pin a row's evaluations at several points at once,
// e.g. the bivariate sharing polynomial's row 0).
func InterpolatePoly(shares []Share) Poly {
	degree := len(shares) - 1
	result := make(Poly, degree+1)
	for i := range result {
		result[i] = Zero()
	}
	for i, si := range shares {
		num := NewPoly(One())
		den := One()
		for j, sj := range shares {
			if i == j {
				continue
			}
			num = num.Mul(NewPoly(sj.X.Neg(), One()))
			den = den.Mul(si.X.Sub(sj.X))
		}
		result = result.Add(num.Scale(si.Y.Mul(den.Inv())))
	}
	return result
}
