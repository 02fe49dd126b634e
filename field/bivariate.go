// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package field

// BivariatePoly represents F(x,y) of degree (t,t) as a (t+1)x(t+1) matrix
// of coefficients, coeffs[i][j] multiplying x^i * y^j (spec §4.5 step 1).
// A batch of k secrets s_1..s_k is embedded by choosing row 0's
// y-polynomial g(y) = F(0,y) so that it evaluates to g(j) = s_j for
// j=1..k (the dealer's own evaluation points, never handed to a
// recipient); the rest of g's evaluation points, and every other row,
// are random. Pinning an evaluation this way takes a full interpolation
// of row 0's coefficients (see rowZeroFromSecrets) — writing a secret
// directly into a single coefficient slot does not, in general, make
// the polynomial evaluate to that secret anywhere.
type BivariatePoly struct {
	coeffs [][]Element // coeffs[i][j], i,j in [0,degree]
	degree int
}

// NewBivariatePoly builds a random bivariate polynomial of the given
// degree such that F(0, j) = secrets[j-1] for j=1..len(secrets) (the
// dealer's batch of k secrets, k <= degree, spec §4.5).
func NewBivariatePoly(degree int, secrets []Element) (*BivariatePoly, error) {
	b := &BivariatePoly{
		coeffs: make([][]Element, degree+1),
		degree: degree,
	}
	row0, err := rowZeroFromSecrets(degree, secrets)
	if err != nil {
		return nil, err
	}
	b.coeffs[0] = row0
	for i := 1; i <= degree; i++ {
		b.coeffs[i] = make([]Element, degree+1)
		for j := range b.coeffs[i] {
			c, err := Random()
			if err != nil {
				return nil, err
			}
			b.coeffs[i][j] = c
		}
	}
	return b, nil
}

// rowZeroFromSecrets builds the degree+1 coefficients of g(y) = F(0,y)
// such that g(j) = secrets[j-1] for j=1..len(secrets), with every other
// evaluation point g(0), g(len(secrets)+1), ... filled with random
// values. The coefficients are recovered by interpolating through all
// degree+1 points at once (field.InterpolatePoly), since fixing several
// evaluations simultaneously cannot be done by writing into individual
// coefficient slots.
func rowZeroFromSecrets(degree int, secrets []Element) (Poly, error) {
	points := make([]Share, 0, degree+1)
	for j, s := range secrets {
		points = append(points, Share{X: FromInt64(int64(j + 1)), Y: s})
	}
	for x := int64(0); len(points) <= degree; x++ {
		if x >= 1 && x <= int64(len(secrets)) {
			continue
		}
		y, err := Random()
		if err != nil {
			return nil, err
		}
		points = append(points, Share{X: FromInt64(x), Y: y})
	}
	return InterpolatePoly(points), nil
}

// Degree returns the (t,t) degree the polynomial was constructed with.
func (b *BivariatePoly) Degree() int { return b.degree }

// Eval evaluates F(x,y).
func (b *BivariatePoly) Eval(x, y Element) Element {
	acc := Zero()
	xPow := One()
	for i := 0; i <= b.degree; i++ {
		yPow := One()
		rowAcc := Zero()
		for j := 0; j <= b.degree; j++ {
			rowAcc = rowAcc.Add(b.coeffs[i][j].Mul(yPow))
			yPow = yPow.Mul(y)
		}
		acc = acc.Add(rowAcc.Mul(xPow))
		xPow = xPow.Mul(x)
	}
	return acc
}

// Row returns R_i(y) = F(i,y), the row polynomial handed to recipient i
// (spec §4.5 step 1).
func (b *BivariatePoly) Row(i Element) Poly {
	out := make(Poly, b.degree+1)
	for j := 0; j <= b.degree; j++ {
		acc := Zero()
		xPow := One()
		for k := 0; k <= b.degree; k++ {
			acc = acc.Add(b.coeffs[k][j].Mul(xPow))
			xPow = xPow.Mul(i)
		}
		out[j] = acc
	}
	return out
}

// Column returns C_j(x) = F(x,j), committed as column_roots[j] (spec §4.5
// step 2).
func (b *BivariatePoly) Column(j Element) Poly {
	out := make(Poly, b.degree+1)
	for i := 0; i <= b.degree; i++ {
		acc := Zero()
		yPow := One()
		for k := 0; k <= b.degree; k++ {
			acc = acc.Add(b.coeffs[i][k].Mul(yPow))
			yPow = yPow.Mul(j)
		}
		out[i] = acc
	}
	return out
}

// ColumnValues returns (C_j(0), C_j(1), ..., C_j(n)), the n+1 leaves
// committed into column_roots[j] (spec §4.5 step 2). Index 0 corresponds
// to x=0 (the dealer's own evaluation point, used only for verification,
// never handed to a recipient); indices 1..n are recipients 0..n-1.
func (b *BivariatePoly) ColumnValues(j Element, n int) []Element {
	col := b.Column(j)
	out := make([]Element, n+1)
	for x := 0; x <= n; x++ {
		out[x] = col.Eval(FromInt64(int64(x)))
	}
	return out
}
