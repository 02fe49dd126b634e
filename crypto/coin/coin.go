// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package coin implements the shared coin used by BBACoin (spec §4.6
// binary BA) and LeaderCoin (spec §4.6 MVBA): a threshold BLS signature
// over (instanceID, round), reconstructed once t+1 partial signatures
// have been collected and reduced to a bit or a leader index by hashing
// the aggregate signature.
//
// This is grounded in drand-drand, the pack's production threshold-
// randomness beacon, which builds its own round signature the same way:
// a threshold BLS scheme over the BLS12-381 G2 group (crypto/schemes.go),
// with per-party partial signatures combined via Lagrange interpolation
// (go.dedis.ch/kyber's share package, vendored by drand as
// github.com/drand/kyber/share).
package coin

import (
	"encoding/binary"

	bls "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/sign/tbls"

	"github.com/luxfi/abft/bfterrors"
)

var suite = bls.NewBLS12381Suite()

// scheme is the threshold BLS scheme used for every coin in this process,
// mirroring drand's ThresholdScheme which is likewise a single
// package-level value (crypto/schemes.go).
var scheme = tbls.NewThresholdSchemeOnG2(suite)

// KeySet holds the trusted-dealer-generated threshold key material for one
// coin instance: each replica's private share plus the public commitment
// polynomial used to verify shares and to recover the group public key.
// Spec §1 excludes PKI beyond pre-shared keys; this trusted-dealer
// generation plays the same pre-shared-material role for the coin as the
// MAC keys do for message authentication, and happens once at startup.
type KeySet struct {
	Shares []*share.PriShare
	Public *share.PubPoly
}

// Setup generates threshold BLS key material for n replicas tolerating t
// Byzantine faults (reconstruction threshold t+1), via a single trusted
// dealer. Real deployments would replace this with a DKG; that is out of
// scope here (spec §1 Non-goals).
func Setup(n, t int) (*KeySet, error) {
	secret := suite.G2().Scalar().Pick(suite.RandomStream())
	priPoly := share.NewPriPoly(suite.G2(), t+1, secret, suite.RandomStream())
	pubPoly := priPoly.Commit(suite.G2().Point().Base())
	return &KeySet{
		Shares: priPoly.Shares(n),
		Public: pubPoly,
	}, nil
}

// seed deterministically derives the coin-toss message from the instance
// and round, so every replica signs the same message.
func seed(instanceID uint64, round int) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf, instanceID)
	binary.BigEndian.PutUint32(buf[8:], uint32(round))
	return buf
}

// Share computes replica i's partial signature over (instanceID, round).
func Share(ks *KeySet, i int, instanceID uint64, round int) ([]byte, error) {
	if i < 0 || i >= len(ks.Shares) {
		return nil, bfterrors.ErrConfigFatal
	}
	return tbls.Sign(suite, ks.Shares[i], seed(instanceID, round))
}

// VerifyShare checks a single partial signature against the public
// commitment polynomial (spec's dZK-adjacent soundness requirement: a
// coin share from a dishonest party that does not match its committed
// key share must never count toward reconstruction).
func VerifyShare(ks *KeySet, instanceID uint64, round int, sig []byte) error {
	if err := tbls.Verify(suite, ks.Public, seed(instanceID, round), sig); err != nil {
		return bfterrors.Wrap(bfterrors.ErrProofFail, "coin share verification failed")
	}
	return nil
}

// Recover reconstructs the full threshold signature from t+1 verified
// shares and reduces it to a coin outcome. n must be the total number of
// replicas the KeySet was generated for.
func Recover(ks *KeySet, instanceID uint64, round int, shares [][]byte, t, n int) (Outcome, error) {
	sig, err := scheme.Recover(ks.Public, seed(instanceID, round), shares, t+1, n)
	if err != nil {
		return Outcome{}, bfterrors.Wrap(err, "recover threshold signature")
	}
	return Outcome{sig: sig}, nil
}

// Outcome is the reconstructed shared coin, reducible to either a binary
// bit (BBACoin) or a leader index in [0,n) (LeaderCoin).
type Outcome struct {
	sig []byte
}

// Bit reduces the coin to a single bit, per spec §4.6's BBACoin unlock
// step.
func (o Outcome) Bit() int {
	if len(o.sig) == 0 {
		return 0
	}
	return int(o.sig[len(o.sig)-1] & 1)
}

// Leader reduces the coin to a leader index in [0, n), per spec §4.6's
// LeaderCoin round-leader election.
func (o Outcome) Leader(n int) int {
	if n <= 0 || len(o.sig) == 0 {
		return 0
	}
	acc := uint32(0)
	for _, b := range o.sig {
		acc = acc*31 + uint32(b)
	}
	return int(acc % uint32(n))
}

// Bytes returns the raw reconstructed signature, usable as generic
// randomness beyond Bit/Leader.
func (o Outcome) Bytes() []byte {
	return o.sig
}
