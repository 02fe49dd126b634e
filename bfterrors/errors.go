// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bfterrors defines the error taxonomy shared by every protocol
// package: AuthFail, ProofFail, DecodeFail, ThresholdUnmet, ConfigFatal,
// ReconstructionMismatch.
package bfterrors

import "github.com/cockroachdb/errors"

// Sentinel errors identifying the taxonomy entries. Use errors.Is against
// these, and errors.Wrap to attach instance-specific context.
var (
	// ErrAuthFail is returned when a MAC fails to verify. The message is
	// dropped and does not count toward any threshold.
	ErrAuthFail = errors.New("abft: MAC authentication failed")

	// ErrProofFail is returned when a Merkle or dZK proof fails to verify.
	// The sender is excluded from this instance's counts, nothing more.
	ErrProofFail = errors.New("abft: proof verification failed")

	// ErrDecodeFail is returned when a wire message fails to deserialize.
	ErrDecodeFail = errors.New("abft: malformed message")

	// ErrThresholdUnmet is not a failure: normal control flow signalling
	// that a count has not yet reached the quorum it needs.
	ErrThresholdUnmet = errors.New("abft: threshold not yet met")

	// ErrConfigFatal indicates a misconfiguration (missing shared key for a
	// known sender, malformed n/t parameters) that halts the node.
	ErrConfigFatal = errors.New("abft: fatal configuration error")

	// ErrReconstructionMismatch is returned when a payload reconstructed
	// from 2t+1 verified shards does not hash to the committed root.
	ErrReconstructionMismatch = errors.New("abft: reconstruction does not match commitment")
)

// Wrap attaches msg as context to err while preserving errors.Is matching
// against the sentinel above.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Is reports whether err (or any error it wraps) matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
