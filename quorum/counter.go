// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package quorum counts sender-deduplicated votes (echoes, readies,
// gather-echoes) against the witness thresholds of spec §2: the
// reconstruction threshold t+1 and the witness threshold 2t+1. It is a
// narrower sibling of the teacher's threshold package, which models
// confidence-accumulating binary consensus (Prism/Beta rounds); this
// protocol family has no notion of confidence rounds, only flat
// cardinality thresholds, so Counter keeps only the counting primitive.
package quorum

import (
	"fmt"

	"github.com/luxfi/abft/utils/set"
)

// Params are the fixed (n, t) parameters of a running instance (spec §2).
type Params struct {
	N int
	T int
}

// ReconstructionThreshold is t+1.
func (p Params) ReconstructionThreshold() int { return p.T + 1 }

// WitnessThreshold is 2t+1 = n-t.
func (p Params) WitnessThreshold() int { return 2*p.T + 1 }

// Counter counts distinct senders who have contributed to a threshold
// check. It never double-counts a sender (spec §3.3: "the set of senders
// from which an ECHO/READY has been counted is deduplicated").
type Counter struct {
	voters set.Set[int]
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{voters: set.NewSet[int](0)}
}

// Add records a vote from sender. Returns false if sender already voted
// (duplicate, per spec §3.3 first-message-only rule).
func (c *Counter) Add(sender int) bool {
	if c.voters.Contains(sender) {
		return false
	}
	c.voters.Add(sender)
	return true
}

// Count returns the number of distinct senders counted so far.
func (c *Counter) Count() int {
	return c.voters.Len()
}

// Met reports whether count has reached threshold.
func (c *Counter) Met(threshold int) bool {
	return c.Count() >= threshold
}

// Senders returns the set of senders counted so far.
func (c *Counter) Senders() set.Set[int] {
	return c.voters
}

func (c *Counter) String() string {
	return fmt.Sprintf("Counter{count: %d}", c.Count())
}
