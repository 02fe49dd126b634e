// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package acss

import (
	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/field"
	"github.com/luxfi/abft/quorum"
)

// instanceState is the per-instance record. Echo/Ready thresholds are
// keyed by the pair of committed root vectors (column roots + blinding
// roots), since those are what every honest node must agree matches
// (spec §4.5 step 5).
type instanceState struct {
	dealer int

	haveInit     bool
	echoSenders  map[int]bool
	readySenders map[int]bool

	echoCounters  map[string]*quorum.Counter
	readyCounters map[string]*quorum.Counter

	columnRoots   []merkle.Hash
	blindingRoots []merkle.Hash
	echoSent      bool
	readySent     bool
	terminated    bool

	// witnessReached records that the Ready/witness threshold has been
	// met; delivery still waits on haveShares so a node never hands its
	// application layer a nil row polynomial it hasn't processed yet
	// (a node can cross the threshold purely via Ready amplification
	// before its own Init arrives).
	witnessReached bool

	haveShares   bool
	rowPoly      field.Poly
	blindRowPoly field.Poly
}

func newInstanceState(dealer int) *instanceState {
	return &instanceState{
		dealer:        dealer,
		echoSenders:   make(map[int]bool),
		readySenders:  make(map[int]bool),
		echoCounters:  make(map[string]*quorum.Counter),
		readyCounters: make(map[string]*quorum.Counter),
	}
}

func rootsKey(a, b []merkle.Hash) string {
	buf := make([]byte, 0, (len(a)+len(b))*merkle.HashSize)
	for _, h := range a {
		buf = append(buf, h[:]...)
	}
	for _, h := range b {
		buf = append(buf, h[:]...)
	}
	return string(buf)
}

func (s *instanceState) echoCounter(key string) *quorum.Counter {
	c, ok := s.echoCounters[key]
	if !ok {
		c = quorum.NewCounter()
		s.echoCounters[key] = c
	}
	return c
}

func (s *instanceState) readyCounter(key string) *quorum.Counter {
	c, ok := s.readyCounters[key]
	if !ok {
		c = quorum.NewCounter()
		s.readyCounters[key] = c
	}
	return c
}
