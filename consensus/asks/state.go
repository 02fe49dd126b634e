// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package asks

import (
	"github.com/luxfi/abft/field"
	"github.com/luxfi/abft/quorum"
)

// instanceState is the per-instance record for the sharing phase
// (echo/ready over the committed vector) plus the independent
// reconstruction phase's collected (index, share) pairs.
type instanceState struct {
	dealer int

	haveInit     bool
	echoSenders  map[int]bool
	readySenders map[int]bool

	echoCounters  map[string]*quorum.Counter // keyed by a stable encoding of the commitment vector
	readyCounters map[string]*quorum.Counter

	commitments []Commitment
	echoSent    bool
	readySent   bool
	terminated  bool

	haveShare bool
	share     field.Element
	nonce     field.Element

	// reconstruction phase
	reconSenders map[int]bool // index already contributed, dedup by claimed index
	reconShares  map[int]field.Element
	reconDone    bool
	reconValue   field.Element
}

func newInstanceState(dealer int) *instanceState {
	return &instanceState{
		dealer:        dealer,
		echoSenders:   make(map[int]bool),
		readySenders:  make(map[int]bool),
		echoCounters:  make(map[string]*quorum.Counter),
		readyCounters: make(map[string]*quorum.Counter),
		reconSenders:  make(map[int]bool),
		reconShares:   make(map[int]field.Element),
	}
}

func commitKey(cs []Commitment) string {
	b := make([]byte, 0, len(cs)*32)
	for _, c := range cs {
		b = append(b, c[:]...)
	}
	return string(b)
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
