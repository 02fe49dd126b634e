// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package avid

import (
	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/quorum"
)

// instanceState is the per-instance record: echo/ready sender-dedup sets
// and counters keyed by root, plus this node's own private shard if and
// only if it was the intended recipient (spec §4.4).
type instanceState struct {
	dealer int

	haveInit     bool
	echoSenders  map[int]bool
	readySenders map[int]bool

	echoCounters  map[merkle.Hash]*quorum.Counter
	readyCounters map[merkle.Hash]*quorum.Counter

	lockedRoot *merkle.Hash
	echoSent   bool
	readySent  bool

	leaves []merkle.Hash

	isRecipient  bool
	privateShard []byte

	terminated bool
}

func newInstanceState(dealer int) *instanceState {
	return &instanceState{
		dealer:        dealer,
		echoSenders:   make(map[int]bool),
		readySenders:  make(map[int]bool),
		echoCounters:  make(map[merkle.Hash]*quorum.Counter),
		readyCounters: make(map[merkle.Hash]*quorum.Counter),
	}
}

func (s *instanceState) echoCounter(root merkle.Hash) *quorum.Counter {
	c, ok := s.echoCounters[root]
	if !ok {
		c = quorum.NewCounter()
		s.echoCounters[root] = c
	}
	return c
}

func (s *instanceState) readyCounter(root merkle.Hash) *quorum.Counter {
	c, ok := s.readyCounters[root]
	if !ok {
		c = quorum.NewCounter()
		s.readyCounters[root] = c
	}
	return c
}
