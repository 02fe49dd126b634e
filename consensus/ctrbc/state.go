// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ctrbc

import (
	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/quorum"
)

// instanceState is the per-instance record of spec §3.3/§4.3: echo/ready
// maps keyed by root then sender (sender-deduplicated), the sticky
// echo_root_locked/echo_sent/ready_sent/terminated flags, and the
// delivered message once terminated.
type instanceState struct {
	dealer int

	haveInit     bool
	echoSenders  map[int]bool // global per-instance dedup, spec §3.3
	readySenders map[int]bool

	echoCounters  map[merkle.Hash]*quorum.Counter
	echoShards    map[merkle.Hash]map[int]merkle.Proof
	readyCounters map[merkle.Hash]*quorum.Counter
	readyShards   map[merkle.Hash]map[int]merkle.Proof

	lockedRoot *merkle.Hash
	echoSent   bool
	readySent  bool

	dataLen    uint32
	terminated bool
	message    []byte
}

func newInstanceState(dealer int) *instanceState {
	return &instanceState{
		dealer:        dealer,
		echoSenders:   make(map[int]bool),
		readySenders:  make(map[int]bool),
		echoCounters:  make(map[merkle.Hash]*quorum.Counter),
		echoShards:    make(map[merkle.Hash]map[int]merkle.Proof),
		readyCounters: make(map[merkle.Hash]*quorum.Counter),
		readyShards:   make(map[merkle.Hash]map[int]merkle.Proof),
	}
}

func (s *instanceState) echoCounter(root merkle.Hash) *quorum.Counter {
	c, ok := s.echoCounters[root]
	if !ok {
		c = quorum.NewCounter()
		s.echoCounters[root] = c
		s.echoShards[root] = make(map[int]merkle.Proof)
	}
	return c
}

func (s *instanceState) readyCounter(root merkle.Hash) *quorum.Counter {
	c, ok := s.readyCounters[root]
	if !ok {
		c = quorum.NewCounter()
		s.readyCounters[root] = c
		s.readyShards[root] = make(map[int]merkle.Proof)
	}
	return c
}

// collectedShards merges echo and ready proofs for root, deduplicated by
// sender, for reconstruction (spec §4.3 step 3: "collected shards (echo ∪
// ready entries, dedup by sender)").
func (s *instanceState) collectedShards(root merkle.Hash) map[int][]byte {
	out := make(map[int][]byte)
	for _, p := range s.echoShards[root] {
		out[p.Index] = p.Shard
	}
	for _, p := range s.readyShards[root] {
		out[p.Index] = p.Shard
	}
	return out
}
