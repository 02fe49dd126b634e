// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package binaryba

import (
	"github.com/luxfi/abft/quorum"
)

// roundState holds one round's echo-layer bookkeeping. bvalSent and
// bvalCounters are indexed by value (0 or 1); only two ever exist.
// auxSenders maps each AUX sender to the value it sent.
type roundState struct {
	bvalSent     [2]bool
	bvalCounters [2]*quorum.Counter
	bvalSenders  map[int]map[byte]bool // sender -> values already counted, for re-broadcast dedup

	binValues []byte // values that reached 2t+1 BVAL support this round

	auxSent     bool
	auxSenders  map[int]byte
	confSent    bool
	confSenders map[int][]byte

	coinSent    bool
	coinSenders map[int]bool
	coinShares  [][]byte
	coinOutcome *int

	decisionVals map[byte]bool // union of CONF-confirmed values, set once coin is triggered
}

func newRoundState() *roundState {
	return &roundState{
		bvalCounters: [2]*quorum.Counter{quorum.NewCounter(), quorum.NewCounter()},
		bvalSenders:  make(map[int]map[byte]bool),
		auxSenders:   make(map[int]byte),
		confSenders:  make(map[int][]byte),
		coinSenders:  make(map[int]bool),
	}
}

// instanceState is the per-instance (per leader-acceptance-vote) record,
// spanning as many rounds as needed to converge (spec §4.6: "arbitrates
// per-leader acceptance").
type instanceState struct {
	rounds map[uint32]*roundState
	round  uint32

	decided      bool
	decidedValue byte
	terminated   bool
}

func newInstanceState() *instanceState {
	return &instanceState{rounds: make(map[uint32]*roundState)}
}

func (s *instanceState) atRound(r uint32) *roundState {
	rs, ok := s.rounds[r]
	if !ok {
		rs = newRoundState()
		s.rounds[r] = rs
	}
	return rs
}
