// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mvba

// roundState holds one MVBA round's leader-election and proposal
// bookkeeping.
type roundState struct {
	witnessProposals map[int][]int // proposer -> proposed witness set

	leaderCoinSenders map[int]bool
	leaderCoinShares  [][]byte
	leaderElected     *int

	baStarted bool
}

func newRoundState() *roundState {
	return &roundState{
		witnessProposals:  make(map[int][]int),
		leaderCoinSenders: make(map[int]bool),
	}
}

// instanceState is the per-ACS-agreement record, spanning as many MVBA
// rounds as it takes to converge on a leader whose proposal the embedded
// binary_ba accepts.
type instanceState struct {
	rounds map[uint32]*roundState

	myProposal []int

	terminated bool
	decidedSet []int
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
