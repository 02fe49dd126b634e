// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package acs

import "github.com/luxfi/abft/quorum"

// instanceState is the per-ACS-round record (spec §3.3 arena allocation).
type instanceState struct {
	// terminatedDealers mirrors the original IBFT design's
	// term_asks_instances: the set of dealers whose ACSS this node has
	// locally terminated for this round.
	terminatedDealers map[int]bool

	gatherEchoSent bool
	echoSenders    map[int]bool
	echoSets       [][]int // one entry per distinct sender, in arrival order

	gatherEcho2Sent  bool
	witnessCandidate []int

	echo2Senders map[int]bool
	echo2Counter *quorum.Counter

	mvbaReady bool
}

func newInstanceState() *instanceState {
	return &instanceState{
		terminatedDealers: make(map[int]bool),
		echoSenders:       make(map[int]bool),
		echo2Senders:      make(map[int]bool),
		echo2Counter:      quorum.NewCounter(),
	}
}
