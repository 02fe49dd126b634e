// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package termination carries cross-layer hand-offs inside engine.Node:
// spec §9's "termination callbacks realized as message-passing" applied
// one level up, from each consensus/* package's Callbacks into the
// node's own event loop, so that a lower layer's termination never runs
// the next layer's logic on its own call stack.
package termination

// Kind identifies which cross-layer hand-off an Event carries.
type Kind int

const (
	// ACSSDeliver fires when this node's own ACSS share for (round,
	// dealer) has terminated; the node answers by proposing ACSSTerm=1
	// into RA for that (round, dealer) pair (spec §4.7).
	ACSSDeliver Kind = iota
	// RADeliver fires when RA has delivered a value for an ACSSTerm
	// instance; value 1 feeds the gather phase's NotifyACSSTerminated.
	RADeliver
	// ACSWitnessReady fires when the gather phase has computed this
	// node's witness candidate, ready to become its MVBA proposal (spec
	// §4.6 step 4).
	ACSWitnessReady
	// MVBADecide fires when MVBA has fixed the round's common output.
	MVBADecide
)

// Event is one cross-layer hand-off, queued on Node's termination
// channel and drained by its own Run loop iteration, never invoked
// directly from inside another layer's handler.
type Event struct {
	Kind       Kind
	InstanceID uint64
	Dealer     int
	Value      int64
	WitnessSet []int
}
