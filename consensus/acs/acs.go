// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package acs

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/quorum"
	"github.com/luxfi/abft/transport"
)

// Config is the fixed per-node configuration shared by every ACS
// instance.
type Config struct {
	Self      int
	N, T      int
	Transport transport.Transport
	Keys      *transport.KeyStore
	Log       log.Logger
}

// Callbacks observes the outcome of the gather phase.
type Callbacks struct {
	// OnWitnessReady fires once per instance, the first time this node's
	// own witness candidate is ready to be handed to MVBA as its L3Witness
	// proposal (spec §4.6 step 4). It does not mean agreement has been
	// reached yet -- that is MVBA's job.
	OnWitnessReady func(instanceID uint64, witnessSet []int)
}

// Protocol runs the ACS gather phase for an arbitrary number of
// concurrently active instances (one per ACS round).
type Protocol struct {
	cfg       Config
	cb        Callbacks
	instances map[uint64]*instanceState
}

// New constructs an ACS protocol driver.
func New(cfg Config, cb Callbacks) *Protocol {
	return &Protocol{cfg: cfg, cb: cb, instances: make(map[uint64]*instanceState)}
}

func (p *Protocol) params() quorum.Params { return quorum.Params{N: p.cfg.N, T: p.cfg.T} }

func (p *Protocol) instance(instanceID uint64) *instanceState {
	inst, ok := p.instances[instanceID]
	if !ok {
		inst = newInstanceState()
		p.instances[instanceID] = inst
	}
	return inst
}

func (p *Protocol) keyFor(peer int) []byte {
	k, err := p.cfg.Keys.KeyFor(peer)
	if err != nil {
		p.cfg.Log.Fatal("acs: missing shared key", zap.Int("peer", peer), zap.Error(err))
	}
	return k
}

func (p *Protocol) broadcast(ctx context.Context, tag transport.Tag, body []byte, self func() error) error {
	if err := self(); err != nil {
		p.cfg.Log.Warn("acs: local handling failed", zap.Error(err))
	}
	for i := 0; i < p.cfg.N; i++ {
		if i == p.cfg.Self {
			continue
		}
		env := transport.Seal(p.keyFor(i), p.cfg.Self, tag, body)
		if err := p.cfg.Transport.Send(ctx, i, env); err != nil {
			return bfterrors.Wrapf(err, "send to %d", i)
		}
	}
	return nil
}

func validSet(vals []int, n int) bool {
	seen := make(map[int]bool, len(vals))
	for _, v := range vals {
		if v < 0 || v >= n || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// RegisterInstance pre-registers instanceID before any message for it
// has arrived.
func (p *Protocol) RegisterInstance(instanceID uint64) {
	p.instance(instanceID)
}

// NotifyACSSTerminated is invoked by the caller (the engine) every time
// this node locally terminates the ACSS instance of dealer, under the
// ACS round instanceID (spec §4.6 step 2: "On terminating at least 2t+1
// ACSS instances, a node broadcasts GatherEcho(set_of_terminated_dealers)").
func (p *Protocol) NotifyACSSTerminated(ctx context.Context, instanceID uint64, dealer int) error {
	inst := p.instance(instanceID)
	if inst.terminatedDealers[dealer] {
		return nil
	}
	inst.terminatedDealers[dealer] = true

	params := p.params()
	if inst.gatherEchoSent || len(inst.terminatedDealers) < params.WitnessThreshold() {
		return nil
	}
	inst.gatherEchoSent = true
	dealers := sortedKeys(inst.terminatedDealers)
	msg := GatherEchoMessage{InstanceID: instanceID, Dealers: dealers}
	return p.broadcast(ctx, TagGatherEcho, msg.Encode(), func() error {
		return p.handleGatherEchoLocked(ctx, p.cfg.Self, msg)
	})
}

// HandleGatherEcho processes an inbound GatherEcho.
func (p *Protocol) HandleGatherEcho(ctx context.Context, from int, msg GatherEchoMessage) error {
	return p.handleGatherEchoLocked(ctx, from, msg)
}

func (p *Protocol) handleGatherEchoLocked(ctx context.Context, from int, msg GatherEchoMessage) error {
	inst := p.instance(msg.InstanceID)
	if inst.echoSenders[from] {
		return nil
	}
	if !validSet(msg.Dealers, p.cfg.N) {
		return bfterrors.Wrap(bfterrors.ErrDecodeFail, "gather echo: invalid dealer set")
	}
	inst.echoSenders[from] = true
	inst.echoSets = append(inst.echoSets, msg.Dealers)

	params := p.params()
	if inst.gatherEcho2Sent || len(inst.echoSets) < params.WitnessThreshold() {
		return nil
	}
	intersection := intersectAll(inst.echoSets)
	if len(intersection) < params.WitnessThreshold() {
		return nil
	}
	candidate := lexSmallestWitness(intersection, params.WitnessThreshold())
	inst.gatherEcho2Sent = true
	inst.witnessCandidate = candidate

	msg2 := GatherEcho2Message{InstanceID: msg.InstanceID, WitnessSet: candidate}
	if err := p.broadcast(ctx, TagGatherEcho2, msg2.Encode(), func() error {
		return p.handleGatherEcho2Locked(ctx, p.cfg.Self, msg2)
	}); err != nil {
		return err
	}
	return p.maybeReady(msg.InstanceID)
}

// HandleGatherEcho2 processes an inbound GatherEcho2.
func (p *Protocol) HandleGatherEcho2(ctx context.Context, from int, msg GatherEcho2Message) error {
	return p.handleGatherEcho2Locked(ctx, from, msg)
}

func (p *Protocol) handleGatherEcho2Locked(ctx context.Context, from int, msg GatherEcho2Message) error {
	inst := p.instance(msg.InstanceID)
	if inst.echo2Senders[from] {
		return nil
	}
	if !validSet(msg.WitnessSet, p.cfg.N) || len(msg.WitnessSet) < p.params().WitnessThreshold() {
		return bfterrors.Wrap(bfterrors.ErrDecodeFail, "gather echo2: invalid witness set")
	}
	inst.echo2Senders[from] = true
	inst.echo2Counter.Add(from)
	return p.maybeReady(msg.InstanceID)
}

// maybeReady hands this node's own witness candidate to the caller once
// both this node's candidate has been computed and 2t+1 peers have
// progressed to the GatherEcho2 step (spec §4.6 step 4 hand-off into
// MVBA). The candidates different nodes hold need not match exactly --
// reconciling them into one common output is MVBA's job.
func (p *Protocol) maybeReady(instanceID uint64) error {
	inst := p.instance(instanceID)
	if inst.mvbaReady || !inst.gatherEcho2Sent {
		return nil
	}
	if !inst.echo2Counter.Met(p.params().WitnessThreshold()) {
		return nil
	}
	inst.mvbaReady = true
	if p.cb.OnWitnessReady != nil {
		p.cb.OnWitnessReady(instanceID, inst.witnessCandidate)
	}
	return nil
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// intersectAll returns the elements common to every set in sets.
func intersectAll(sets [][]int) []int {
	if len(sets) == 0 {
		return nil
	}
	counts := make(map[int]int)
	for _, s := range sets {
		seen := make(map[int]bool, len(s))
		for _, v := range s {
			if seen[v] {
				continue
			}
			seen[v] = true
			counts[v]++
		}
	}
	out := make([]int, 0, len(counts))
	for v, c := range counts {
		if c == len(sets) {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

// lexSmallestWitness resolves the spec §9 open question ("gather
// tie-breaking ... prefer lexicographically smallest sets") by sorting
// the intersection ascending and keeping only its smallest `size`
// entries, giving a canonical, deterministic witness set whenever the
// intersection is larger than the minimum required.
func lexSmallestWitness(sorted []int, size int) []int {
	if len(sorted) <= size {
		return append([]int(nil), sorted...)
	}
	return append([]int(nil), sorted[:size]...)
}

// Terminated reports whether instanceID's gather phase has handed a
// witness candidate to MVBA, and that candidate if so.
func (p *Protocol) Terminated(instanceID uint64) (witnessSet []int, ready bool) {
	inst, ok := p.instances[instanceID]
	if !ok || !inst.mvbaReady {
		return nil, false
	}
	return inst.witnessCandidate, true
}
