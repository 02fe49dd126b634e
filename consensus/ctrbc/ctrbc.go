// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ctrbc

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/quorum"
	"github.com/luxfi/abft/transport"
)

// Config is the fixed, per-node configuration shared by every CTRBC
// instance.
type Config struct {
	Self      int
	N, T      int
	Transport transport.Transport
	Keys      *transport.KeyStore
	Log       log.Logger
}

// Callbacks lets an upper layer (engine.Node) observe termination
// without this package knowing about its callers (spec §9:
// "termination callbacks ... realized as message-passing through typed
// channels from the lower layer's event handler into the upper layer's
// input queue").
type Callbacks struct {
	// OnDeliver fires exactly once per instance, the first time 2t+1
	// matching readies are collected and reconstruction succeeds.
	OnDeliver func(instanceID uint64, payload []byte)
}

// Protocol runs CTRBC for an arbitrary number of concurrently active
// instances (spec §3.3: per-instance state, arena-allocated, never
// pruned).
type Protocol struct {
	cfg Config
	cb  Callbacks

	mu        sync.Mutex
	instances map[uint64]*instanceState
}

// New constructs a CTRBC protocol driver.
func New(cfg Config, cb Callbacks) *Protocol {
	return &Protocol{
		cfg:       cfg,
		cb:        cb,
		instances: make(map[uint64]*instanceState),
	}
}

func (p *Protocol) params() quorum.Params {
	return quorum.Params{N: p.cfg.N, T: p.cfg.T}
}

func (p *Protocol) instance(instanceID uint64, dealer int) *instanceState {
	inst, ok := p.instances[instanceID]
	if !ok {
		inst = newInstanceState(dealer)
		p.instances[instanceID] = inst
	}
	return inst
}

// Start is invoked by the dealer to broadcast payload under instanceID
// (spec §4.3 step 1 "Init (from dealer only)"). dataShards is t+1,
// parityShards is n-(t+1), matching spec §4.2.
func (p *Protocol) Start(ctx context.Context, instanceID uint64, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dataShards := p.cfg.T + 1
	parityShards := p.cfg.N - dataShards

	enc, err := merkle.Encode(payload, dataShards, parityShards)
	if err != nil {
		return bfterrors.Wrap(err, "erasure-code payload")
	}
	tree := merkle.BuildTree(enc.Shards)
	root := tree.Root()

	for i := 0; i < p.cfg.N; i++ {
		proof := tree.Prove(i, enc.Shards[i])
		msg := Message{InstanceID: instanceID, Root: root, Proof: proof, DataLen: uint32(enc.DataLen)}
		if i == p.cfg.Self {
			if err := p.handleInitLocked(ctx, p.cfg.Self, msg); err != nil {
				p.cfg.Log.Warn("ctrbc: local init handling failed", zap.Error(err))
			}
			continue
		}
		env := transport.Seal(p.keyFor(i), p.cfg.Self, TagInit, msg.Encode())
		if err := p.cfg.Transport.Send(ctx, i, env); err != nil {
			return bfterrors.Wrapf(err, "send init to %d", i)
		}
	}
	return nil
}

func (p *Protocol) keyFor(peer int) []byte {
	k, err := p.cfg.Keys.KeyFor(peer)
	if err != nil {
		p.cfg.Log.Fatal("ctrbc: missing shared key", zap.Int("peer", peer), zap.Error(err))
	}
	return k
}

// HandleInit processes an inbound Init message (spec §4.3 step 1). The
// instance's dealer must already be known, either from a prior
// RegisterInstance call or because this is the first message seen for
// the instance, in which case from is trusted as the dealer.
func (p *Protocol) HandleInit(ctx context.Context, from int, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handleInitLocked(ctx, from, msg)
}

func (p *Protocol) handleInitLocked(ctx context.Context, from int, msg Message) error {
	inst := p.instance(msg.InstanceID, from)
	if inst.terminated || inst.haveInit {
		return nil // sticky terminated flag / first-message-only dedup, spec §3.3
	}
	if from != inst.dealer {
		return nil // Init must come from the dealer
	}
	if err := merkle.Verify(msg.Proof, msg.Root); err != nil {
		return bfterrors.Wrap(bfterrors.ErrProofFail, "init proof")
	}
	inst.haveInit = true
	inst.dataLen = msg.DataLen

	return p.sendEcho(ctx, inst, msg)
}

func (p *Protocol) sendEcho(ctx context.Context, inst *instanceState, msg Message) error {
	if inst.echoSent {
		return nil
	}
	inst.echoSent = true
	return p.broadcastSelf(ctx, TagEcho, msg, func(from int, m Message) error {
		return p.handleEchoLocked(ctx, from, m)
	})
}

// broadcastSelf seals and sends msg to every peer, and additionally
// invokes self on this node's own copy without going through the
// network (the dealer/broadcaster is itself a protocol participant).
func (p *Protocol) broadcastSelf(ctx context.Context, tag transport.Tag, msg Message, self func(from int, m Message) error) error {
	body := msg.Encode()
	for i := 0; i < p.cfg.N; i++ {
		if i == p.cfg.Self {
			if err := self(p.cfg.Self, msg); err != nil {
				p.cfg.Log.Warn("ctrbc: local echo/ready handling failed", zap.Error(err))
			}
			continue
		}
		env := transport.Seal(p.keyFor(i), p.cfg.Self, tag, body)
		if err := p.cfg.Transport.Send(ctx, i, env); err != nil {
			return err
		}
	}
	return nil
}

// HandleEcho processes an inbound Echo message (spec §4.3 step 2).
func (p *Protocol) HandleEcho(ctx context.Context, from int, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handleEchoLocked(ctx, from, msg)
}

func (p *Protocol) handleEchoLocked(ctx context.Context, from int, msg Message) error {
	inst, ok := p.instances[msg.InstanceID]
	if !ok {
		// An echo can arrive before this node saw Init; the dealer is
		// learned from the echo itself is not safe (echo sender != dealer
		// in general), so this requires the instance to already be
		// registered. Upper layers must register instances before
		// forwarding messages (see RegisterInstance).
		return nil
	}
	if inst.terminated || inst.echoSenders[from] {
		return nil
	}
	if err := merkle.Verify(msg.Proof, msg.Root); err != nil {
		return bfterrors.Wrap(bfterrors.ErrProofFail, "echo proof")
	}
	inst.echoSenders[from] = true
	counter := inst.echoCounter(msg.Root)
	counter.Add(from)
	inst.echoShards[msg.Root][from] = msg.Proof
	if inst.dataLen == 0 {
		inst.dataLen = msg.DataLen
	}

	params := p.params()
	if inst.lockedRoot == nil && counter.Met(params.WitnessThreshold()) {
		root := msg.Root
		inst.lockedRoot = &root
		if !inst.readySent {
			// Use this node's own shard for the locked root if it has one,
			// otherwise its own echo proof under that root.
			ownProof, ok := inst.echoShards[root][p.cfg.Self]
			if !ok {
				return nil // cannot ready without a verified shard of our own
			}
			inst.readySent = true
			readyMsg := Message{InstanceID: msg.InstanceID, Root: root, Proof: ownProof, DataLen: inst.dataLen}
			return p.broadcastSelf(ctx, TagReady, readyMsg, func(from int, m Message) error {
				return p.handleReadyLocked(ctx, from, m)
			})
		}
	}
	return nil
}

// HandleReady processes an inbound Ready message (spec §4.3 step 3).
func (p *Protocol) HandleReady(ctx context.Context, from int, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handleReadyLocked(ctx, from, msg)
}

func (p *Protocol) handleReadyLocked(ctx context.Context, from int, msg Message) error {
	inst, ok := p.instances[msg.InstanceID]
	if !ok {
		return nil
	}
	if inst.terminated || inst.readySenders[from] {
		return nil
	}
	if err := merkle.Verify(msg.Proof, msg.Root); err != nil {
		return bfterrors.Wrap(bfterrors.ErrProofFail, "ready proof")
	}
	inst.readySenders[from] = true
	counter := inst.readyCounter(msg.Root)
	counter.Add(from)
	inst.readyShards[msg.Root][from] = msg.Proof
	if inst.dataLen == 0 {
		inst.dataLen = msg.DataLen
	}

	params := p.params()

	// Amplification: t+1 readies under a root this node has a verified
	// shard for triggers its own Ready, even without 2t+1 echoes.
	if !inst.readySent && counter.Met(params.ReconstructionThreshold()) {
		if ownProof, ok := inst.echoShards[msg.Root][p.cfg.Self]; ok {
			inst.readySent = true
			readyMsg := Message{InstanceID: msg.InstanceID, Root: msg.Root, Proof: ownProof, DataLen: inst.dataLen}
			if err := p.broadcastSelf(ctx, TagReady, readyMsg, func(from int, m Message) error {
				return p.handleReadyLocked(ctx, from, m)
			}); err != nil {
				return err
			}
			// re-fetch, broadcastSelf's self-call may have re-entered and
			// already delivered; guard against double delivery below.
			inst = p.instances[msg.InstanceID]
			if inst.terminated {
				return nil
			}
			counter = inst.readyCounter(msg.Root)
		}
	}

	if counter.Met(params.WitnessThreshold()) {
		return p.deliver(inst, msg.InstanceID, msg.Root)
	}
	return nil
}

func (p *Protocol) deliver(inst *instanceState, instanceID uint64, root merkle.Hash) error {
	if inst.terminated {
		return nil
	}
	dataShards := p.cfg.T + 1
	parityShards := p.cfg.N - dataShards
	shards := inst.collectedShards(root)
	payload, err := merkle.Reconstruct(shards, dataShards, parityShards, int(inst.dataLen))
	if err != nil {
		p.cfg.Log.Error("ctrbc: reconstruction mismatch", zap.Uint64("instance", instanceID), zap.Error(err))
		return bfterrors.ErrReconstructionMismatch
	}
	inst.terminated = true
	inst.message = payload
	if p.cb.OnDeliver != nil {
		p.cb.OnDeliver(instanceID, payload)
	}
	return nil
}

// RegisterInstance lets an upper-layer protocol pre-register the dealer
// for an instance before any message for it has arrived, so HandleEcho/
// HandleReady have somewhere to record state even if Init is delayed or
// never seen by this node (spec §4.3 failure model).
func (p *Protocol) RegisterInstance(instanceID uint64, dealer int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instance(instanceID, dealer)
}

// Terminated reports whether instanceID has delivered.
func (p *Protocol) Terminated(instanceID uint64) (payload []byte, terminated bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[instanceID]
	if !ok || !inst.terminated {
		return nil, false
	}
	return inst.message, true
}
