// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package avid

import (
	"context"

	"go.uber.org/zap"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/quorum"
	"github.com/luxfi/abft/transport"
)

// Config is the fixed per-node configuration shared by every AVID
// instance.
type Config struct {
	Self      int
	N, T      int
	Transport transport.Transport
	Keys      *transport.KeyStore
	Log       log.Logger
}

// Callbacks observes termination. PrivateShard is non-empty (and
// IsRecipient true) only at the node whose position the shard was
// dispersed to; every other node's delivery carries only the root it
// agreed on (spec §4.4).
type Callbacks struct {
	OnDeliver func(instanceID uint64, root merkle.Hash, privateShard []byte, isRecipient bool)
}

// Protocol runs AVID for an arbitrary number of concurrently active
// instances.
type Protocol struct {
	cfg       Config
	cb        Callbacks
	instances map[uint64]*instanceState
}

// New constructs an AVID protocol driver.
func New(cfg Config, cb Callbacks) *Protocol {
	return &Protocol{cfg: cfg, cb: cb, instances: make(map[uint64]*instanceState)}
}

func (p *Protocol) params() quorum.Params { return quorum.Params{N: p.cfg.N, T: p.cfg.T} }

func (p *Protocol) instance(instanceID uint64, dealer int) *instanceState {
	inst, ok := p.instances[instanceID]
	if !ok {
		inst = newInstanceState(dealer)
		p.instances[instanceID] = inst
	}
	return inst
}

func (p *Protocol) keyFor(peer int) []byte {
	k, err := p.cfg.Keys.KeyFor(peer)
	if err != nil {
		p.cfg.Log.Fatal("avid: missing shared key", zap.Int("peer", peer), zap.Error(err))
	}
	return k
}

// Start is invoked by the dealer to disperse payload under instanceID:
// it erasure-codes payload into n shards (t+1 data, n-(t+1) parity, as
// in CTRBC) and sends recipient i its own shard alongside every leaf
// hash, so any node can check the shard belongs to the advertised root
// (spec §4.4).
func (p *Protocol) Start(ctx context.Context, instanceID uint64, payload []byte) error {
	dataShards := p.cfg.T + 1
	parityShards := p.cfg.N - dataShards

	enc, err := merkle.Encode(payload, dataShards, parityShards)
	if err != nil {
		return bfterrors.Wrap(err, "erasure-code payload")
	}
	leaves := make([]merkle.Hash, len(enc.Shards))
	for i, s := range enc.Shards {
		leaves[i] = merkle.LeafHash(i, s)
	}
	tree := merkle.BuildTreeFromLeaves(leaves)
	root := tree.Root()

	for i := 0; i < p.cfg.N; i++ {
		msg := Message{InstanceID: instanceID, Root: root, Leaves: leaves, PrivateShard: enc.Shards[i]}
		if i == p.cfg.Self {
			if err := p.handleInitLocal(ctx, p.cfg.Self, msg); err != nil {
				p.cfg.Log.Warn("avid: local init handling failed", zap.Error(err))
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

// verifyLeaves recomputes the root from msg.Leaves and checks it against
// msg.Root (spec §4.4: "any node can check that its intended payload
// belongs to the advertised root").
func verifyLeaves(msg Message) error {
	if merkle.BuildTreeFromLeaves(msg.Leaves).Root() != msg.Root {
		return bfterrors.ErrProofFail
	}
	return nil
}

// HandleInit processes an inbound Init message from the dealer.
func (p *Protocol) HandleInit(ctx context.Context, from int, msg Message) error {
	return p.handleInitLocal(ctx, from, msg)
}

func (p *Protocol) handleInitLocal(ctx context.Context, from int, msg Message) error {
	inst := p.instance(msg.InstanceID, from)
	if inst.terminated || inst.haveInit {
		return nil
	}
	if from != inst.dealer {
		return nil
	}
	if err := verifyLeaves(msg); err != nil {
		return bfterrors.Wrap(err, "init leaves")
	}
	if p.cfg.Self < 0 || p.cfg.Self >= len(msg.Leaves) {
		return bfterrors.Wrapf(bfterrors.ErrConfigFatal, "self index %d out of range", p.cfg.Self)
	}
	if len(msg.PrivateShard) > 0 {
		if merkle.LeafHash(p.cfg.Self, msg.PrivateShard) != msg.Leaves[p.cfg.Self] {
			return bfterrors.Wrap(bfterrors.ErrProofFail, "private shard does not match advertised leaf")
		}
		inst.isRecipient = true
		inst.privateShard = msg.PrivateShard
	}
	inst.haveInit = true
	inst.leaves = msg.Leaves

	return p.sendEcho(ctx, inst, msg)
}

func (p *Protocol) sendEcho(ctx context.Context, inst *instanceState, msg Message) error {
	if inst.echoSent {
		return nil
	}
	inst.echoSent = true
	echoMsg := msg.withoutPrivate()
	return p.broadcastSelf(ctx, TagEcho, echoMsg, func(from int, m Message) error {
		return p.handleEchoLocked(ctx, from, m)
	})
}

func (p *Protocol) broadcastSelf(ctx context.Context, tag transport.Tag, msg Message, self func(from int, m Message) error) error {
	body := msg.Encode()
	for i := 0; i < p.cfg.N; i++ {
		if i == p.cfg.Self {
			if err := self(p.cfg.Self, msg); err != nil {
				p.cfg.Log.Warn("avid: local echo/ready handling failed", zap.Error(err))
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

// HandleEcho processes an inbound Echo message (no private shard).
func (p *Protocol) HandleEcho(ctx context.Context, from int, msg Message) error {
	return p.handleEchoLocked(ctx, from, msg)
}

func (p *Protocol) handleEchoLocked(ctx context.Context, from int, msg Message) error {
	inst, ok := p.instances[msg.InstanceID]
	if !ok {
		return nil // upper layer must RegisterInstance before forwarding
	}
	if inst.terminated || inst.echoSenders[from] {
		return nil
	}
	if err := verifyLeaves(msg); err != nil {
		return bfterrors.Wrap(err, "echo leaves")
	}
	inst.echoSenders[from] = true
	counter := inst.echoCounter(msg.Root)
	counter.Add(from)
	if inst.leaves == nil {
		inst.leaves = msg.Leaves
	}

	params := p.params()
	if inst.lockedRoot == nil && counter.Met(params.WitnessThreshold()) {
		root := msg.Root
		inst.lockedRoot = &root
		if !inst.readySent {
			inst.readySent = true
			readyMsg := Message{InstanceID: msg.InstanceID, Root: root, Leaves: inst.leaves}
			return p.broadcastSelf(ctx, TagReady, readyMsg, func(from int, m Message) error {
				return p.handleReadyLocked(ctx, from, m)
			})
		}
	}
	return nil
}

// HandleReady processes an inbound Ready message.
func (p *Protocol) HandleReady(ctx context.Context, from int, msg Message) error {
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
	if err := verifyLeaves(msg); err != nil {
		return bfterrors.Wrap(err, "ready leaves")
	}
	inst.readySenders[from] = true
	counter := inst.readyCounter(msg.Root)
	counter.Add(from)
	if inst.leaves == nil {
		inst.leaves = msg.Leaves
	}

	params := p.params()
	if !inst.readySent && counter.Met(params.ReconstructionThreshold()) {
		inst.readySent = true
		readyMsg := Message{InstanceID: msg.InstanceID, Root: msg.Root, Leaves: inst.leaves}
		if err := p.broadcastSelf(ctx, TagReady, readyMsg, func(from int, m Message) error {
			return p.handleReadyLocked(ctx, from, m)
		}); err != nil {
			return err
		}
		inst = p.instances[msg.InstanceID]
		if inst.terminated {
			return nil
		}
		counter = inst.readyCounter(msg.Root)
	}

	if counter.Met(params.WitnessThreshold()) {
		inst.terminated = true
		if p.cb.OnDeliver != nil {
			p.cb.OnDeliver(msg.InstanceID, msg.Root, inst.privateShard, inst.isRecipient)
		}
	}
	return nil
}

// RegisterInstance lets an upper-layer protocol pre-register the dealer
// for an instance before any message for it has arrived.
func (p *Protocol) RegisterInstance(instanceID uint64, dealer int) {
	p.instance(instanceID, dealer)
}

// Terminated reports whether instanceID has delivered, and this node's
// private shard if it was the intended recipient.
func (p *Protocol) Terminated(instanceID uint64) (root merkle.Hash, privateShard []byte, isRecipient, terminated bool) {
	inst, ok := p.instances[instanceID]
	if !ok || !inst.terminated {
		return merkle.Hash{}, nil, false, false
	}
	if inst.lockedRoot != nil {
		root = *inst.lockedRoot
	}
	return root, inst.privateShard, inst.isRecipient, true
}
