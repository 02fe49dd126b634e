// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package asks

import (
	"context"

	"go.uber.org/zap"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/field"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/quorum"
	"github.com/luxfi/abft/transport"
)

// Config is the fixed per-node configuration shared by every ASKS
// instance.
type Config struct {
	Self      int
	N, T      int
	Transport transport.Transport
	Keys      *transport.KeyStore
	Log       log.Logger
}

// Callbacks observes sharing termination and reconstruction.
type Callbacks struct {
	// OnShared fires once the commitment vector is agreed and, if this
	// node is a recipient, it holds a verified share.
	OnShared func(instanceID uint64, commitments []Commitment, share, nonce field.Element, haveShare bool)
	// OnReconstruct fires once t+1 matching (share, nonce) pairs have
	// been collected and the secret F(0) is recovered.
	OnReconstruct func(instanceID uint64, secret field.Element)
}

// Protocol runs ASKS for an arbitrary number of concurrently active
// instances.
type Protocol struct {
	cfg       Config
	cb        Callbacks
	instances map[uint64]*instanceState
}

// New constructs an ASKS protocol driver.
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
		p.cfg.Log.Fatal("asks: missing shared key", zap.Int("peer", peer), zap.Error(err))
	}
	return k
}

// Start is invoked by the dealer to share secret under instanceID: it
// picks a degree-t polynomial with F(0)=secret, computes each
// recipient's share and a random nonce, and commits (share, nonce) with
// a hash binding (spec §4.5, ASKS variant: "single-variable polynomial
// with hash-binding commitments, no dZK").
func (p *Protocol) Start(ctx context.Context, instanceID uint64, secret field.Element) error {
	poly, err := field.RandomPoly(p.cfg.T, secret)
	if err != nil {
		return bfterrors.Wrap(err, "sample sharing polynomial")
	}
	shares := poly.Shares(p.cfg.N)

	nonces := make([]field.Element, p.cfg.N)
	commitments := make([]Commitment, p.cfg.N)
	for i := range nonces {
		nonce, err := field.Random()
		if err != nil {
			return bfterrors.Wrap(err, "sample nonce")
		}
		nonces[i] = nonce
		commitments[i] = commit(shares[i].Y, nonce)
	}

	for i := 0; i < p.cfg.N; i++ {
		msg := Message{InstanceID: instanceID, Commitments: commitments, Share: shares[i].Y, Nonce: nonces[i], HasShare: true}
		if i == p.cfg.Self {
			if err := p.handleInitLocal(ctx, p.cfg.Self, msg); err != nil {
				p.cfg.Log.Warn("asks: local init handling failed", zap.Error(err))
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
	if msg.HasShare {
		if p.cfg.Self < 0 || p.cfg.Self >= len(msg.Commitments) {
			return bfterrors.Wrapf(bfterrors.ErrConfigFatal, "self index %d out of range", p.cfg.Self)
		}
		if commit(msg.Share, msg.Nonce) != msg.Commitments[p.cfg.Self] {
			return bfterrors.Wrap(bfterrors.ErrProofFail, "share does not match own commitment")
		}
		inst.haveShare = true
		inst.share = msg.Share
		inst.nonce = msg.Nonce
	}
	inst.haveInit = true
	inst.commitments = msg.Commitments

	return p.sendEcho(ctx, inst, msg)
}

func (p *Protocol) sendEcho(ctx context.Context, inst *instanceState, msg Message) error {
	if inst.echoSent {
		return nil
	}
	inst.echoSent = true
	return p.broadcastSelf(ctx, TagEcho, msg.withoutShare(), func(from int, m Message) error {
		return p.handleEchoLocked(ctx, from, m)
	})
}

func (p *Protocol) broadcastSelf(ctx context.Context, tag transport.Tag, msg Message, self func(from int, m Message) error) error {
	body := msg.Encode()
	for i := 0; i < p.cfg.N; i++ {
		if i == p.cfg.Self {
			if err := self(p.cfg.Self, msg); err != nil {
				p.cfg.Log.Warn("asks: local echo/ready handling failed", zap.Error(err))
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

// HandleEcho processes an inbound Echo message (commitment vector only).
func (p *Protocol) HandleEcho(ctx context.Context, from int, msg Message) error {
	return p.handleEchoLocked(ctx, from, msg)
}

func (p *Protocol) handleEchoLocked(ctx context.Context, from int, msg Message) error {
	inst, ok := p.instances[msg.InstanceID]
	if !ok {
		return nil
	}
	if inst.terminated || inst.echoSenders[from] {
		return nil
	}
	inst.echoSenders[from] = true
	key := commitKey(msg.Commitments)
	counter := inst.echoCounter(key)
	counter.Add(from)
	if inst.commitments == nil {
		inst.commitments = msg.Commitments
	}

	params := p.params()
	if counter.Met(params.WitnessThreshold()) && !inst.readySent {
		inst.readySent = true
		readyMsg := Message{InstanceID: msg.InstanceID, Commitments: msg.Commitments}
		return p.broadcastSelf(ctx, TagReady, readyMsg, func(from int, m Message) error {
			return p.handleReadyLocked(ctx, from, m)
		})
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
	inst.readySenders[from] = true
	key := commitKey(msg.Commitments)
	counter := inst.readyCounter(key)
	counter.Add(from)
	if inst.commitments == nil {
		inst.commitments = msg.Commitments
	}

	params := p.params()
	if !inst.readySent && counter.Met(params.ReconstructionThreshold()) {
		inst.readySent = true
		readyMsg := Message{InstanceID: msg.InstanceID, Commitments: msg.Commitments}
		if err := p.broadcastSelf(ctx, TagReady, readyMsg, func(from int, m Message) error {
			return p.handleReadyLocked(ctx, from, m)
		}); err != nil {
			return err
		}
		inst = p.instances[msg.InstanceID]
		if inst.terminated {
			return nil
		}
		counter = inst.readyCounter(key)
	}

	if counter.Met(params.WitnessThreshold()) && !inst.terminated {
		inst.terminated = true
		if p.cb.OnShared != nil {
			p.cb.OnShared(msg.InstanceID, inst.commitments, inst.share, inst.nonce, inst.haveShare)
		}
	}
	return nil
}

// RegisterInstance lets an upper-layer protocol pre-register the dealer
// for an instance before any message for it has arrived.
func (p *Protocol) RegisterInstance(instanceID uint64, dealer int) {
	p.instance(instanceID, dealer)
}

// BeginReconstruct broadcasts this node's own (share, nonce) for
// instanceID so every node can verify it and collect t+1 matching pairs
// (spec §4.5 Reconstruct; §9 Open Question: "require t+1 matching
// (share, nonce) pairs under one commitment").
func (p *Protocol) BeginReconstruct(ctx context.Context, instanceID uint64) error {
	inst, ok := p.instances[instanceID]
	if !ok || !inst.haveShare {
		return bfterrors.Wrapf(bfterrors.ErrConfigFatal, "no verified share to reconstruct for instance %d", instanceID)
	}
	msg := ReconstructMessage{InstanceID: instanceID, Index: p.cfg.Self, Share: inst.share, Nonce: inst.nonce}
	body := msg.Encode()
	for i := 0; i < p.cfg.N; i++ {
		if i == p.cfg.Self {
			p.handleReconstruct(p.cfg.Self, msg)
			continue
		}
		env := transport.Seal(p.keyFor(i), p.cfg.Self, TagReconstruct, body)
		if err := p.cfg.Transport.Send(ctx, i, env); err != nil {
			return err
		}
	}
	return nil
}

// HandleReconstruct processes an inbound Reconstruct message.
func (p *Protocol) HandleReconstruct(ctx context.Context, from int, msg ReconstructMessage) error {
	p.handleReconstruct(from, msg)
	return nil
}

func (p *Protocol) handleReconstruct(from int, msg ReconstructMessage) {
	inst, ok := p.instances[msg.InstanceID]
	if !ok || inst.reconDone || inst.commitments == nil {
		return
	}
	if msg.Index < 0 || msg.Index >= len(inst.commitments) {
		return
	}
	if inst.reconSenders[msg.Index] {
		return
	}
	if commit(msg.Share, msg.Nonce) != inst.commitments[msg.Index] {
		return // does not match the committed vector: reject, per P5-equivalent binding
	}
	inst.reconSenders[msg.Index] = true
	inst.reconShares[msg.Index] = msg.Share

	if len(inst.reconShares) >= p.cfg.T+1 {
		shares := make([]field.Share, 0, len(inst.reconShares))
		for idx, y := range inst.reconShares {
			shares = append(shares, field.Share{X: field.FromInt64(int64(idx + 1)), Y: y})
		}
		inst.reconDone = true
		inst.reconValue = field.InterpolateAtZero(shares)
		if p.cb.OnReconstruct != nil {
			p.cb.OnReconstruct(msg.InstanceID, inst.reconValue)
		}
	}
}

// Terminated reports whether instanceID's sharing phase has completed.
func (p *Protocol) Terminated(instanceID uint64) (commitments []Commitment, terminated bool) {
	inst, ok := p.instances[instanceID]
	if !ok || !inst.terminated {
		return nil, false
	}
	return inst.commitments, true
}

// Reconstructed reports whether instanceID's secret has been recovered.
func (p *Protocol) Reconstructed(instanceID uint64) (field.Element, bool) {
	inst, ok := p.instances[instanceID]
	if !ok || !inst.reconDone {
		return field.Element{}, false
	}
	return inst.reconValue, true
}
