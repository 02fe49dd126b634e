// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package binaryba

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/crypto/coin"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/quorum"
	"github.com/luxfi/abft/transport"
)

// Config is the fixed per-node configuration shared by every binary BA
// instance.
type Config struct {
	Self      int
	N, T      int
	Transport transport.Transport
	Keys      *transport.KeyStore
	Coin      *coin.KeySet
	Log       log.Logger
}

// Callbacks observes decision.
type Callbacks struct {
	// OnDecide fires the first time this node decides a bit for an
	// instance (spec §4.6: binary BA "arbitrates per-leader acceptance").
	OnDecide func(instanceID uint64, value byte)
}

// Protocol runs binary Byzantine agreement for an arbitrary number of
// concurrently active instances, each potentially spanning several
// rounds.
type Protocol struct {
	cfg       Config
	cb        Callbacks
	instances map[uint64]*instanceState
}

// New constructs a binary BA protocol driver.
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
		p.cfg.Log.Fatal("binaryba: missing shared key", zap.Int("peer", peer), zap.Error(err))
	}
	return k
}

func (p *Protocol) broadcast(ctx context.Context, tag transport.Tag, body []byte, self func() error) error {
	if err := self(); err != nil {
		p.cfg.Log.Warn("binaryba: local handling failed", zap.Error(err))
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

// RegisterInstance lets an upper-layer protocol pre-register an instance
// before any message for it has arrived.
func (p *Protocol) RegisterInstance(instanceID uint64) {
	p.instance(instanceID)
}

// Propose starts round 0 of binary agreement for instanceID with this
// node's initial estimate (spec §4.6 step 5, binary BA input).
func (p *Protocol) Propose(ctx context.Context, instanceID uint64, estimate byte) error {
	inst := p.instance(instanceID)
	return p.broadcastBval(ctx, inst, instanceID, 0, estimate)
}

func (p *Protocol) broadcastBval(ctx context.Context, inst *instanceState, instanceID uint64, round uint32, v byte) error {
	rs := inst.atRound(round)
	if rs.bvalSent[v] {
		return nil
	}
	rs.bvalSent[v] = true
	msg := EchoMessage{InstanceID: instanceID, Round: round, Value: v}
	return p.broadcast(ctx, TagEcho1, msg.Encode(), func() error {
		return p.handleEcho1Locked(ctx, p.cfg.Self, msg)
	})
}

// HandleEcho1 processes an inbound BVAL message.
func (p *Protocol) HandleEcho1(ctx context.Context, from int, msg EchoMessage) error {
	return p.handleEcho1Locked(ctx, from, msg)
}

func (p *Protocol) handleEcho1Locked(ctx context.Context, from int, msg EchoMessage) error {
	if msg.Value > 1 {
		return bfterrors.Wrap(bfterrors.ErrDecodeFail, "binary BA value out of range")
	}
	inst := p.instance(msg.InstanceID)
	if inst.terminated {
		return nil
	}
	rs := inst.atRound(msg.Round)
	sent, ok := rs.bvalSenders[from]
	if !ok {
		sent = make(map[byte]bool)
		rs.bvalSenders[from] = sent
	}
	if sent[msg.Value] {
		return nil
	}
	sent[msg.Value] = true

	counter := rs.bvalCounters[msg.Value]
	counter.Add(from)
	params := p.params()

	if counter.Count() >= params.ReconstructionThreshold() && !rs.bvalSent[msg.Value] {
		if err := p.broadcastBval(ctx, inst, msg.InstanceID, msg.Round, msg.Value); err != nil {
			return err
		}
		rs = inst.atRound(msg.Round)
	}

	if counter.Met(params.WitnessThreshold()) && !hasValue(rs.binValues, msg.Value) {
		rs.binValues = addValue(rs.binValues, msg.Value)
		if err := p.maybeSendAux(ctx, inst, msg.InstanceID, msg.Round); err != nil {
			return err
		}
		return p.maybeSendConf(ctx, inst, msg.InstanceID, msg.Round)
	}
	return nil
}

func (p *Protocol) maybeSendAux(ctx context.Context, inst *instanceState, instanceID uint64, round uint32) error {
	rs := inst.atRound(round)
	if rs.auxSent || len(rs.binValues) == 0 {
		return nil
	}
	rs.auxSent = true
	v := rs.binValues[0]
	msg := EchoMessage{InstanceID: instanceID, Round: round, Value: v}
	return p.broadcast(ctx, TagEcho2, msg.Encode(), func() error {
		return p.handleEcho2Locked(ctx, p.cfg.Self, msg)
	})
}

// HandleEcho2 processes an inbound AUX message.
func (p *Protocol) HandleEcho2(ctx context.Context, from int, msg EchoMessage) error {
	return p.handleEcho2Locked(ctx, from, msg)
}

func (p *Protocol) handleEcho2Locked(ctx context.Context, from int, msg EchoMessage) error {
	if msg.Value > 1 {
		return bfterrors.Wrap(bfterrors.ErrDecodeFail, "binary BA value out of range")
	}
	inst := p.instance(msg.InstanceID)
	if inst.terminated {
		return nil
	}
	rs := inst.atRound(msg.Round)
	if _, ok := rs.auxSenders[from]; ok {
		return nil
	}
	rs.auxSenders[from] = msg.Value
	return p.maybeSendConf(ctx, inst, msg.InstanceID, msg.Round)
}

// maybeSendConf checks whether enough AUX votes, restricted to values
// already witnessed in bin_values_r, have arrived to confirm a value set
// for this round (the CONF layer's liveness fix over plain MMR: confirm
// the set seen rather than a single value so honest replicas converge
// before consulting the coin).
func (p *Protocol) maybeSendConf(ctx context.Context, inst *instanceState, instanceID uint64, round uint32) error {
	rs := inst.atRound(round)
	if rs.confSent {
		return nil
	}
	params := p.params()
	seen := map[byte]bool{}
	count := 0
	for _, v := range rs.auxSenders {
		if !hasValue(rs.binValues, v) {
			continue
		}
		seen[v] = true
		count++
	}
	if count < params.WitnessThreshold() {
		return nil
	}
	rs.confSent = true
	values := make([]byte, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	msg := ConfMessage{InstanceID: instanceID, Round: round, Values: values}
	return p.broadcast(ctx, TagEcho3, msg.Encode(), func() error {
		return p.handleEcho3Locked(ctx, p.cfg.Self, msg)
	})
}

// HandleEcho3 processes an inbound CONF message.
func (p *Protocol) HandleEcho3(ctx context.Context, from int, msg ConfMessage) error {
	return p.handleEcho3Locked(ctx, from, msg)
}

func (p *Protocol) handleEcho3Locked(ctx context.Context, from int, msg ConfMessage) error {
	inst := p.instance(msg.InstanceID)
	if inst.terminated {
		return nil
	}
	rs := inst.atRound(msg.Round)
	if _, ok := rs.confSenders[from]; ok {
		return nil
	}
	rs.confSenders[from] = msg.Values
	return p.maybeTriggerCoin(ctx, inst, msg.InstanceID, msg.Round)
}

func (p *Protocol) maybeTriggerCoin(ctx context.Context, inst *instanceState, instanceID uint64, round uint32) error {
	rs := inst.atRound(round)
	if rs.coinSent {
		return nil
	}
	params := p.params()
	if len(rs.confSenders) < params.WitnessThreshold() {
		return nil
	}
	rs.coinSent = true
	vals := map[byte]bool{}
	for _, vs := range rs.confSenders {
		for _, v := range vs {
			vals[v] = true
		}
	}
	rs.decisionVals = vals

	share, err := coin.Share(p.cfg.Coin, p.cfg.Self, instanceID, int(round))
	if err != nil {
		return bfterrors.Wrap(err, "compute coin share")
	}
	msg := CoinMessage{InstanceID: instanceID, Round: round, Share: share}
	return p.broadcast(ctx, TagCoin, msg.Encode(), func() error {
		return p.handleCoinLocked(ctx, p.cfg.Self, msg)
	})
}

// HandleCoin processes an inbound BBACoin share.
func (p *Protocol) HandleCoin(ctx context.Context, from int, msg CoinMessage) error {
	return p.handleCoinLocked(ctx, from, msg)
}

func (p *Protocol) handleCoinLocked(ctx context.Context, from int, msg CoinMessage) error {
	inst := p.instance(msg.InstanceID)
	if inst.terminated {
		return nil
	}
	rs := inst.atRound(msg.Round)
	if rs.coinSenders[from] {
		return nil
	}
	if err := coin.VerifyShare(p.cfg.Coin, msg.InstanceID, int(msg.Round), msg.Share); err != nil {
		p.cfg.Log.Warn("binaryba: dropping invalid coin share", zap.Int("from", from), zap.Error(err))
		return nil
	}
	rs.coinSenders[from] = true
	rs.coinShares = append(rs.coinShares, msg.Share)

	params := p.params()
	if rs.coinOutcome != nil || len(rs.coinShares) < params.ReconstructionThreshold() {
		return nil
	}
	outcome, err := coin.Recover(p.cfg.Coin, msg.InstanceID, int(msg.Round), rs.coinShares, params.T, params.N)
	if err != nil {
		return bfterrors.Wrap(err, "recover shared coin")
	}
	bit := outcome.Bit()
	rs.coinOutcome = &bit
	return p.advanceRound(ctx, inst, msg.InstanceID, msg.Round)
}

// advanceRound applies the MMR decision rule: a singleton confirmed
// value matching the coin decides; otherwise the coin (or the singleton
// value, if it didn't match the coin) becomes next round's estimate
// (spec §4.6 BBACoin unlock on stalemate).
func (p *Protocol) advanceRound(ctx context.Context, inst *instanceState, instanceID uint64, round uint32) error {
	rs := inst.atRound(round)
	coinBit := byte(*rs.coinOutcome)

	var next byte
	if len(rs.decisionVals) == 1 {
		var v byte
		for k := range rs.decisionVals {
			v = k
		}
		if v == coinBit && !inst.decided {
			inst.decided = true
			inst.decidedValue = v
			inst.terminated = true
			if p.cb.OnDecide != nil {
				p.cb.OnDecide(instanceID, v)
			}
			return nil
		}
		next = v
	} else {
		next = coinBit
	}

	if inst.terminated {
		return nil
	}
	inst.round = round + 1
	return p.broadcastBval(ctx, inst, instanceID, inst.round, next)
}

// Terminated reports whether instanceID has decided, and the decided
// value if so.
func (p *Protocol) Terminated(instanceID uint64) (value byte, terminated bool) {
	inst, ok := p.instances[instanceID]
	if !ok || !inst.terminated {
		return 0, false
	}
	return inst.decidedValue, true
}
