// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ra implements Reliable Accept (spec §4.7): a degenerate
// reliable broadcast over a single integer value, with no Init phase —
// every replica proposes its own value directly as an Echo. Used for
// lightweight termination signals, e.g. announcing that some dealer's
// ACSS instance has terminated locally (IBFT's ACSSTerm).
package ra

import (
	"context"

	"go.uber.org/zap"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/codec"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/quorum"
	"github.com/luxfi/abft/transport"
)

// Tags for the two RA wire messages (spec §6 "RA: Echo(value),
// Ready(value)").
const (
	TagEcho  transport.Tag = 0x50
	TagReady transport.Tag = 0x51
)

// Config is the fixed per-node configuration shared by every RA
// instance.
type Config struct {
	Self      int
	N, T      int
	Transport transport.Transport
	Keys      *transport.KeyStore
	Log       log.Logger
}

// Callbacks observes termination.
type Callbacks struct {
	// OnDeliver fires once per instance with the delivered value.
	OnDeliver func(instanceID uint64, value int64)
}

type instanceState struct {
	echoSenders  map[int]bool
	readySenders map[int]bool

	echoCounters  map[int64]*quorum.Counter
	readyCounters map[int64]*quorum.Counter

	echoSent   map[int64]bool
	readySent  bool
	terminated bool
	value      int64
}

func newInstanceState() *instanceState {
	return &instanceState{
		echoSenders:   make(map[int]bool),
		readySenders:  make(map[int]bool),
		echoCounters:  make(map[int64]*quorum.Counter),
		readyCounters: make(map[int64]*quorum.Counter),
		echoSent:      make(map[int64]bool),
	}
}

// Protocol runs RA for an arbitrary number of concurrently active
// instances.
type Protocol struct {
	cfg       Config
	cb        Callbacks
	instances map[uint64]*instanceState
}

// New constructs an RA protocol driver.
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

// Message is the wire shape of Echo/Ready: an instance id and the
// proposed or ready value.
type Message struct {
	InstanceID uint64
	Value      int64
}

// Encode serializes m.
func (m Message) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	w.PutUint64(uint64(m.Value))
	return w.Bytes()
}

// Decode parses a Message produced by Encode.
func Decode(body []byte) (Message, error) {
	r := codec.NewReader(body)
	instanceID, err := r.Uint64()
	if err != nil {
		return Message{}, bfterrors.Wrap(err, "decode instance id")
	}
	value, err := r.Uint64()
	if err != nil {
		return Message{}, bfterrors.Wrap(err, "decode value")
	}
	return Message{InstanceID: instanceID, Value: int64(value)}, nil
}

// Propose is invoked by any replica to put its own value forward for
// instanceID, broadcasting Echo(value) directly — RA has no dealer and
// no Init phase (spec §4.7).
func (p *Protocol) Propose(ctx context.Context, instanceID uint64, value int64) error {
	inst := p.instance(instanceID)
	return p.sendEcho(ctx, inst, instanceID, value)
}

func (p *Protocol) sendEcho(ctx context.Context, inst *instanceState, instanceID uint64, value int64) error {
	if inst.echoSent[value] {
		return nil
	}
	inst.echoSent[value] = true
	msg := Message{InstanceID: instanceID, Value: value}
	return p.broadcastSelf(ctx, TagEcho, msg, func(from int, m Message) error {
		return p.handleEchoLocked(ctx, from, m)
	})
}

func (p *Protocol) keyFor(peer int) []byte {
	k, err := p.cfg.Keys.KeyFor(peer)
	if err != nil {
		p.cfg.Log.Fatal("ra: missing shared key", zap.Int("peer", peer), zap.Error(err))
	}
	return k
}

func (p *Protocol) broadcastSelf(ctx context.Context, tag transport.Tag, msg Message, self func(from int, m Message) error) error {
	body := msg.Encode()
	for i := 0; i < p.cfg.N; i++ {
		if i == p.cfg.Self {
			if err := self(p.cfg.Self, msg); err != nil {
				p.cfg.Log.Warn("ra: local handling failed", zap.Error(err))
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

// HandleEcho processes an inbound Echo(value) (spec §4.7 "On input v
// with count(Echo[v]) ≥ 2t+1, send Ready(v)").
func (p *Protocol) HandleEcho(ctx context.Context, from int, msg Message) error {
	inst := p.instance(msg.InstanceID)
	if inst.terminated || inst.echoSenders[from] {
		return nil
	}
	inst.echoSenders[from] = true
	return p.handleEchoLocked(ctx, from, msg)
}

func (p *Protocol) handleEchoLocked(ctx context.Context, from int, msg Message) error {
	inst := p.instance(msg.InstanceID)
	counter, ok := inst.echoCounters[msg.Value]
	if !ok {
		counter = quorum.NewCounter()
		inst.echoCounters[msg.Value] = counter
	}
	counter.Add(from)

	params := p.params()
	if counter.Met(params.WitnessThreshold()) && !inst.readySent {
		inst.readySent = true
		readyMsg := Message{InstanceID: msg.InstanceID, Value: msg.Value}
		return p.broadcastSelf(ctx, TagReady, readyMsg, func(from int, m Message) error {
			return p.handleReadyLocked(ctx, from, m)
		})
	}
	return nil
}

// HandleReady processes an inbound Ready(value) (spec §4.7 "on
// count(Ready[v]) ≥ t+1, amplify; on ≥ 2t+1, deliver").
func (p *Protocol) HandleReady(ctx context.Context, from int, msg Message) error {
	inst := p.instance(msg.InstanceID)
	if inst.terminated || inst.readySenders[from] {
		return nil
	}
	inst.readySenders[from] = true
	return p.handleReadyLocked(ctx, from, msg)
}

func (p *Protocol) handleReadyLocked(ctx context.Context, from int, msg Message) error {
	inst := p.instance(msg.InstanceID)
	counter, ok := inst.readyCounters[msg.Value]
	if !ok {
		counter = quorum.NewCounter()
		inst.readyCounters[msg.Value] = counter
	}
	counter.Add(from)

	params := p.params()
	if !inst.readySent && counter.Met(params.ReconstructionThreshold()) {
		inst.readySent = true
		readyMsg := Message{InstanceID: msg.InstanceID, Value: msg.Value}
		if err := p.broadcastSelf(ctx, TagReady, readyMsg, func(from int, m Message) error {
			return p.handleReadyLocked(ctx, from, m)
		}); err != nil {
			return err
		}
		inst = p.instances[msg.InstanceID]
		if inst.terminated {
			return nil
		}
		counter = inst.readyCounters[msg.Value]
	}

	if counter.Met(params.WitnessThreshold()) && !inst.terminated {
		inst.terminated = true
		inst.value = msg.Value
		if p.cb.OnDeliver != nil {
			p.cb.OnDeliver(msg.InstanceID, msg.Value)
		}
	}
	return nil
}

// Terminated reports whether instanceID has delivered.
func (p *Protocol) Terminated(instanceID uint64) (value int64, terminated bool) {
	inst, ok := p.instances[instanceID]
	if !ok || !inst.terminated {
		return 0, false
	}
	return inst.value, true
}
