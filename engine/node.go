// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine wires the seven consensus/* packages into one
// single-threaded per-node event loop (spec §5), modeled on the
// teacher's single-goroutine dispatch style in engine/core and
// networking/router: one goroutine owns every protocol's state and
// reads from three channels -- inbound wire envelopes, application
// requests, and cross-layer termination events -- handling each to
// completion before its next receive, so the only suspension points are
// channel send/receive (spec §5).
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/consensus/acs"
	"github.com/luxfi/abft/consensus/acss"
	"github.com/luxfi/abft/consensus/asks"
	"github.com/luxfi/abft/consensus/avid"
	"github.com/luxfi/abft/consensus/ctrbc"
	"github.com/luxfi/abft/consensus/mvba"
	"github.com/luxfi/abft/consensus/ra"
	"github.com/luxfi/abft/crypto/coin"
	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/engine/termination"
	"github.com/luxfi/abft/field"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/transport"
)

// dealerBits reserves the low 16 bits of a composite instance id for the
// dealer index, leaving the high bits for the ACS round number. 16 bits
// comfortably covers any realistic committee size.
const dealerBits = 16
const dealerMask = (1 << dealerBits) - 1

// ACSSInstanceID composes an ACS round and a dealer index into the
// instance id ACSS and RA key their per-dealer state under.
func ACSSInstanceID(round uint64, dealer int) uint64 {
	return round<<dealerBits | uint64(dealer)
}

func splitDealerInstanceID(instanceID uint64) (round uint64, dealer int) {
	return instanceID >> dealerBits, int(instanceID & dealerMask)
}

// Config is the fixed configuration for one node's entire protocol
// stack, the union of every sub-protocol's Config.
type Config struct {
	Self      int
	N, T      int
	Transport transport.Transport
	Keys      *transport.KeyStore
	Coin      *coin.KeySet
	Log       log.Logger
	// Metrics is optional; a nil Metrics disables counters entirely.
	Metrics *Metrics

	// InboundBuffer and RequestBuffer size the channels Run selects on;
	// zero picks a sane default.
	InboundBuffer int
	RequestBuffer int
}

// Callbacks observes application-visible outcomes of the stack as a
// whole.
type Callbacks struct {
	// OnACSDecide fires once per ACS round, the first time this node
	// reaches MVBA's common output for that round (spec §4.6: "the
	// witness_set returned by ACS is the common output").
	OnACSDecide func(round uint64, witnessSet []int)
}

// Node owns one node's full protocol stack and its single dispatch
// loop. Every exported protocol field is safe to drive directly
// (Start/Propose/RegisterInstance) for standalone use of a single
// layer -- e.g. a test that only exercises consensus/ctrbc through
// Node.CTRBC -- without going through the Request/Run machinery.
type Node struct {
	cfg Config
	cb  Callbacks

	CTRBC *ctrbc.Protocol
	AVID  *avid.Protocol
	ACSS  *acss.Protocol
	ASKS  *asks.Protocol
	RA    *ra.Protocol
	ACS   *acs.Protocol
	MVBA  *mvba.Protocol

	inbound chan transport.Envelope
	appReqs chan Request
	termCh  chan termination.Event
}

// New constructs a Node and every consensus/* protocol instance it
// owns, cross-wiring each layer's Callbacks to enqueue a
// termination.Event rather than call into the next layer directly.
func New(cfg Config, cb Callbacks) *Node {
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = 256
	}
	if cfg.RequestBuffer <= 0 {
		cfg.RequestBuffer = 64
	}
	n := &Node{
		cfg:     cfg,
		cb:      cb,
		inbound: make(chan transport.Envelope, cfg.InboundBuffer),
		appReqs: make(chan Request, cfg.RequestBuffer),
		termCh:  make(chan termination.Event, 256),
	}

	n.CTRBC = ctrbc.New(ctrbc.Config{
		Self: cfg.Self, N: cfg.N, T: cfg.T,
		Transport: cfg.Transport, Keys: cfg.Keys, Log: cfg.Log,
	}, ctrbc.Callbacks{OnDeliver: func(instanceID uint64, payload []byte) {
		n.cfg.Log.Info("ctrbc: delivered", zap.Uint64("instance", instanceID), zap.Int("bytes", len(payload)))
	}})

	n.AVID = avid.New(avid.Config{
		Self: cfg.Self, N: cfg.N, T: cfg.T,
		Transport: cfg.Transport, Keys: cfg.Keys, Log: cfg.Log,
	}, avid.Callbacks{})

	n.ASKS = asks.New(asks.Config{
		Self: cfg.Self, N: cfg.N, T: cfg.T,
		Transport: cfg.Transport, Keys: cfg.Keys, Log: cfg.Log,
	}, asks.Callbacks{})

	n.ACSS = acss.New(acss.Config{
		Self: cfg.Self, N: cfg.N, T: cfg.T,
		Transport: cfg.Transport, Keys: cfg.Keys, Log: cfg.Log,
	}, acss.Callbacks{OnDeliver: func(instanceID uint64, rowPoly, blindRowPoly field.Poly, _ []merkle.Hash) {
		n.onACSSDeliver(instanceID)
	}})

	n.RA = ra.New(ra.Config{
		Self: cfg.Self, N: cfg.N, T: cfg.T,
		Transport: cfg.Transport, Keys: cfg.Keys, Log: cfg.Log,
	}, ra.Callbacks{OnDeliver: func(instanceID uint64, value int64) {
		n.enqueueTermination(termination.Event{Kind: termination.RADeliver, InstanceID: instanceID, Value: value})
	}})

	n.ACS = acs.New(acs.Config{
		Self: cfg.Self, N: cfg.N, T: cfg.T,
		Transport: cfg.Transport, Keys: cfg.Keys, Log: cfg.Log,
	}, acs.Callbacks{OnWitnessReady: func(instanceID uint64, witnessSet []int) {
		n.enqueueTermination(termination.Event{Kind: termination.ACSWitnessReady, InstanceID: instanceID, WitnessSet: witnessSet})
	}})

	n.MVBA = mvba.New(mvba.Config{
		Self: cfg.Self, N: cfg.N, T: cfg.T,
		Transport: cfg.Transport, Keys: cfg.Keys, Coin: cfg.Coin, Log: cfg.Log,
	}, mvba.Callbacks{OnDecide: func(instanceID uint64, witnessSet []int) {
		n.enqueueTermination(termination.Event{Kind: termination.MVBADecide, InstanceID: instanceID, WitnessSet: witnessSet})
	}})

	return n
}

func (n *Node) onACSSDeliver(instanceID uint64) {
	if n.cfg.Metrics != nil {
		n.cfg.Metrics.ACSSDeliveries.Inc()
	}
	_, dealer := splitDealerInstanceID(instanceID)
	n.enqueueTermination(termination.Event{Kind: termination.ACSSDeliver, InstanceID: instanceID, Dealer: dealer})
}

// enqueueTermination hands ev to the Run loop. The channel is sized
// generously enough that a single dispatched message's cascade of
// hand-offs never fills it in practice; if it ever does, the event is
// dropped and counted rather than blocking the caller's call stack,
// since a termination callback must never suspend (spec §5).
func (n *Node) enqueueTermination(ev termination.Event) {
	select {
	case n.termCh <- ev:
	default:
		if n.cfg.Metrics != nil {
			n.cfg.Metrics.TerminationsDropped.Inc()
		}
		n.cfg.Log.Warn("engine: termination queue full, dropping event", zap.Int("kind", int(ev.Kind)))
	}
}

// Deliver hands an inbound envelope to the node; Run's loop will
// process it on its next iteration. Safe to call from any goroutine.
func (n *Node) Deliver(ctx context.Context, env transport.Envelope) error {
	select {
	case n.inbound <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands an application request to the node; Run's loop will
// process it on its next iteration. Safe to call from any goroutine.
func (n *Node) Submit(ctx context.Context, req Request) error {
	select {
	case n.appReqs <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the node's single dispatch loop. It returns when ctx is
// cancelled.
func (n *Node) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-n.inbound:
			if err := n.dispatch(ctx, env); err != nil {
				n.cfg.Log.Warn("engine: dispatch failed", zap.Error(err))
			}
		case req := <-n.appReqs:
			if err := n.handleRequest(ctx, req); err != nil {
				n.cfg.Log.Warn("engine: request failed", zap.Error(err))
			}
		case ev := <-n.termCh:
			if err := n.handleTermination(ctx, ev); err != nil {
				n.cfg.Log.Warn("engine: termination handling failed", zap.Error(err))
			}
		}
	}
}

func (n *Node) handleTermination(ctx context.Context, ev termination.Event) error {
	switch ev.Kind {
	case termination.ACSSDeliver:
		round, dealer := splitDealerInstanceID(ev.InstanceID)
		return n.RA.Propose(ctx, ACSSInstanceID(round, dealer), 1)
	case termination.RADeliver:
		if ev.Value != 1 {
			return nil
		}
		round, dealer := splitDealerInstanceID(ev.InstanceID)
		return n.ACS.NotifyACSSTerminated(ctx, round, dealer)
	case termination.ACSWitnessReady:
		n.MVBA.RegisterInstance(ev.InstanceID)
		return n.MVBA.Propose(ctx, ev.InstanceID, ev.WitnessSet)
	case termination.MVBADecide:
		if n.cfg.Metrics != nil {
			n.cfg.Metrics.ACSRoundsDecided.Inc()
		}
		if n.cb.OnACSDecide != nil {
			n.cb.OnACSDecide(ev.InstanceID, ev.WitnessSet)
		}
		return nil
	default:
		return bfterrors.Wrap(bfterrors.ErrDecodeFail, "engine: unknown termination kind")
	}
}

// StartACSSRound registers and starts this node's own dealer instance
// for round, sharing secrets to the committee (spec §4.6 step 1's
// concrete realization: each party's ACS input is the batch of secrets
// it deals via ACSS, rather than a separate CTRBC of a replica set).
func (n *Node) StartACSSRound(ctx context.Context, round uint64, secrets []field.Element) error {
	instanceID := ACSSInstanceID(round, n.cfg.Self)
	n.ACSS.RegisterInstance(instanceID, n.cfg.Self)
	return n.ACSS.Start(ctx, instanceID, secrets)
}
