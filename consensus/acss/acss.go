// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package acss

import (
	"context"

	"go.uber.org/zap"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/field"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/quorum"
	"github.com/luxfi/abft/transport"
)

// Config is the fixed per-node configuration shared by every ACSS
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
	// OnDeliver fires once this node's share has been verified and the
	// committed root vectors are agreed (spec §4.5: "Termination delivers
	// (row_poly, blinding_row_poly, column_roots, verified_hash)").
	OnDeliver func(instanceID uint64, rowPoly, blindRowPoly field.Poly, columnRoots []merkle.Hash)
}

// Protocol runs ACSS for an arbitrary number of concurrently active
// instances.
type Protocol struct {
	cfg       Config
	cb        Callbacks
	instances map[uint64]*instanceState
}

// New constructs an ACSS protocol driver.
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
		p.cfg.Log.Fatal("acss: missing shared key", zap.Int("peer", peer), zap.Error(err))
	}
	return k
}

// columnTree builds the Merkle tree over a bivariate polynomial's j-th
// column evaluated at x=0..n (spec §4.5 step 2: "commits to the vector
// (C_j(0), ..., C_j(n-1)) as leaves of a Merkle tree").
func columnTree(col field.Poly, n int) *merkle.Tree {
	leaves := make([]merkle.Hash, n+1)
	for x := 0; x <= n; x++ {
		v := col.Eval(field.FromInt64(int64(x)))
		leaves[x] = merkle.LeafHash(x, v.Bytes())
	}
	return merkle.BuildTreeFromLeaves(leaves)
}

// Start is invoked by the dealer to share a batch of secrets under
// instanceID (spec §4.5 steps 1-4).
func (p *Protocol) Start(ctx context.Context, instanceID uint64, secrets []field.Element) error {
	if len(secrets) > p.cfg.T {
		return bfterrors.Wrapf(bfterrors.ErrConfigFatal, "batch of %d secrets exceeds degree %d", len(secrets), p.cfg.T)
	}
	f, err := field.NewBivariatePoly(p.cfg.T, secrets)
	if err != nil {
		return bfterrors.Wrap(err, "sample sharing bivariate polynomial")
	}
	b, err := field.NewBivariatePoly(p.cfg.T, nil)
	if err != nil {
		return bfterrors.Wrap(err, "sample blinding bivariate polynomial")
	}

	columnRoots := make([]merkle.Hash, p.cfg.T+1)
	blindingRoots := make([]merkle.Hash, p.cfg.T+1)
	columnTrees := make([]*merkle.Tree, p.cfg.T+1)
	blindingTrees := make([]*merkle.Tree, p.cfg.T+1)
	for j := 0; j <= p.cfg.T; j++ {
		jElem := field.FromInt64(int64(j))
		ct := columnTree(f.Column(jElem), p.cfg.N)
		bt := columnTree(b.Column(jElem), p.cfg.N)
		columnTrees[j] = ct
		blindingTrees[j] = bt
		columnRoots[j] = ct.Root()
		blindingRoots[j] = bt.Root()
	}

	chi, yStar := challenges(instanceID, columnRoots, blindingRoots)
	q := b.Column(yStar).Add(f.Column(yStar).Scale(chi))

	for i := 0; i < p.cfg.N; i++ {
		x := field.FromInt64(int64(i + 1))
		rowPoly := f.Row(x)
		blindRowPoly := b.Row(x)

		rowProofs := make([]merkle.Proof, p.cfg.T+1)
		blindRowProofs := make([]merkle.Proof, p.cfg.T+1)
		for j := 0; j <= p.cfg.T; j++ {
			v := rowPoly.Eval(field.FromInt64(int64(j)))
			rowProofs[j] = columnTrees[j].Prove(i+1, v.Bytes())
			bv := blindRowPoly.Eval(field.FromInt64(int64(j)))
			blindRowProofs[j] = blindingTrees[j].Prove(i+1, bv.Bytes())
		}

		msg := Message{
			InstanceID:       instanceID,
			ColumnRoots:      columnRoots,
			BlindingRoots:    blindingRoots,
			Q:                q,
			RowPoly:          rowPoly,
			BlindRowPoly:     blindRowPoly,
			RowProofs:        rowProofs,
			BlindRowProofs:   blindRowProofs,
			HasPrivateShares: true,
		}
		if i == p.cfg.Self {
			if err := p.handleInitLocal(ctx, p.cfg.Self, msg); err != nil {
				p.cfg.Log.Warn("acss: local init handling failed", zap.Error(err))
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

// verifyShares checks a recipient's row material against the committed
// column/blinding roots and the dZK identity (spec §4.5 step 5(a)-(c)).
func (p *Protocol) verifyShares(self int, msg Message) error {
	n := p.cfg.T + 1
	if len(msg.ColumnRoots) != n || len(msg.BlindingRoots) != n || len(msg.RowProofs) != n || len(msg.BlindRowProofs) != n {
		return bfterrors.Wrap(bfterrors.ErrDecodeFail, "malformed acss init shape")
	}
	for j := 0; j <= p.cfg.T; j++ {
		v := msg.RowPoly.Eval(field.FromInt64(int64(j)))
		if string(msg.RowProofs[j].Shard) != string(v.Bytes()) {
			return bfterrors.Wrap(bfterrors.ErrProofFail, "row share does not match claimed column value")
		}
		if err := merkle.Verify(msg.RowProofs[j], msg.ColumnRoots[j]); err != nil {
			return bfterrors.Wrap(bfterrors.ErrProofFail, "row proof")
		}
		bv := msg.BlindRowPoly.Eval(field.FromInt64(int64(j)))
		if string(msg.BlindRowProofs[j].Shard) != string(bv.Bytes()) {
			return bfterrors.Wrap(bfterrors.ErrProofFail, "blinding row share does not match claimed column value")
		}
		if err := merkle.Verify(msg.BlindRowProofs[j], msg.BlindingRoots[j]); err != nil {
			return bfterrors.Wrap(bfterrors.ErrProofFail, "blinding row proof")
		}
	}

	chi, yStar := challenges(msg.InstanceID, msg.ColumnRoots, msg.BlindingRoots)
	lhs := msg.Q.Eval(field.FromInt64(int64(self + 1)))
	rhs := msg.BlindRowPoly.Eval(yStar).Add(chi.Mul(msg.RowPoly.Eval(yStar)))
	if !lhs.Equal(rhs) {
		return bfterrors.Wrap(bfterrors.ErrProofFail, "dZK identity failed")
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
	if msg.HasPrivateShares {
		if err := p.verifyShares(p.cfg.Self, msg); err != nil {
			return err
		}
		inst.haveShares = true
		inst.rowPoly = msg.RowPoly
		inst.blindRowPoly = msg.BlindRowPoly
	}
	inst.haveInit = true
	inst.columnRoots = msg.ColumnRoots
	inst.blindingRoots = msg.BlindingRoots

	p.tryDeliver(msg.InstanceID, inst)
	return p.sendEcho(ctx, inst, msg)
}

func (p *Protocol) sendEcho(ctx context.Context, inst *instanceState, msg Message) error {
	if inst.echoSent {
		return nil
	}
	inst.echoSent = true
	return p.broadcastSelf(ctx, TagEcho, msg.withoutPrivate(), func(from int, m Message) error {
		return p.handleEchoLocked(ctx, from, m)
	})
}

func (p *Protocol) broadcastSelf(ctx context.Context, tag transport.Tag, msg Message, self func(from int, m Message) error) error {
	body := msg.Encode()
	for i := 0; i < p.cfg.N; i++ {
		if i == p.cfg.Self {
			if err := self(p.cfg.Self, msg); err != nil {
				p.cfg.Log.Warn("acss: local echo/ready handling failed", zap.Error(err))
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

// HandleEcho processes an inbound Echo message (no private row shares).
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
	key := rootsKey(msg.ColumnRoots, msg.BlindingRoots)
	counter := inst.echoCounter(key)
	counter.Add(from)
	if inst.columnRoots == nil {
		inst.columnRoots = msg.ColumnRoots
		inst.blindingRoots = msg.BlindingRoots
	}

	params := p.params()
	if counter.Met(params.WitnessThreshold()) && !inst.readySent {
		inst.readySent = true
		readyMsg := msg.withoutPrivate()
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
	key := rootsKey(msg.ColumnRoots, msg.BlindingRoots)
	counter := inst.readyCounter(key)
	counter.Add(from)
	if inst.columnRoots == nil {
		inst.columnRoots = msg.ColumnRoots
		inst.blindingRoots = msg.BlindingRoots
	}

	params := p.params()
	if !inst.readySent && counter.Met(params.ReconstructionThreshold()) {
		inst.readySent = true
		readyMsg := msg.withoutPrivate()
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

	if counter.Met(params.WitnessThreshold()) {
		inst.witnessReached = true
		p.tryDeliver(msg.InstanceID, inst)
	}
	return nil
}

// tryDeliver fires OnDeliver once both halves of termination hold: the
// witness/Ready threshold has been met, and this node has processed its
// own Init and so actually holds a row polynomial to hand up. A node
// that reaches the threshold purely via Ready amplification before its
// own Init arrives waits here rather than delivering a nil rowPoly.
func (p *Protocol) tryDeliver(instanceID uint64, inst *instanceState) {
	if inst.terminated || !inst.witnessReached || !inst.haveShares {
		return
	}
	inst.terminated = true
	if p.cb.OnDeliver != nil {
		p.cb.OnDeliver(instanceID, inst.rowPoly, inst.blindRowPoly, inst.columnRoots)
	}
}

// RegisterInstance lets an upper-layer protocol pre-register the dealer
// for an instance before any message for it has arrived.
func (p *Protocol) RegisterInstance(instanceID uint64, dealer int) {
	p.instance(instanceID, dealer)
}

// Terminated reports whether instanceID has delivered.
func (p *Protocol) Terminated(instanceID uint64) (rowPoly, blindRowPoly field.Poly, columnRoots []merkle.Hash, terminated bool) {
	inst, ok := p.instances[instanceID]
	if !ok || !inst.terminated {
		return nil, nil, nil, false
	}
	return inst.rowPoly, inst.blindRowPoly, inst.columnRoots, true
}

// ShareOfSecret returns this node's Shamir share of the j-th secret in
// the batch (1-indexed, matching F(0,j) = secrets[j-1]) from a
// terminated instance's row polynomial: RowPoly(j) = F(x_self, j).
func ShareOfSecret(rowPoly field.Poly, j int) field.Element {
	return rowPoly.Eval(field.FromInt64(int64(j)))
}
