// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mvba

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/consensus/binaryba"
	"github.com/luxfi/abft/crypto/coin"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/transport"
)

// Config is the fixed per-node configuration shared by every MVBA
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
	// OnDecide fires once an instance's output witness set is fixed
	// (spec §4.6: "witness_set returned by ACS is the common output").
	OnDecide func(instanceID uint64, witnessSet []int)
}

// Protocol runs MVBA for an arbitrary number of concurrently active
// instances, each composed internally of one embedded binary_ba round
// per MVBA round. Handle*/Propose calls run to completion under `mu`,
// matching the single-threaded cooperative event loop of spec §5.
// binary_ba's OnDecide callback (onBinaryBADecide) takes `mu` as well, so
// it must not fire inside a call that already holds it. With t >= 1 a
// binary_ba Propose made under `mu` cannot complete a decision by itself;
// with t = 0 it can, and that call then blocks on `mu`.
type Protocol struct {
	cfg Config
	cb  Callbacks

	mu        sync.Mutex
	instances map[uint64]*instanceState
	baIndex   map[uint64]baKey

	ba     *binaryba.Protocol
	runCtx context.Context
}

type baKey struct {
	instanceID uint64
	round      uint32
}

// New constructs an MVBA protocol driver, along with its embedded
// binary_ba instance for per-round leader-proposal acceptance (spec
// §4.6 step 5).
func New(cfg Config, cb Callbacks) *Protocol {
	p := &Protocol{
		cfg:       cfg,
		cb:        cb,
		instances: make(map[uint64]*instanceState),
		baIndex:   make(map[uint64]baKey),
		runCtx:    context.Background(),
	}
	p.ba = binaryba.New(binaryba.Config{
		Self: cfg.Self, N: cfg.N, T: cfg.T,
		Transport: cfg.Transport, Keys: cfg.Keys, Coin: cfg.Coin, Log: cfg.Log,
	}, binaryba.Callbacks{OnDecide: p.onBinaryBADecide})
	return p
}

func baInstanceID(instanceID uint64, round uint32) uint64 {
	return instanceID<<20 | uint64(round)
}

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
		p.cfg.Log.Fatal("mvba: missing shared key", zap.Int("peer", peer), zap.Error(err))
	}
	return k
}

func (p *Protocol) broadcast(ctx context.Context, tag transport.Tag, body []byte, self func() error) error {
	if err := self(); err != nil {
		p.cfg.Log.Warn("mvba: local handling failed", zap.Error(err))
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

func validWitnessSet(set []int, n, t int) bool {
	if len(set) < 2*t+1 {
		return false
	}
	seen := make(map[int]bool, len(set))
	for _, v := range set {
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
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instance(instanceID)
}

// Propose starts round 0 of MVBA for instanceID with this node's witness
// set, as produced by the gather phase (spec §4.6 step 4).
func (p *Protocol) Propose(ctx context.Context, instanceID uint64, witnessSet []int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runCtx = ctx
	inst := p.instance(instanceID)
	inst.myProposal = witnessSet
	return p.startRoundLocked(ctx, inst, instanceID, 0)
}

func (p *Protocol) startRoundLocked(ctx context.Context, inst *instanceState, instanceID uint64, round uint32) error {
	if inst.terminated {
		return nil
	}
	rs := inst.atRound(round)
	msg := L3WitnessMessage{InstanceID: instanceID, Round: round, WitnessSet: inst.myProposal}
	if err := p.broadcast(ctx, TagL3Witness, msg.Encode(), func() error {
		return p.handleL3WitnessLocked(ctx, p.cfg.Self, msg)
	}); err != nil {
		return err
	}
	share, err := coin.Share(p.cfg.Coin, p.cfg.Self, instanceID, int(round))
	if err != nil {
		return bfterrors.Wrap(err, "compute leader coin share")
	}
	coinMsg := LeaderCoinMessage{InstanceID: instanceID, Round: round, Share: share}
	_ = rs
	return p.broadcast(ctx, TagLeaderCoin, coinMsg.Encode(), func() error {
		return p.handleLeaderCoinLocked(ctx, p.cfg.Self, coinMsg)
	})
}

// HandleL3Witness processes an inbound leader-proposal message.
func (p *Protocol) HandleL3Witness(ctx context.Context, from int, msg L3WitnessMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runCtx = ctx
	return p.handleL3WitnessLocked(ctx, from, msg)
}

func (p *Protocol) handleL3WitnessLocked(ctx context.Context, from int, msg L3WitnessMessage) error {
	inst := p.instance(msg.InstanceID)
	if inst.terminated {
		return nil
	}
	rs := inst.atRound(msg.Round)
	if _, ok := rs.witnessProposals[from]; ok {
		return nil
	}
	if !validWitnessSet(msg.WitnessSet, p.cfg.N, p.cfg.T) {
		return nil
	}
	rs.witnessProposals[from] = msg.WitnessSet
	return p.tryStartBinaryBALocked(ctx, inst, msg.InstanceID, msg.Round)
}

// HandleLeaderCoin processes an inbound leader-coin share.
func (p *Protocol) HandleLeaderCoin(ctx context.Context, from int, msg LeaderCoinMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runCtx = ctx
	return p.handleLeaderCoinLocked(ctx, from, msg)
}

func (p *Protocol) handleLeaderCoinLocked(ctx context.Context, from int, msg LeaderCoinMessage) error {
	inst := p.instance(msg.InstanceID)
	if inst.terminated {
		return nil
	}
	rs := inst.atRound(msg.Round)
	if rs.leaderCoinSenders[from] {
		return nil
	}
	if err := coin.VerifyShare(p.cfg.Coin, msg.InstanceID, int(msg.Round), msg.Share); err != nil {
		p.cfg.Log.Warn("mvba: dropping invalid leader coin share", zap.Int("from", from), zap.Error(err))
		return nil
	}
	rs.leaderCoinSenders[from] = true
	rs.leaderCoinShares = append(rs.leaderCoinShares, msg.Share)

	if rs.leaderElected != nil || len(rs.leaderCoinShares) < p.cfg.T+1 {
		return nil
	}
	outcome, err := coin.Recover(p.cfg.Coin, msg.InstanceID, int(msg.Round), rs.leaderCoinShares, p.cfg.T, p.cfg.N)
	if err != nil {
		return bfterrors.Wrap(err, "recover leader coin")
	}
	leader := outcome.Leader(p.cfg.N)
	rs.leaderElected = &leader
	return p.tryStartBinaryBALocked(ctx, inst, msg.InstanceID, msg.Round)
}

// tryStartBinaryBALocked kicks off the round's binary_ba vote on whether
// to accept the elected leader's proposal, once both the leader and (if
// already arrived) its proposal are known (spec §4.6 step 5).
func (p *Protocol) tryStartBinaryBALocked(ctx context.Context, inst *instanceState, instanceID uint64, round uint32) error {
	rs := inst.atRound(round)
	if rs.baStarted || rs.leaderElected == nil {
		return nil
	}
	rs.baStarted = true
	_, haveProposal := rs.witnessProposals[*rs.leaderElected]
	var estimate byte
	if haveProposal {
		estimate = 1
	}

	baID := baInstanceID(instanceID, round)
	p.baIndex[baID] = baKey{instanceID: instanceID, round: round}
	p.ba.RegisterInstance(baID)
	return p.ba.Propose(ctx, baID, estimate)
}

func (p *Protocol) onBinaryBADecide(baID uint64, bit byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.baIndex[baID]
	if !ok {
		return
	}
	inst, ok := p.instances[key.instanceID]
	if !ok || inst.terminated {
		return
	}
	rs := inst.atRound(key.round)

	if bit == 1 && rs.leaderElected != nil {
		if proposal, ok := rs.witnessProposals[*rs.leaderElected]; ok {
			sorted := append([]int(nil), proposal...)
			sort.Ints(sorted)
			inst.terminated = true
			inst.decidedSet = sorted
			if p.cb.OnDecide != nil {
				p.cb.OnDecide(key.instanceID, sorted)
			}
			return
		}
	}

	nextRound := key.round + 1
	if err := p.startRoundLocked(p.runCtx, inst, key.instanceID, nextRound); err != nil {
		p.cfg.Log.Warn("mvba: failed to start next round", zap.Error(err))
	}
}

// HandleBinaryEcho1/2/3 and HandleBinaryCoin forward the embedded
// binary_ba's wire messages (spec §4.6 step 5's FinBinAAEcho{1,2,3} and
// BBACoin), keeping MVBA a single dispatch surface for the engine.
func (p *Protocol) HandleBinaryEcho1(ctx context.Context, from int, msg binaryba.EchoMessage) error {
	return p.ba.HandleEcho1(ctx, from, msg)
}

func (p *Protocol) HandleBinaryEcho2(ctx context.Context, from int, msg binaryba.EchoMessage) error {
	return p.ba.HandleEcho2(ctx, from, msg)
}

func (p *Protocol) HandleBinaryEcho3(ctx context.Context, from int, msg binaryba.ConfMessage) error {
	return p.ba.HandleEcho3(ctx, from, msg)
}

func (p *Protocol) HandleBinaryCoin(ctx context.Context, from int, msg binaryba.CoinMessage) error {
	return p.ba.HandleCoin(ctx, from, msg)
}

// Terminated reports whether instanceID has decided, and the decided
// witness set if so.
func (p *Protocol) Terminated(instanceID uint64) (witnessSet []int, terminated bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[instanceID]
	if !ok || !inst.terminated {
		return nil, false
	}
	return inst.decidedSet, true
}
