// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package binaryba

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	bftcoin "github.com/luxfi/abft/crypto/coin"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/transport"
)

func newHarness(t *testing.T, n, tt int, decided *sync.Map) ([]*Protocol, []*transport.LocalNetwork, *transport.KeyStore) {
	t.Helper()
	nets := transport.NewLocalNetwork(n, 256)
	keyMap := make(map[int][]byte, n)
	for i := 0; i < n; i++ {
		keyMap[i] = []byte("shared-key")
	}
	ks := transport.NewKeyStore(keyMap)

	keySet, err := bftcoin.Setup(n, tt)
	require.NoError(t, err)

	protos := make([]*Protocol, n)
	for i := 0; i < n; i++ {
		i := i
		cfg := Config{Self: i, N: n, T: tt, Transport: nets[i], Keys: ks, Coin: keySet, Log: log.NewNoOpLogger()}
		cb := Callbacks{OnDecide: func(instanceID uint64, value byte) {
			decided.Store(i, value)
		}}
		protos[i] = New(cfg, cb)
	}
	return protos, nets, ks
}

func pump(ctx context.Context, nets []*transport.LocalNetwork, ks *transport.KeyStore, protos []*Protocol) {
	for i := range protos {
		i := i
		go func() {
			for {
				env, err := nets[i].Recv(ctx)
				if err != nil {
					return
				}
				k, err := ks.KeyFor(env.Sender)
				if err != nil {
					continue
				}
				if err := transport.Open(k, env); err != nil {
					continue
				}
				switch env.Tag {
				case TagEcho1:
					msg, err := DecodeEcho(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleEcho1(ctx, env.Sender, msg)
				case TagEcho2:
					msg, err := DecodeEcho(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleEcho2(ctx, env.Sender, msg)
				case TagEcho3:
					msg, err := DecodeConf(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleEcho3(ctx, env.Sender, msg)
				case TagCoin:
					msg, err := DecodeCoin(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleCoin(ctx, env.Sender, msg)
				}
			}
		}()
	}
}

// TestAllHonestSameEstimateDecides covers the common case: every replica
// proposes the same bit, so binValues/AUX/CONF converge on a singleton
// every round, and the protocol decides that bit as soon as the coin
// agrees with it (spec §4.6, component table row "Binary Byzantine
// Agreement").
func TestAllHonestSameEstimateDecides(t *testing.T) {
	const n, tt = 4, 1
	var decided sync.Map
	protos, nets, ks := newHarness(t, n, tt, &decided)
	for i := 0; i < n; i++ {
		protos[i].RegisterInstance(7)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pump(ctx, nets, ks, protos)

	for i := 0; i < n; i++ {
		require.NoError(t, protos[i].Propose(ctx, 7, 1))
	}

	require.Eventually(t, func() bool {
		for i := 0; i < n; i++ {
			if _, ok := decided.Load(i); !ok {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < n; i++ {
		v, _ := decided.Load(i)
		require.Equal(t, byte(1), v, "replica %d decided wrong bit", i)
	}
}

// TestSplitEstimatesConvergeOnSameBit covers the split-input case: half
// the replicas start at 0 and half at 1, so round 0 cannot converge on a
// singleton and the BBACoin unlock step must drive every replica to the
// same next estimate (spec §4.6 "coin-share unlock on stalemate"), after
// which all replicas decide the same bit.
func TestSplitEstimatesConvergeOnSameBit(t *testing.T) {
	const n, tt = 4, 1
	var decided sync.Map
	protos, nets, ks := newHarness(t, n, tt, &decided)
	for i := 0; i < n; i++ {
		protos[i].RegisterInstance(9)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pump(ctx, nets, ks, protos)

	for i := 0; i < n; i++ {
		est := byte(i % 2)
		require.NoError(t, protos[i].Propose(ctx, 9, est))
	}

	require.Eventually(t, func() bool {
		for i := 0; i < n; i++ {
			if _, ok := decided.Load(i); !ok {
				return false
			}
		}
		return true
	}, 4*time.Second, 5*time.Millisecond)

	var want *byte
	for i := 0; i < n; i++ {
		v, _ := decided.Load(i)
		b := v.(byte)
		if want == nil {
			want = &b
		} else {
			require.Equal(t, *want, b, "replica %d decided a different bit than replica 0", i)
		}
	}
}
