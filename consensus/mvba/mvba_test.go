// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mvba

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/abft/consensus/binaryba"
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
		cb := Callbacks{OnDecide: func(instanceID uint64, witnessSet []int) {
			decided.Store(i, append([]int(nil), witnessSet...))
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
				case TagL3Witness:
					msg, err := DecodeL3Witness(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleL3Witness(ctx, env.Sender, msg)
				case TagLeaderCoin:
					msg, err := DecodeLeaderCoin(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleLeaderCoin(ctx, env.Sender, msg)
				case binaryba.TagEcho1:
					msg, err := binaryba.DecodeEcho(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleBinaryEcho1(ctx, env.Sender, msg)
				case binaryba.TagEcho2:
					msg, err := binaryba.DecodeEcho(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleBinaryEcho2(ctx, env.Sender, msg)
				case binaryba.TagEcho3:
					msg, err := binaryba.DecodeConf(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleBinaryEcho3(ctx, env.Sender, msg)
				case binaryba.TagCoin:
					msg, err := binaryba.DecodeCoin(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleBinaryCoin(ctx, env.Sender, msg)
				}
			}
		}()
	}
}

// TestFirstHonestLeaderDecidesImmediately covers the common case: every
// replica proposes the same witness set, so whichever leader round 0's
// coin elects has already broadcast a matching L3Witness, the embedded
// binary BA's estimate starts at 1 everywhere, and the instance decides
// without ever reaching round 1.
func TestFirstHonestLeaderDecidesImmediately(t *testing.T) {
	const n, tt = 4, 1
	var decided sync.Map
	protos, nets, ks := newHarness(t, n, tt, &decided)
	for i := 0; i < n; i++ {
		protos[i].RegisterInstance(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pump(ctx, nets, ks, protos)

	witnessSet := []int{0, 1, 2}
	for i := 0; i < n; i++ {
		require.NoError(t, protos[i].Propose(ctx, 1, witnessSet))
	}

	require.Eventually(t, func() bool {
		for i := 0; i < n; i++ {
			if _, ok := decided.Load(i); !ok {
				return false
			}
		}
		return true
	}, 4*time.Second, 5*time.Millisecond)

	for i := 0; i < n; i++ {
		v, _ := decided.Load(i)
		set := v.([]int)
		sorted := append([]int(nil), witnessSet...)
		sort.Ints(sorted)
		require.Equal(t, sorted, set, "replica %d decided a different witness set", i)
	}
}

// TestDecisionIsConsistentAcrossNodes covers agreement proper: every
// honest replica must land on the identical decided witness set
// regardless of which round or which elected leader it decided through.
func TestDecisionIsConsistentAcrossNodes(t *testing.T) {
	const n, tt = 7, 2
	var decided sync.Map
	protos, nets, ks := newHarness(t, n, tt, &decided)
	for i := 0; i < n; i++ {
		protos[i].RegisterInstance(5)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	pump(ctx, nets, ks, protos)

	witnessSet := []int{0, 1, 2, 3, 4}
	for i := 0; i < n; i++ {
		require.NoError(t, protos[i].Propose(ctx, 5, witnessSet))
	}

	require.Eventually(t, func() bool {
		count := 0
		decided.Range(func(_, _ interface{}) bool { count++; return true })
		return count == n
	}, 6*time.Second, 10*time.Millisecond)

	var want []int
	for i := 0; i < n; i++ {
		v, ok := decided.Load(i)
		require.True(t, ok)
		set := v.([]int)
		if want == nil {
			want = set
		} else {
			require.Equal(t, want, set, "replica %d decided a different witness set than replica 0", i)
		}
	}
}
