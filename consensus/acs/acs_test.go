// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package acs

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/transport"
)

func newProtos(n, tt int, nets []*transport.LocalNetwork, ks *transport.KeyStore, ready *sync.Map) []*Protocol {
	protos := make([]*Protocol, n)
	for i := 0; i < n; i++ {
		i := i
		cfg := Config{Self: i, N: n, T: tt, Transport: nets[i], Keys: ks, Log: log.NewNoOpLogger()}
		cb := Callbacks{OnWitnessReady: func(instanceID uint64, witnessSet []int) {
			ready.Store(i, append([]int(nil), witnessSet...))
		}}
		protos[i] = New(cfg, cb)
	}
	return protos
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
				key, err := ks.KeyFor(env.Sender)
				if err != nil {
					continue
				}
				if err := transport.Open(key, env); err != nil {
					continue
				}
				switch env.Tag {
				case TagGatherEcho:
					msg, err := DecodeGatherEcho(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleGatherEcho(ctx, env.Sender, msg)
				case TagGatherEcho2:
					msg, err := DecodeGatherEcho2(env.Body)
					if err != nil {
						continue
					}
					_ = protos[i].HandleGatherEcho2(ctx, env.Sender, msg)
				}
			}
		}()
	}
}

// TestAllHonestSameTerminationSetProducesCommonWitness covers S5-style
// agreement: every node locally terminates ACSS for dealers {0..4} (5 =
// 2t+1 of 7), and every node ends up with the identical witness set.
func TestAllHonestSameTerminationSetProducesCommonWitness(t *testing.T) {
	const n, tt = 7, 2
	nets := transport.NewLocalNetwork(n, 64)
	keyMap := make(map[int][]byte, n)
	for i := 0; i < n; i++ {
		keyMap[i] = []byte("shared-key")
	}
	ks := transport.NewKeyStore(keyMap)

	var ready sync.Map
	protos := newProtos(n, tt, nets, ks, &ready)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pump(ctx, nets, ks, protos)

	dealers := []int{0, 1, 2, 3, 4}
	for i := 0; i < n; i++ {
		for _, d := range dealers {
			require.NoError(t, protos[i].NotifyACSSTerminated(ctx, 1, d))
		}
	}

	require.Eventually(t, func() bool {
		count := 0
		ready.Range(func(_, _ interface{}) bool { count++; return true })
		return count == n
	}, time.Second, 5*time.Millisecond)

	var want []int
	for i := 0; i < n; i++ {
		v, ok := ready.Load(i)
		require.True(t, ok)
		set := v.([]int)
		require.GreaterOrEqual(t, len(set), 2*tt+1)
		sorted := append([]int(nil), set...)
		sort.Ints(sorted)
		require.Equal(t, set, sorted, "witness set must be canonically sorted")
		if want == nil {
			want = set
		} else {
			require.Equal(t, want, set, "all honest nodes must agree on the witness set")
		}
	}
}

func TestLexSmallestWitnessTrimsToThreshold(t *testing.T) {
	got := lexSmallestWitness([]int{1, 2, 3, 4, 9}, 3)
	require.Equal(t, []int{1, 2, 3}, got)

	got = lexSmallestWitness([]int{5, 6}, 3)
	require.Equal(t, []int{5, 6}, got)
}

func TestIntersectAllRequiresPresenceInEverySet(t *testing.T) {
	got := intersectAll([][]int{{1, 2, 3}, {2, 3, 4}, {3, 4, 5}})
	require.Equal(t, []int{3}, got)
}
