// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package asks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/abft/field"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/transport"
)

type key struct {
	node     int
	instance uint64
}

func newHarness(t *testing.T, n, tt int, shared, reconstructed *sync.Map) ([]*Protocol, []*transport.LocalNetwork, *transport.KeyStore) {
	t.Helper()
	nets := transport.NewLocalNetwork(n, 64)
	keyMap := make(map[int][]byte, n)
	for i := 0; i < n; i++ {
		keyMap[i] = []byte("shared-key")
	}
	ks := transport.NewKeyStore(keyMap)

	protos := make([]*Protocol, n)
	for i := 0; i < n; i++ {
		i := i
		cfg := Config{Self: i, N: n, T: tt, Transport: nets[i], Keys: ks, Log: log.NewNoOpLogger()}
		cb := Callbacks{
			OnShared: func(instanceID uint64, commitments []Commitment, share, nonce field.Element, haveShare bool) {
				shared.Store(key{node: i, instance: instanceID}, haveShare)
			},
			OnReconstruct: func(instanceID uint64, secret field.Element) {
				reconstructed.Store(key{node: i, instance: instanceID}, secret)
			},
		}
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
				case TagInit:
					if msg, err := Decode(env.Body); err == nil {
						_ = protos[i].HandleInit(ctx, env.Sender, msg)
					}
				case TagEcho:
					if msg, err := Decode(env.Body); err == nil {
						_ = protos[i].HandleEcho(ctx, env.Sender, msg)
					}
				case TagReady:
					if msg, err := Decode(env.Body); err == nil {
						_ = protos[i].HandleReady(ctx, env.Sender, msg)
					}
				case TagReconstruct:
					if msg, err := DecodeReconstruct(env.Body); err == nil {
						_ = protos[i].HandleReconstruct(ctx, env.Sender, msg)
					}
				}
			}
		}()
	}
}

// TestShareThenReconstructRecoversSecret covers the full ASKS lifecycle:
// dealer shares a secret, every node's sharing phase terminates, and
// after all nodes broadcast their shares, reconstruction recovers the
// original secret (spec §4.5 ASKS variant + §9 Open Question).
func TestShareThenReconstructRecoversSecret(t *testing.T) {
	const n, tt = 7, 2
	var shared, reconstructed sync.Map
	protos, nets, ks := newHarness(t, n, tt, &shared, &reconstructed)
	for i := 0; i < n; i++ {
		protos[i].RegisterInstance(3, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pump(ctx, nets, ks, protos)

	secret := field.FromInt64(424242)
	require.NoError(t, protos[0].Start(ctx, 3, secret))

	require.Eventually(t, func() bool {
		for i := 0; i < n; i++ {
			if _, ok := shared.Load(key{node: i, instance: 3}); !ok {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < n; i++ {
		require.NoError(t, protos[i].BeginReconstruct(ctx, 3))
	}

	require.Eventually(t, func() bool {
		for i := 0; i < n; i++ {
			if _, ok := reconstructed.Load(key{node: i, instance: 3}); !ok {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < n; i++ {
		v, _ := reconstructed.Load(key{node: i, instance: 3})
		got := v.(field.Element)
		require.True(t, got.Equal(secret))
	}
}

// TestReconstructRejectsMismatchedShare covers the commitment-binding
// check: a (share, nonce) pair that does not hash to the committed
// vector must be rejected, not merged into reconstruction.
func TestReconstructRejectsMismatchedShare(t *testing.T) {
	const n, tt = 4, 1
	var shared, reconstructed sync.Map
	protos, _, _ := newHarness(t, n, tt, &shared, &reconstructed)
	proto := protos[0]
	proto.RegisterInstance(9, 0)

	inst := proto.instance(9, 0)
	inst.commitments = []Commitment{commit(field.FromInt64(1), field.FromInt64(2))}
	inst.haveInit = true

	bogus := ReconstructMessage{InstanceID: 9, Index: 0, Share: field.FromInt64(99), Nonce: field.FromInt64(2)}
	require.NoError(t, proto.HandleReconstruct(context.Background(), 1, bogus))
	require.Empty(t, inst.reconShares)
}
