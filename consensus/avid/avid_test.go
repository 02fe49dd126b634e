// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package avid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/transport"
)

type outcome struct {
	root        merkle.Hash
	shard       []byte
	isRecipient bool
}

type key struct {
	node     int
	instance uint64
}

func newHarness(t *testing.T, n, tt int, delivered *sync.Map) ([]*Protocol, []*transport.LocalNetwork, *transport.KeyStore) {
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
		cb := Callbacks{OnDeliver: func(instanceID uint64, root merkle.Hash, shard []byte, isRecipient bool) {
			delivered.Store(key{node: i, instance: instanceID}, outcome{root: root, shard: append([]byte(nil), shard...), isRecipient: isRecipient})
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
				msg, err := Decode(env.Body)
				if err != nil {
					continue
				}
				switch env.Tag {
				case TagInit:
					_ = protos[i].HandleInit(ctx, env.Sender, msg)
				case TagEcho:
					_ = protos[i].HandleEcho(ctx, env.Sender, msg)
				case TagReady:
					_ = protos[i].HandleReady(ctx, env.Sender, msg)
				}
			}
		}()
	}
}

// TestDispersalDeliversOnlyToOwnRecipient covers scenario S1/S4-adjacent
// behavior for AVID: every node agrees on the same root, but only the
// node at each shard's position ever learns that shard's plaintext.
func TestDispersalDeliversOnlyToOwnRecipient(t *testing.T) {
	const n, tt = 7, 2
	var delivered sync.Map
	protos, nets, ks := newHarness(t, n, tt, &delivered)
	for i := 0; i < n; i++ {
		protos[i].RegisterInstance(11, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pump(ctx, nets, ks, protos)

	require.NoError(t, protos[0].Start(ctx, 11, []byte("a dispersed secret payload")))

	require.Eventually(t, func() bool {
		for i := 0; i < n; i++ {
			if _, ok := delivered.Load(key{node: i, instance: 11}); !ok {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	var root merkle.Hash
	for i := 0; i < n; i++ {
		v, _ := delivered.Load(key{node: i, instance: 11})
		o := v.(outcome)
		if i == 0 {
			root = o.root
		}
		require.Equal(t, root, o.root)
		require.True(t, o.isRecipient)
		require.NotEmpty(t, o.shard)
	}
}
