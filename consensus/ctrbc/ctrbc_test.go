// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ctrbc

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

// harness wires n CTRBC protocols over a LocalNetwork and pumps each
// node's inbox on its own goroutine, dispatching by Tag.
type harness struct {
	protos []*Protocol
	nets   []*transport.LocalNetwork
	keys   *transport.KeyStore
}

func newHarness(t *testing.T, n, tt int, delivered *sync.Map) *harness {
	t.Helper()
	nets := transport.NewLocalNetwork(n, 64)
	keyMap := make(map[int][]byte, n)
	for i := 0; i < n; i++ {
		keyMap[i] = []byte("shared-key")
	}
	ks := transport.NewKeyStore(keyMap)

	h := &harness{nets: make([]*transport.LocalNetwork, n), keys: ks}
	for i := 0; i < n; i++ {
		h.nets[i] = nets[i]
	}

	h.protos = make([]*Protocol, n)
	for i := 0; i < n; i++ {
		i := i
		cfg := Config{Self: i, N: n, T: tt, Transport: nets[i], Keys: ks, Log: log.NewNoOpLogger()}
		cb := Callbacks{OnDeliver: func(instanceID uint64, payload []byte) {
			delivered.Store(key{node: i, instance: instanceID}, append([]byte(nil), payload...))
		}}
		h.protos[i] = New(cfg, cb)
	}
	return h
}

type key struct {
	node     int
	instance uint64
}

// pump runs each node's receive loop until ctx is done.
func (h *harness) pump(ctx context.Context) {
	for i := range h.protos {
		i := i
		go func() {
			for {
				env, err := h.nets[i].Recv(ctx)
				if err != nil {
					return
				}
				if err := transport.Open(mustKey(h.keys, env.Sender), env); err != nil {
					continue
				}
				msg, err := Decode(env.Body)
				if err != nil {
					continue
				}
				switch env.Tag {
				case TagInit:
					_ = h.protos[i].HandleInit(ctx, env.Sender, msg)
				case TagEcho:
					_ = h.protos[i].HandleEcho(ctx, env.Sender, msg)
				case TagReady:
					_ = h.protos[i].HandleReady(ctx, env.Sender, msg)
				}
			}
		}()
	}
}

func mustKey(ks *transport.KeyStore, peer int) []byte {
	k, err := ks.KeyFor(peer)
	if err != nil {
		panic(err)
	}
	return k
}

// TestHonestDealerDeliversToAll covers scenario S1: an honest dealer's
// broadcast terminates at every correct node with the same payload.
func TestHonestDealerDeliversToAll(t *testing.T) {
	const n, tt = 7, 2
	var delivered sync.Map
	h := newHarness(t, n, tt, &delivered)

	// Every node needs the dealer registered so Echo/Ready arriving
	// before this node's own Init has somewhere to land.
	for i := 0; i < n; i++ {
		h.protos[i].RegisterInstance(42, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.pump(ctx)

	payload := []byte("hello byzantine world")
	require.NoError(t, h.protos[0].Start(ctx, 42, payload))

	require.Eventually(t, func() bool {
		for i := 0; i < n; i++ {
			if _, ok := delivered.Load(key{node: i, instance: 42}); !ok {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < n; i++ {
		v, _ := delivered.Load(key{node: i, instance: 42})
		require.Equal(t, payload, v)
	}
}

// TestSilentDealerNeverDelivers covers scenario S3: if the dealer never
// sends Init and no correct node echoes, nothing terminates.
func TestSilentDealerNeverDelivers(t *testing.T) {
	const n, tt = 4, 1
	var delivered sync.Map
	h := newHarness(t, n, tt, &delivered)
	for i := 0; i < n; i++ {
		h.protos[i].RegisterInstance(7, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	h.pump(ctx)
	<-ctx.Done()

	for i := 0; i < n; i++ {
		_, ok := delivered.Load(key{node: i, instance: 7})
		require.False(t, ok)
	}
}

// TestDuplicateEchoIsIdempotent covers P8: replaying an already-counted
// Echo from the same sender must not double-count toward the threshold.
func TestDuplicateEchoIsIdempotent(t *testing.T) {
	const n, tt = 4, 1
	var delivered sync.Map
	h := newHarness(t, n, tt, &delivered)
	proto := h.protos[0]
	proto.RegisterInstance(1, 0)

	shards := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc"), []byte("dddd")}
	tree := merkle.BuildTree(shards)
	msg := Message{InstanceID: 1, Root: tree.Root(), Proof: tree.Prove(0, shards[0])}

	require.NoError(t, proto.HandleEcho(context.Background(), 2, msg))
	require.NoError(t, proto.HandleEcho(context.Background(), 2, msg))

	inst := proto.instances[1]
	require.Equal(t, 1, inst.echoCounter(msg.Root).Count())
}
