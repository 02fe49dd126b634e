// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package acss

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/field"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/transport"
)

type key struct {
	node     int
	instance uint64
}

type delivery struct {
	rowPoly field.Poly
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
		cb := Callbacks{OnDeliver: func(instanceID uint64, rowPoly, blindRowPoly field.Poly, columnRoots []merkle.Hash) {
			delivered.Store(key{node: i, instance: instanceID}, delivery{rowPoly: rowPoly})
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

// TestBatchSharingRecoversEachSecret covers the full ACSS lifecycle: a
// batch of secrets is dealt, every node terminates with a verified row
// polynomial, and combining t+1 nodes' shares of any one secret recovers
// it exactly (spec §4.5).
func TestBatchSharingRecoversEachSecret(t *testing.T) {
	const n, tt = 7, 2
	var delivered sync.Map
	protos, nets, ks := newHarness(t, n, tt, &delivered)
	for i := 0; i < n; i++ {
		protos[i].RegisterInstance(21, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pump(ctx, nets, ks, protos)

	secrets := []field.Element{field.FromInt64(111), field.FromInt64(222)}
	require.NoError(t, protos[0].Start(ctx, 21, secrets))

	require.Eventually(t, func() bool {
		for i := 0; i < n; i++ {
			if _, ok := delivered.Load(key{node: i, instance: 21}); !ok {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	for secretIdx, want := range secrets {
		col := secretIdx + 1
		shares := make([]field.Share, 0, tt+1)
		for i := 0; i < tt+1; i++ {
			v, _ := delivered.Load(key{node: i, instance: 21})
			d := v.(delivery)
			shares = append(shares, field.Share{X: field.FromInt64(int64(i + 1)), Y: ShareOfSecret(d.rowPoly, col)})
		}
		got := field.InterpolateAtZero(shares)
		require.True(t, got.Equal(want), "secret %d mismatch", secretIdx)
	}
}

// TestTamperedRowShareIsRejected covers share verification: a row
// share that doesn't match what the dealer actually committed to fails
// its column inclusion proof and must be rejected before any Echo is
// sent.
func TestTamperedRowShareIsRejected(t *testing.T) {
	const n, tt = 4, 1
	var delivered sync.Map
	protos, _, _ := newHarness(t, n, tt, &delivered)
	proto := protos[1]
	proto.RegisterInstance(5, 0)

	f, err := field.NewBivariatePoly(tt, []field.Element{field.FromInt64(7)})
	require.NoError(t, err)
	b, err := field.NewBivariatePoly(tt, nil)
	require.NoError(t, err)

	columnRoots := make([]merkle.Hash, tt+1)
	blindingRoots := make([]merkle.Hash, tt+1)
	trees := make([]*merkle.Tree, tt+1)
	btrees := make([]*merkle.Tree, tt+1)
	for j := 0; j <= tt; j++ {
		ct := columnTree(f.Column(field.FromInt64(int64(j))), n)
		bt := columnTree(b.Column(field.FromInt64(int64(j))), n)
		trees[j], btrees[j] = ct, bt
		columnRoots[j], blindingRoots[j] = ct.Root(), bt.Root()
	}
	chi, yStar := challenges(5, columnRoots, blindingRoots)
	q := b.Column(yStar).Add(f.Column(yStar).Scale(chi))

	x := field.FromInt64(2) // recipient index 1 -> x = 2
	rowPoly := f.Row(x)
	// tamper: flip a coefficient so Eval no longer matches the committed proofs
	rowPoly[0] = rowPoly[0].Add(field.FromInt64(1))
	blindRowPoly := b.Row(x)

	rowProofs := make([]merkle.Proof, tt+1)
	blindRowProofs := make([]merkle.Proof, tt+1)
	for j := 0; j <= tt; j++ {
		v := f.Row(x).Eval(field.FromInt64(int64(j))) // proof matches the UNtampered poly
		rowProofs[j] = trees[j].Prove(2, v.Bytes())
		bv := blindRowPoly.Eval(field.FromInt64(int64(j)))
		blindRowProofs[j] = btrees[j].Prove(2, bv.Bytes())
	}

	msg := Message{
		InstanceID: 5, ColumnRoots: columnRoots, BlindingRoots: blindingRoots, Q: q,
		RowPoly: rowPoly, BlindRowPoly: blindRowPoly,
		RowProofs: rowProofs, BlindRowProofs: blindRowProofs, HasPrivateShares: true,
	}
	err = proto.HandleInit(context.Background(), 0, msg)
	require.Error(t, err)
}
