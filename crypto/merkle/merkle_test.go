// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeReconstructRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated for padding")
	const n, t1 = 4, 2 // n=4, dataShards=t+1=2, parityShards=n-(t+1)=2

	enc, err := Encode(payload, t1, n-t1)
	require.NoError(t, err)
	require.Len(t, enc.Shards, n)

	tree := BuildTree(enc.Shards)
	root := tree.Root()

	// Verify every shard's proof against the root (P5).
	for i, s := range enc.Shards {
		proof := tree.Prove(i, s)
		require.NoError(t, Verify(proof, root))
	}

	// Reconstruct from any t+1 shards.
	shardMap := map[int][]byte{0: enc.Shards[0], 2: enc.Shards[2]}
	out, err := Reconstruct(shardMap, t1, n-t1, enc.DataLen)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestVerifyRejectsWrongRoot(t *testing.T) {
	payload := []byte("hello")
	enc, err := Encode(payload, 2, 2)
	require.NoError(t, err)

	treeA := BuildTree(enc.Shards)
	forged, err := Encode([]byte("gg"), 2, 2)
	require.NoError(t, err)
	treeB := BuildTree(forged.Shards)

	proof := treeA.Prove(0, enc.Shards[0])
	require.Error(t, Verify(proof, treeB.Root()))
}

func TestVerifyRejectsTamperedShard(t *testing.T) {
	payload := []byte("tamper test payload")
	enc, err := Encode(payload, 2, 2)
	require.NoError(t, err)
	tree := BuildTree(enc.Shards)

	proof := tree.Prove(0, enc.Shards[0])
	proof.Shard = append([]byte(nil), proof.Shard...)
	proof.Shard[0] ^= 0xFF

	require.Error(t, Verify(proof, tree.Root()))
}
