// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package merkle implements the Reed-Solomon erasure coding and
// Merkle-commitment primitive of spec §4.2: a payload is split into t+1
// data shards, n-(t+1) parity shards are computed via systematic
// Reed-Solomon over GF(256) (github.com/klauspost/reedsolomon), each
// shard is hashed, and the n hashes are committed into a binary Merkle
// tree. Leaf/branch hashing follows the domain-separated hashing scheme
// of forestrie-go-merklelog's urkle package (0x00-prefixed leaves,
// 0x01-prefixed branches), adapted from its sparse-trie shape to a dense
// binary tree over exactly n leaves.
package merkle

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/klauspost/reedsolomon"

	"github.com/luxfi/abft/bfterrors"
)

// HashSize is the width of a commitment hash in bytes.
const HashSize = 32

// Hash is a 32-byte commitment digest (spec §3.2).
type Hash [HashSize]byte

// Encoded holds the n erasure-coded shards of a payload plus bookkeeping
// needed to reconstruct the original byte length.
type Encoded struct {
	Shards    [][]byte
	DataLen   int // length of the original, unpadded payload
	DataShard int // t+1: number of data shards
}

// Encode pads payload to a multiple of dataShards and erasure-codes it
// into n = dataShards+parityShards shards (spec §4.2 steps 1-2).
func Encode(payload []byte, dataShards, parityShards int) (*Encoded, error) {
	if dataShards <= 0 || parityShards < 0 {
		return nil, bfterrors.Wrapf(bfterrors.ErrConfigFatal, "invalid shard counts data=%d parity=%d", dataShards, parityShards)
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, bfterrors.Wrap(err, "construct reed-solomon encoder")
	}

	shardSize := (len(payload) + dataShards - 1) / dataShards
	if shardSize == 0 {
		shardSize = 1
	}
	padded := make([]byte, shardSize*dataShards)
	copy(padded, payload)

	shards := make([][]byte, dataShards+parityShards)
	for i := 0; i < dataShards; i++ {
		shards[i] = padded[i*shardSize : (i+1)*shardSize]
	}
	for i := dataShards; i < dataShards+parityShards; i++ {
		shards[i] = make([]byte, shardSize)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, bfterrors.Wrap(err, "reed-solomon encode")
	}
	return &Encoded{Shards: shards, DataLen: len(payload), DataShard: dataShards}, nil
}

// Reconstruct recovers the original payload from a set of verified
// shards, given as a sparse map index->shard (at least dataShards of them
// populated). Failure to decode given truly-verified shards under the
// same root is impossible by construction (spec §4.2); any error here
// indicates the caller passed shards that were never actually verified.
func Reconstruct(shardMap map[int][]byte, dataShards, parityShards, dataLen int) ([]byte, error) {
	if len(shardMap) < dataShards {
		return nil, bfterrors.Wrapf(bfterrors.ErrThresholdUnmet, "have %d shards, need %d", len(shardMap), dataShards)
	}
	total := dataShards + parityShards
	shards := make([][]byte, total)
	for i, s := range shardMap {
		if i < 0 || i >= total {
			continue
		}
		shards[i] = s
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, bfterrors.Wrap(err, "construct reed-solomon encoder")
	}
	if err := enc.Reconstruct(shards); err != nil {
		return nil, bfterrors.Wrap(err, "reed-solomon reconstruct")
	}
	var out []byte
	for i := 0; i < dataShards; i++ {
		out = append(out, shards[i]...)
	}
	if len(out) < dataLen {
		return nil, bfterrors.ErrReconstructionMismatch
	}
	return out[:dataLen], nil
}

// hashLeaf computes H(0x00 || index_be4 || shard).
func hashLeaf(index int, shard []byte) Hash {
	h := sha256.New()
	h.Write([]byte{0x00})
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(index))
	h.Write(idx[:])
	h.Write(shard)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// hashBranch computes H(0x01 || left || right).
func hashBranch(left, right Hash) Hash {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
