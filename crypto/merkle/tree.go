// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import "github.com/luxfi/abft/bfterrors"

// Tree is a binary Merkle tree over exactly n leaf hashes, built bottom up
// with the last leaf duplicated at each level when the level's width is
// odd (deterministic, matches common Bracha-RBC implementations).
type Tree struct {
	levels [][]Hash // levels[0] = leaves, levels[last] = [root]
}

// BuildTree commits to the shards of an Encoded payload, one leaf per
// shard (spec §4.2 step 3).
func BuildTree(shards [][]byte) *Tree {
	leaves := make([]Hash, len(shards))
	for i, s := range shards {
		leaves[i] = hashLeaf(i, s)
	}
	return buildFromLeaves(leaves)
}

// BuildTreeFromLeaves commits to an already-hashed set of leaves
// directly, used where the leaf hashes themselves (rather than the raw
// shards) are the advertised commitment — e.g. AVID's per-recipient
// leaf set (spec §4.4).
func BuildTreeFromLeaves(leaves []Hash) *Tree {
	return buildFromLeaves(leaves)
}

// LeafHash exposes the domain-separated leaf hash so callers outside
// this package can check a private shard against an advertised leaf
// without rebuilding a whole tree (spec §4.4 "any node can check that
// its intended payload belongs to the advertised root").
func LeafHash(index int, shard []byte) Hash {
	return hashLeaf(index, shard)
}

func buildFromLeaves(leaves []Hash) *Tree {
	levels := [][]Hash{leaves}
	cur := leaves
	for len(cur) > 1 {
		next := make([]Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 < len(cur) {
				next = append(next, hashBranch(cur[i], cur[i+1]))
			} else {
				next = append(next, hashBranch(cur[i], cur[i]))
			}
		}
		levels = append(levels, next)
		cur = next
	}
	return &Tree{levels: levels}
}

// Root returns the tree's commitment.
func (t *Tree) Root() Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof is an inclusion proof: the leaf's shard, its index, and the
// sibling hashes from leaf to root (spec §3.2 "Merkle proof").
type Proof struct {
	Shard    []byte
	Index    int
	Siblings []Hash
}

// Prove builds the inclusion proof for shard at index i.
func (t *Tree) Prove(i int, shard []byte) Proof {
	siblings := make([]Hash, 0, len(t.levels)-1)
	idx := i
	for level := 0; level < len(t.levels)-1; level++ {
		cur := t.levels[level]
		var sibIdx int
		if idx%2 == 0 {
			sibIdx = idx + 1
		} else {
			sibIdx = idx - 1
		}
		if sibIdx >= len(cur) {
			sibIdx = idx // odd-width level: sibling is the duplicated node itself
		}
		siblings = append(siblings, cur[sibIdx])
		idx /= 2
	}
	return Proof{Shard: shard, Index: i, Siblings: siblings}
}

// Verify recomputes the root from proof and checks it against root. This
// is the sole gate for P5 (Merkle binding, spec §8): no shard is accepted
// unless this returns nil.
func Verify(proof Proof, root Hash) error {
	cur := hashLeaf(proof.Index, proof.Shard)
	idx := proof.Index
	for _, sib := range proof.Siblings {
		if idx%2 == 0 {
			cur = hashBranch(cur, sib)
		} else {
			cur = hashBranch(sib, cur)
		}
		idx /= 2
	}
	if cur != root {
		return bfterrors.ErrProofFail
	}
	return nil
}
