// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mvba implements multi-valued validated Byzantine agreement
// over witness sets produced by the gather phase (spec §4.6 step 4):
// each round elects a leader via a threshold-BLS LeaderCoin, that
// leader's proposed witness set is voted on by an embedded binary_ba
// instance (spec §4.6 step 5), and the first round whose binary_ba
// decides 1 fixes the leader's proposal as the output.
package mvba

import (
	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/codec"
)

const (
	TagL3Witness  = 0x70
	TagLeaderCoin = 0x71
)

// L3WitnessMessage carries a node's proposed witness set for a round
// (spec §6: "MVBA: L3Witness, LeaderCoin").
type L3WitnessMessage struct {
	InstanceID uint64
	Round      uint32
	WitnessSet []int
}

// Encode serializes m.
func (m L3WitnessMessage) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	w.PutUint32(m.Round)
	w.PutUint32(uint32(len(m.WitnessSet)))
	for _, v := range m.WitnessSet {
		w.PutUint32(uint32(v))
	}
	return w.Bytes()
}

// DecodeL3Witness parses bytes produced by L3WitnessMessage.Encode.
func DecodeL3Witness(buf []byte) (L3WitnessMessage, error) {
	r := codec.NewReader(buf)
	id, err := r.Uint64()
	if err != nil {
		return L3WitnessMessage{}, bfterrors.Wrap(err, "decode instance id")
	}
	round, err := r.Uint32()
	if err != nil {
		return L3WitnessMessage{}, bfterrors.Wrap(err, "decode round")
	}
	n, err := r.Uint32()
	if err != nil {
		return L3WitnessMessage{}, bfterrors.Wrap(err, "decode witness set length")
	}
	set := make([]int, n)
	for i := range set {
		v, err := r.Uint32()
		if err != nil {
			return L3WitnessMessage{}, bfterrors.Wrap(err, "decode witness set entry")
		}
		set[i] = int(v)
	}
	return L3WitnessMessage{InstanceID: id, Round: round, WitnessSet: set}, nil
}

// LeaderCoinMessage carries one replica's partial signature over
// (instanceID, round) for the round's leader election.
type LeaderCoinMessage struct {
	InstanceID uint64
	Round      uint32
	Share      []byte
}

// Encode serializes m.
func (m LeaderCoinMessage) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	w.PutUint32(m.Round)
	w.PutBytes(m.Share)
	return w.Bytes()
}

// DecodeLeaderCoin parses bytes produced by LeaderCoinMessage.Encode.
func DecodeLeaderCoin(buf []byte) (LeaderCoinMessage, error) {
	r := codec.NewReader(buf)
	id, err := r.Uint64()
	if err != nil {
		return LeaderCoinMessage{}, bfterrors.Wrap(err, "decode instance id")
	}
	round, err := r.Uint32()
	if err != nil {
		return LeaderCoinMessage{}, bfterrors.Wrap(err, "decode round")
	}
	share, err := r.Bytes()
	if err != nil {
		return LeaderCoinMessage{}, bfterrors.Wrap(err, "decode share")
	}
	return LeaderCoinMessage{InstanceID: id, Round: round, Share: share}, nil
}
