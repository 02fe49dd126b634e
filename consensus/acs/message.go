// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package acs implements the gather phase of asynchronous common subset
// (spec §4.6 steps 1-3): once a node has locally terminated at least
// 2t+1 ACSS instances, it broadcasts the set of terminated dealers as a
// GatherEcho; once 2t+1 GatherEchoes intersect in a common witness set
// of size >= 2t+1, it broadcasts that witness set as a GatherEcho2; once
// 2t+1 GatherEcho2 messages have arrived, this node's own witness
// candidate is handed to MVBA (spec §4.6 step 4) to elect the final
// common output.
package acs

import (
	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/codec"
	"github.com/luxfi/abft/transport"
)

// Tags for the two gather-phase wire messages (spec §6: "ACS:
// GatherEcho, GatherEcho2").
const (
	TagGatherEcho  transport.Tag = 0x80
	TagGatherEcho2 transport.Tag = 0x81
)

// GatherEchoMessage carries the sender's set of locally terminated
// dealers for instanceID (spec §4.6 step 2).
type GatherEchoMessage struct {
	InstanceID uint64
	Dealers    []int
}

// Encode serializes m.
func (m GatherEchoMessage) Encode() []byte {
	return encodeIntSet(m.InstanceID, m.Dealers)
}

// DecodeGatherEcho parses bytes produced by GatherEchoMessage.Encode.
func DecodeGatherEcho(buf []byte) (GatherEchoMessage, error) {
	id, dealers, err := decodeIntSet(buf)
	if err != nil {
		return GatherEchoMessage{}, err
	}
	return GatherEchoMessage{InstanceID: id, Dealers: dealers}, nil
}

// GatherEcho2Message carries the sender's witness set, derived from the
// intersection of 2t+1 GatherEcho sets (spec §4.6 step 3).
type GatherEcho2Message struct {
	InstanceID uint64
	WitnessSet []int
}

// Encode serializes m.
func (m GatherEcho2Message) Encode() []byte {
	return encodeIntSet(m.InstanceID, m.WitnessSet)
}

// DecodeGatherEcho2 parses bytes produced by GatherEcho2Message.Encode.
func DecodeGatherEcho2(buf []byte) (GatherEcho2Message, error) {
	id, set, err := decodeIntSet(buf)
	if err != nil {
		return GatherEcho2Message{}, err
	}
	return GatherEcho2Message{InstanceID: id, WitnessSet: set}, nil
}

func encodeIntSet(instanceID uint64, vals []int) []byte {
	w := codec.NewWriter()
	w.PutUint64(instanceID)
	w.PutUint32(uint32(len(vals)))
	for _, v := range vals {
		w.PutUint32(uint32(v))
	}
	return w.Bytes()
}

func decodeIntSet(buf []byte) (uint64, []int, error) {
	r := codec.NewReader(buf)
	id, err := r.Uint64()
	if err != nil {
		return 0, nil, bfterrors.Wrap(err, "decode instance id")
	}
	n, err := r.Uint32()
	if err != nil {
		return 0, nil, bfterrors.Wrap(err, "decode set length")
	}
	vals := make([]int, n)
	for i := range vals {
		v, err := r.Uint32()
		if err != nil {
			return 0, nil, bfterrors.Wrap(err, "decode set entry")
		}
		vals[i] = int(v)
	}
	return id, vals, nil
}
