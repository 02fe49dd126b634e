// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ctrbc implements the Bracha-style cryptographic reliable
// broadcast of spec §4.3: erasure-coded shards committed by a Merkle
// root, delivered via Init/Echo/Ready phases.
package ctrbc

import (
	"github.com/luxfi/abft/codec"
	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/transport"
)

// Tags for the three CTRBC wire messages (spec §6 "CTRBC: Init, Echo,
// Ready").
const (
	TagInit  transport.Tag = 0x10
	TagEcho  transport.Tag = 0x11
	TagReady transport.Tag = 0x12
)

// Message is the common shape carried by Init/Echo/Ready: an instance id,
// the shard's inclusion proof, the committed root, and the original
// (unpadded) payload length needed to trim reconstruction output.
type Message struct {
	InstanceID uint64
	Root       merkle.Hash
	Proof      merkle.Proof
	DataLen    uint32
}

// Encode serializes m into a payload body.
func (m Message) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	w.PutFixed(m.Root[:])
	w.PutUint32(uint32(m.Proof.Index))
	w.PutBytes(m.Proof.Shard)
	w.PutUint32(uint32(len(m.Proof.Siblings)))
	for _, s := range m.Proof.Siblings {
		w.PutFixed(s[:])
	}
	w.PutUint32(m.DataLen)
	return w.Bytes()
}

// Decode parses a payload body produced by Encode.
func Decode(body []byte) (Message, error) {
	r := codec.NewReader(body)
	var m Message

	instanceID, err := r.Uint64()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode instance id")
	}
	m.InstanceID = instanceID

	rootBytes, err := r.Fixed(merkle.HashSize)
	if err != nil {
		return m, bfterrors.Wrap(err, "decode root")
	}
	copy(m.Root[:], rootBytes)

	index, err := r.Uint32()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode index")
	}
	m.Proof.Index = int(index)

	shard, err := r.Bytes()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode shard")
	}
	m.Proof.Shard = shard

	nsib, err := r.Uint32()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode sibling count")
	}
	m.Proof.Siblings = make([]merkle.Hash, nsib)
	for i := range m.Proof.Siblings {
		sib, err := r.Fixed(merkle.HashSize)
		if err != nil {
			return m, bfterrors.Wrap(err, "decode sibling")
		}
		copy(m.Proof.Siblings[i][:], sib)
	}

	dataLen, err := r.Uint32()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode data length")
	}
	m.DataLen = dataLen

	return m, nil
}
