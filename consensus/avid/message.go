// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package avid implements asynchronous verifiable dispersal (spec §4.4):
// like CTRBC, but the dealer binds per-recipient private shards under one
// shared Merkle root. Every node can verify that a root commits to n
// leaf hashes; only the intended recipient ever learns the plaintext
// shard for its own position.
package avid

import (
	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/codec"
	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/transport"
)

// Tags for the three AVID wire messages (spec §6 "AVID: same shape plus
// per-recipient encrypted blob").
const (
	TagInit  transport.Tag = 0x20
	TagEcho  transport.Tag = 0x21
	TagReady transport.Tag = 0x22
)

// Message is the common envelope body for Init/Echo/Ready. Leaves holds
// every recipient's leaf hash so any node can recompute and check Root
// (spec §4.4: "the Init message ... contains all n Merkle leaves").
// PrivateShard is populated only in the Init sent to the intended
// recipient; it is empty on the wire for Echo/Ready and for Inits to
// other recipients.
type Message struct {
	InstanceID   uint64
	Root         merkle.Hash
	Leaves       []merkle.Hash
	PrivateShard []byte
}

// Encode serializes m.
func (m Message) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	w.PutFixed(m.Root[:])
	w.PutUint32(uint32(len(m.Leaves)))
	for _, l := range m.Leaves {
		w.PutFixed(l[:])
	}
	w.PutBytes(m.PrivateShard)
	return w.Bytes()
}

// Decode parses a Message produced by Encode.
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

	n, err := r.Uint32()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode leaf count")
	}
	m.Leaves = make([]merkle.Hash, n)
	for i := range m.Leaves {
		l, err := r.Fixed(merkle.HashSize)
		if err != nil {
			return m, bfterrors.Wrap(err, "decode leaf")
		}
		copy(m.Leaves[i][:], l)
	}

	shard, err := r.Bytes()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode private shard")
	}
	m.PrivateShard = shard

	return m, nil
}

// withoutPrivate returns a copy of m with PrivateShard stripped, the
// shape actually broadcast on Echo/Ready (spec §4.4: "ECHO and READY
// phases broadcast only the root + leaf hashes").
func (m Message) withoutPrivate() Message {
	return Message{InstanceID: m.InstanceID, Root: m.Root, Leaves: m.Leaves}
}
