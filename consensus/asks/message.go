// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package asks implements asynchronous weak secret sharing (spec §4.5
// "ASKS and AVSS variants"): a single-variable polynomial sharing scheme
// with hash-binding commitments (no dZK proof), and a public
// reconstruction phase requiring t+1 matching (share, nonce) pairs under
// one committed set (spec §9 Open Question resolution).
package asks

import (
	"crypto/sha256"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/codec"
	"github.com/luxfi/abft/field"
	"github.com/luxfi/abft/transport"
)

// Tags for the four ASKS wire messages (spec §6 "ASKS: Init, Echo,
// Ready, Reconstruct").
const (
	TagInit        transport.Tag = 0x30
	TagEcho        transport.Tag = 0x31
	TagReady       transport.Tag = 0x32
	TagReconstruct transport.Tag = 0x33
)

// Commitment is H(share || nonce), binding a recipient's share without
// revealing it (spec: "Pedersen-hash-committed single-secret sharing").
type Commitment [32]byte

func commit(share, nonce field.Element) Commitment {
	h := sha256.New()
	h.Write(share.Bytes())
	h.Write(nonce.Bytes())
	var out Commitment
	copy(out[:], h.Sum(nil))
	return out
}

// Message is the Init/Echo/Ready body: the full vector of per-recipient
// commitments, plus (Init only) this recipient's own share and nonce.
type Message struct {
	InstanceID  uint64
	Commitments []Commitment
	Share       field.Element
	Nonce       field.Element
	HasShare    bool
}

// Encode serializes m.
func (m Message) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	w.PutUint32(uint32(len(m.Commitments)))
	for _, c := range m.Commitments {
		w.PutFixed(c[:])
	}
	if m.HasShare {
		w.PutUint8(1)
		w.PutFixed(m.Share.Bytes())
		w.PutFixed(m.Nonce.Bytes())
	} else {
		w.PutUint8(0)
	}
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

	n, err := r.Uint32()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode commitment count")
	}
	m.Commitments = make([]Commitment, n)
	for i := range m.Commitments {
		c, err := r.Fixed(32)
		if err != nil {
			return m, bfterrors.Wrap(err, "decode commitment")
		}
		copy(m.Commitments[i][:], c)
	}

	hasShare, err := r.Uint8()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode has-share flag")
	}
	if hasShare == 1 {
		shareBytes, err := r.Fixed(32)
		if err != nil {
			return m, bfterrors.Wrap(err, "decode share")
		}
		nonceBytes, err := r.Fixed(32)
		if err != nil {
			return m, bfterrors.Wrap(err, "decode nonce")
		}
		m.Share = field.FromBytes(shareBytes)
		m.Nonce = field.FromBytes(nonceBytes)
		m.HasShare = true
	}
	return m, nil
}

func (m Message) withoutShare() Message {
	return Message{InstanceID: m.InstanceID, Commitments: m.Commitments}
}

// ReconstructMessage is the public-reconstruction broadcast: the sender's
// own (index, share, nonce) for everyone to verify against the committed
// vector (spec §4.5 Reconstruct; §9 Open Question).
type ReconstructMessage struct {
	InstanceID uint64
	Index      int
	Share      field.Element
	Nonce      field.Element
}

// Encode serializes m.
func (m ReconstructMessage) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	w.PutUint32(uint32(m.Index))
	w.PutFixed(m.Share.Bytes())
	w.PutFixed(m.Nonce.Bytes())
	return w.Bytes()
}

// DecodeReconstruct parses a ReconstructMessage produced by Encode.
func DecodeReconstruct(body []byte) (ReconstructMessage, error) {
	r := codec.NewReader(body)
	var m ReconstructMessage

	instanceID, err := r.Uint64()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode instance id")
	}
	m.InstanceID = instanceID

	index, err := r.Uint32()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode index")
	}
	m.Index = int(index)

	shareBytes, err := r.Fixed(32)
	if err != nil {
		return m, bfterrors.Wrap(err, "decode share")
	}
	m.Share = field.FromBytes(shareBytes)

	nonceBytes, err := r.Fixed(32)
	if err != nil {
		return m, bfterrors.Wrap(err, "decode nonce")
	}
	m.Nonce = field.FromBytes(nonceBytes)

	return m, nil
}
