// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package acss implements asynchronous complete secret sharing (spec
// §4.5): a bivariate polynomial F(x,y) of degree (t,t) embeds a batch of
// secrets along F(0,j), committed column-by-column via Merkle trees, with
// a Fiat-Shamir distributed zero-knowledge (dZK) proof binding every
// recipient's row share to those commitments without revealing F.
package acss

import (
	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/codec"
	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/field"
	"github.com/luxfi/abft/transport"
)

// Tags for the ACSS wire messages (spec §6 "ACSS: Init (encrypted
// shares + VSS commitments + dZK polynomial + dealer + instance_id),
// Echo, Ready").
const (
	TagInit  transport.Tag = 0x40
	TagEcho  transport.Tag = 0x41
	TagReady transport.Tag = 0x42
)

// Message is the Init/Echo/Ready body. ColumnRoots and BlindingRoots are
// broadcast to everyone (spec step 2); RowPoly/BlindRowPoly/RowProofs/
// BlindRowProofs are populated only in the Init sent to the recipient
// they belong to (spec step 4 "dispersal").
type Message struct {
	InstanceID       uint64
	ColumnRoots      []merkle.Hash
	BlindingRoots    []merkle.Hash
	Q                field.Poly // public dZK proof polynomial (spec step 3)
	RowPoly          field.Poly
	BlindRowPoly     field.Poly
	RowProofs        []merkle.Proof // one per column, index i+1 = recipient's x-coordinate
	BlindRowProofs   []merkle.Proof
	HasPrivateShares bool
}

func putPoly(w *codec.Writer, p field.Poly) {
	w.PutUint32(uint32(len(p)))
	for _, c := range p {
		w.PutFixed(c.Bytes())
	}
}

func getPoly(r *codec.Reader) (field.Poly, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	p := make(field.Poly, n)
	for i := range p {
		b, err := r.Fixed(32)
		if err != nil {
			return nil, err
		}
		p[i] = field.FromBytes(b)
	}
	return p, nil
}

func putHashes(w *codec.Writer, hs []merkle.Hash) {
	w.PutUint32(uint32(len(hs)))
	for _, h := range hs {
		w.PutFixed(h[:])
	}
}

func getHashes(r *codec.Reader) ([]merkle.Hash, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	out := make([]merkle.Hash, n)
	for i := range out {
		b, err := r.Fixed(merkle.HashSize)
		if err != nil {
			return nil, err
		}
		copy(out[i][:], b)
	}
	return out, nil
}

func putProof(w *codec.Writer, p merkle.Proof) {
	w.PutUint32(uint32(p.Index))
	w.PutBytes(p.Shard)
	w.PutUint32(uint32(len(p.Siblings)))
	for _, s := range p.Siblings {
		w.PutFixed(s[:])
	}
}

func getProof(r *codec.Reader) (merkle.Proof, error) {
	var p merkle.Proof
	idx, err := r.Uint32()
	if err != nil {
		return p, err
	}
	p.Index = int(idx)
	shard, err := r.Bytes()
	if err != nil {
		return p, err
	}
	p.Shard = shard
	n, err := r.Uint32()
	if err != nil {
		return p, err
	}
	p.Siblings = make([]merkle.Hash, n)
	for i := range p.Siblings {
		s, err := r.Fixed(merkle.HashSize)
		if err != nil {
			return p, err
		}
		copy(p.Siblings[i][:], s)
	}
	return p, nil
}

func putProofs(w *codec.Writer, ps []merkle.Proof) {
	w.PutUint32(uint32(len(ps)))
	for _, p := range ps {
		putProof(w, p)
	}
}

func getProofs(r *codec.Reader) ([]merkle.Proof, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	out := make([]merkle.Proof, n)
	for i := range out {
		p, err := getProof(r)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// Encode serializes m.
func (m Message) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	putHashes(w, m.ColumnRoots)
	putHashes(w, m.BlindingRoots)
	putPoly(w, m.Q)
	if m.HasPrivateShares {
		w.PutUint8(1)
		putPoly(w, m.RowPoly)
		putPoly(w, m.BlindRowPoly)
		putProofs(w, m.RowProofs)
		putProofs(w, m.BlindRowProofs)
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

	m.ColumnRoots, err = getHashes(r)
	if err != nil {
		return m, bfterrors.Wrap(err, "decode column roots")
	}
	m.BlindingRoots, err = getHashes(r)
	if err != nil {
		return m, bfterrors.Wrap(err, "decode blinding roots")
	}
	m.Q, err = getPoly(r)
	if err != nil {
		return m, bfterrors.Wrap(err, "decode Q")
	}
	hasPrivate, err := r.Uint8()
	if err != nil {
		return m, bfterrors.Wrap(err, "decode has-private flag")
	}
	if hasPrivate == 1 {
		m.HasPrivateShares = true
		m.RowPoly, err = getPoly(r)
		if err != nil {
			return m, bfterrors.Wrap(err, "decode row poly")
		}
		m.BlindRowPoly, err = getPoly(r)
		if err != nil {
			return m, bfterrors.Wrap(err, "decode blind row poly")
		}
		m.RowProofs, err = getProofs(r)
		if err != nil {
			return m, bfterrors.Wrap(err, "decode row proofs")
		}
		m.BlindRowProofs, err = getProofs(r)
		if err != nil {
			return m, bfterrors.Wrap(err, "decode blind row proofs")
		}
	}
	return m, nil
}

// withoutPrivate returns a copy of m with the per-recipient row material
// stripped, the shape actually broadcast on Echo/Ready (spec §4.5 step
// 5: "column roots and dzk roots are broadcast via CTRBC; the
// per-recipient private material is sent ... point-to-point").
func (m Message) withoutPrivate() Message {
	return Message{InstanceID: m.InstanceID, ColumnRoots: m.ColumnRoots, BlindingRoots: m.BlindingRoots, Q: m.Q}
}
