// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package binaryba implements binary Byzantine agreement for MVBA's
// per-leader acceptance vote (spec §4.6 step 5, component table "Binary
// Byzantine Agreement"). Each round runs three echo layers — BVAL
// (FinBinAAEcho1), AUX (FinBinAAEcho2), CONF (FinBinAAEcho3) — and falls
// back to a BBACoin share when a round's CONF values don't converge on a
// single bit, following the Mostefaoui-Moumen-Raynal construction with
// the CONF-layer liveness fix used by production async-BA
// implementations (e.g. HoneyBadgerBFT's binary_agreement.py).
package binaryba

import (
	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/codec"
)

// Tag values for the three echo layers plus the coin share.
const (
	TagEcho1 = 0x60 // BVAL
	TagEcho2 = 0x61 // AUX
	TagEcho3 = 0x62 // CONF
	TagCoin  = 0x63 // BBACoin share
)

// EchoMessage carries a single bit for the BVAL/AUX layers (spec §6:
// "Binary BA: FinBinAAEcho{1,2,3}").
type EchoMessage struct {
	InstanceID uint64
	Round      uint32
	Value      byte
}

// Encode serializes m.
func (m EchoMessage) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	w.PutUint32(m.Round)
	w.PutUint8(m.Value)
	return w.Bytes()
}

// DecodeEcho parses bytes produced by EchoMessage.Encode.
func DecodeEcho(buf []byte) (EchoMessage, error) {
	r := codec.NewReader(buf)
	id, err := r.Uint64()
	if err != nil {
		return EchoMessage{}, bfterrors.Wrap(err, "decode instance id")
	}
	round, err := r.Uint32()
	if err != nil {
		return EchoMessage{}, bfterrors.Wrap(err, "decode round")
	}
	value, err := r.Uint8()
	if err != nil {
		return EchoMessage{}, bfterrors.Wrap(err, "decode value")
	}
	return EchoMessage{InstanceID: id, Round: round, Value: value}, nil
}

// ConfMessage carries the CONF layer's observed value set: the set of
// bits this node has collected enough AUX support for (spec's CONF-layer
// fix: a node confirms the UNION of bin_values it has witnessed, not a
// single value, so honest nodes converge on a common view before the
// coin is consulted).
type ConfMessage struct {
	InstanceID uint64
	Round      uint32
	Values     []byte // subset of {0,1}, at most two entries
}

// Encode serializes m.
func (m ConfMessage) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	w.PutUint32(m.Round)
	w.PutBytes(m.Values)
	return w.Bytes()
}

// DecodeConf parses bytes produced by ConfMessage.Encode.
func DecodeConf(buf []byte) (ConfMessage, error) {
	r := codec.NewReader(buf)
	id, err := r.Uint64()
	if err != nil {
		return ConfMessage{}, bfterrors.Wrap(err, "decode instance id")
	}
	round, err := r.Uint32()
	if err != nil {
		return ConfMessage{}, bfterrors.Wrap(err, "decode round")
	}
	values, err := r.Bytes()
	if err != nil {
		return ConfMessage{}, bfterrors.Wrap(err, "decode values")
	}
	return ConfMessage{InstanceID: id, Round: round, Values: values}, nil
}

// CoinMessage carries one replica's partial signature over (instanceID,
// round) for the BBACoin unlock step (spec §4.6, crypto/coin).
type CoinMessage struct {
	InstanceID uint64
	Round      uint32
	Share      []byte
}

// Encode serializes m.
func (m CoinMessage) Encode() []byte {
	w := codec.NewWriter()
	w.PutUint64(m.InstanceID)
	w.PutUint32(m.Round)
	w.PutBytes(m.Share)
	return w.Bytes()
}

// DecodeCoin parses bytes produced by CoinMessage.Encode.
func DecodeCoin(buf []byte) (CoinMessage, error) {
	r := codec.NewReader(buf)
	id, err := r.Uint64()
	if err != nil {
		return CoinMessage{}, bfterrors.Wrap(err, "decode instance id")
	}
	round, err := r.Uint32()
	if err != nil {
		return CoinMessage{}, bfterrors.Wrap(err, "decode round")
	}
	share, err := r.Bytes()
	if err != nil {
		return CoinMessage{}, bfterrors.Wrap(err, "decode share")
	}
	return CoinMessage{InstanceID: id, Round: round, Share: share}, nil
}

func hasValue(values []byte, v byte) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func addValue(values []byte, v byte) []byte {
	if hasValue(values, v) {
		return values
	}
	return append(values, v)
}
