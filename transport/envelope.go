// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport defines the wire envelope and message authentication
// of spec §4.1/§6, plus an in-memory Transport used by tests and the
// cmd/bftnode demo. The real point-to-point authenticated channel is an
// external collaborator (spec §1); LocalNetwork stands in for it.
package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/codec"
)

// Tag identifies a payload's protocol and message kind on the wire.
type Tag uint8

// Envelope is the wire unit: (payload, sender, mac), spec §6.
type Envelope struct {
	Tag    Tag
	Body   []byte
	Sender int
	MAC    [32]byte
}

// computeMAC returns HMAC-SHA256(key, tag || body).
func computeMAC(key []byte, tag Tag, body []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte{byte(tag)})
	mac.Write(body)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// Seal builds an authenticated Envelope for body, to be sent as sender.
func Seal(key []byte, sender int, tag Tag, body []byte) Envelope {
	return Envelope{
		Tag:    tag,
		Body:   body,
		Sender: sender,
		MAC:    computeMAC(key, tag, body),
	}
}

// Open verifies env's MAC under key using a constant-time comparison
// (spec §6: "The MAC must use a constant-time comparison"). A mismatch
// returns ErrAuthFail and the message must be dropped without counting
// toward any threshold (spec §4.1, §7 AuthFail, P4).
func Open(key []byte, env Envelope) error {
	want := computeMAC(key, env.Tag, env.Body)
	if subtle.ConstantTimeCompare(want[:], env.MAC[:]) != 1 {
		return bfterrors.ErrAuthFail
	}
	return nil
}

// Encode serializes an Envelope to bytes: tag, sender, mac, length-
// prefixed body (spec §6 "length-prefixed serialization").
func Encode(env Envelope) []byte {
	w := codec.NewWriter()
	w.PutUint8(uint8(env.Tag))
	w.PutUint32(uint32(env.Sender))
	w.PutFixed(env.MAC[:])
	w.PutBytes(env.Body)
	return w.Bytes()
}

// Decode parses bytes produced by Encode.
func Decode(buf []byte) (Envelope, error) {
	r := codec.NewReader(buf)
	tag, err := r.Uint8()
	if err != nil {
		return Envelope{}, bfterrors.Wrap(err, "decode tag")
	}
	sender, err := r.Uint32()
	if err != nil {
		return Envelope{}, bfterrors.Wrap(err, "decode sender")
	}
	macBytes, err := r.Fixed(32)
	if err != nil {
		return Envelope{}, bfterrors.Wrap(err, "decode mac")
	}
	body, err := r.Bytes()
	if err != nil {
		return Envelope{}, bfterrors.Wrap(err, "decode body")
	}
	var mac [32]byte
	copy(mac[:], macBytes)
	return Envelope{Tag: Tag(tag), Body: body, Sender: int(sender), MAC: mac}, nil
}
