// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package acss

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/luxfi/abft/crypto/merkle"
	"github.com/luxfi/abft/field"
)

// challenges derives the Fiat-Shamir challenge chi and evaluation point
// yStar deterministically from the committed column roots, blinding
// roots, and instance id (spec §4.5 step 3: "chi = H(all column roots ||
// instance_id)"), so every party — dealer and every recipient — computes
// the identical values without any of them being sent on the wire.
func challenges(instanceID uint64, columnRoots, blindingRoots []merkle.Hash) (chi, yStar field.Element) {
	h := sha256.New()
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], instanceID)
	h.Write(idBuf[:])
	for _, r := range columnRoots {
		h.Write(r[:])
	}
	for _, r := range blindingRoots {
		h.Write(r[:])
	}
	base := h.Sum(nil)

	chi = field.FromBytes(hashWithTag(base, 0x01))
	yStar = field.FromBytes(hashWithTag(base, 0x02))
	return chi, yStar
}

func hashWithTag(base []byte, tag byte) []byte {
	h := sha256.New()
	h.Write([]byte{tag})
	h.Write(base)
	return h.Sum(nil)
}
