// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"sync"

	"github.com/luxfi/abft/bfterrors"
)

// Pong is the one-byte acknowledgement value of a successful handler
// dispatch (spec §4.1, §6). Nothing in this package sends or checks it:
// LocalNetwork.Send returns as soon as the envelope is queued in the
// peer's inbox.
const Pong byte = 0x01

// KeyStore holds the per-pair symmetric MAC keys a replica shares with
// every other replica (spec §4.1). A missing key for a known sender is a
// ConfigFatal condition (spec §7).
type KeyStore struct {
	mu   sync.RWMutex
	keys map[int][]byte
}

// NewKeyStore builds a KeyStore from a replica->key map.
func NewKeyStore(keys map[int][]byte) *KeyStore {
	cp := make(map[int][]byte, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	return &KeyStore{keys: cp}
}

// KeyFor returns the shared key for peer, or ErrConfigFatal if none is
// configured (spec §7 ConfigFatal: "missing shared key for a known
// sender ... halt the node").
func (ks *KeyStore) KeyFor(peer int) ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	k, ok := ks.keys[peer]
	if !ok {
		return nil, bfterrors.Wrapf(bfterrors.ErrConfigFatal, "no shared key for peer %d", peer)
	}
	return k, nil
}

// Transport is the point-to-point authenticated channel every protocol
// package sends through. The real network implementation is an external
// collaborator (spec §1); this interface is all protocol code depends on.
type Transport interface {
	// Send delivers env to peer, returning nil on success.
	Send(ctx context.Context, peer int, env Envelope) error
	// Broadcast delivers env to every replica except self.
	Broadcast(ctx context.Context, env Envelope) error
}

// Inbox is the receiving half: protocol packages read delivered
// envelopes for a given local replica from here.
type Inbox interface {
	Recv(ctx context.Context) (Envelope, error)
}

// LocalNetwork is an in-memory Transport/Inbox fabric connecting n
// replicas by buffered channels, preserving per-sender FIFO order (spec
// §5 "Messages from the same sender on the same logical channel are
// delivered in FIFO order"). It stands in for the real authenticated
// transport in tests and the cmd/bftnode demo (spec §1 Non-goals).
type LocalNetwork struct {
	self    int
	n       int
	inboxes []chan Envelope
}

// NewLocalNetwork builds n connected endpoints, each with buffer capacity
// bufSize.
func NewLocalNetwork(n, bufSize int) []*LocalNetwork {
	inboxes := make([]chan Envelope, n)
	for i := range inboxes {
		inboxes[i] = make(chan Envelope, bufSize)
	}
	out := make([]*LocalNetwork, n)
	for i := 0; i < n; i++ {
		out[i] = &LocalNetwork{self: i, n: n, inboxes: inboxes}
	}
	return out
}

// Send implements Transport.
func (ln *LocalNetwork) Send(ctx context.Context, peer int, env Envelope) error {
	if peer < 0 || peer >= ln.n {
		return bfterrors.Wrapf(bfterrors.ErrConfigFatal, "unknown peer %d", peer)
	}
	select {
	case ln.inboxes[peer] <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast implements Transport.
func (ln *LocalNetwork) Broadcast(ctx context.Context, env Envelope) error {
	for i := 0; i < ln.n; i++ {
		if i == ln.self {
			continue
		}
		if err := ln.Send(ctx, i, env); err != nil {
			return err
		}
	}
	return nil
}

// Recv implements Inbox.
func (ln *LocalNetwork) Recv(ctx context.Context) (Envelope, error) {
	select {
	case env := <-ln.inboxes[ln.self]:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}
