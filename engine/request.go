// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"context"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/field"
)

// RequestKind identifies which top-level operation a Request starts.
type RequestKind int

const (
	// RequestBroadcast starts a CTRBC dealer instance (spec §4.3).
	RequestBroadcast RequestKind = iota
	// RequestDisperse starts an AVID dealer instance (spec §4.4).
	RequestDisperse
	// RequestShareSecrets starts this node's own ACSS dealer instance
	// for an ACS round (spec §4.6 step 1).
	RequestShareSecrets
	// RequestShareWeak starts an ASKS dealer instance (spec §4.5 weak
	// sharing variant).
	RequestShareWeak
)

// Request is the shape every application-facing entry point funnels
// through Node's single dispatch loop (spec §5's "application request
// channel").
type Request struct {
	Kind       RequestKind
	InstanceID uint64
	Round      uint64
	Payload    []byte
	Secrets    []field.Element
	Secret     field.Element
}

func (n *Node) handleRequest(ctx context.Context, req Request) error {
	switch req.Kind {
	case RequestBroadcast:
		n.CTRBC.RegisterInstance(req.InstanceID, n.cfg.Self)
		return n.CTRBC.Start(ctx, req.InstanceID, req.Payload)
	case RequestDisperse:
		n.AVID.RegisterInstance(req.InstanceID, n.cfg.Self)
		return n.AVID.Start(ctx, req.InstanceID, req.Payload)
	case RequestShareSecrets:
		return n.StartACSSRound(ctx, req.Round, req.Secrets)
	case RequestShareWeak:
		n.ASKS.RegisterInstance(req.InstanceID, n.cfg.Self)
		return n.ASKS.Start(ctx, req.InstanceID, req.Secret)
	default:
		return bfterrors.Wrap(bfterrors.ErrDecodeFail, "engine: unknown request kind")
	}
}

// Broadcast submits a CTRBC broadcast request for delivery on Run's
// next loop iteration.
func (n *Node) Broadcast(ctx context.Context, instanceID uint64, payload []byte) error {
	return n.Submit(ctx, Request{Kind: RequestBroadcast, InstanceID: instanceID, Payload: payload})
}

// Disperse submits an AVID dispersal request.
func (n *Node) Disperse(ctx context.Context, instanceID uint64, payload []byte) error {
	return n.Submit(ctx, Request{Kind: RequestDisperse, InstanceID: instanceID, Payload: payload})
}

// ShareSecrets submits this node's ACSS dealer input for round.
func (n *Node) ShareSecrets(ctx context.Context, round uint64, secrets []field.Element) error {
	return n.Submit(ctx, Request{Kind: RequestShareSecrets, Round: round, Secrets: secrets})
}

// ShareWeak submits an ASKS dealer input.
func (n *Node) ShareWeak(ctx context.Context, instanceID uint64, secret field.Element) error {
	return n.Submit(ctx, Request{Kind: RequestShareWeak, InstanceID: instanceID, Secret: secret})
}
