// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"context"
	"strconv"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/consensus/acs"
	"github.com/luxfi/abft/consensus/acss"
	"github.com/luxfi/abft/consensus/asks"
	"github.com/luxfi/abft/consensus/avid"
	"github.com/luxfi/abft/consensus/binaryba"
	"github.com/luxfi/abft/consensus/ctrbc"
	"github.com/luxfi/abft/consensus/mvba"
	"github.com/luxfi/abft/consensus/ra"
	"github.com/luxfi/abft/transport"
)

// dispatch verifies env's MAC and routes its body to the consensus/*
// package its Tag belongs to (spec §6's wire tag table). A MAC or
// decode failure is logged/counted and otherwise ignored, per spec §7:
// AuthFail and DecodeFail drop the message without affecting any
// threshold.
func (n *Node) dispatch(ctx context.Context, env transport.Envelope) error {
	if n.cfg.Metrics != nil {
		n.cfg.Metrics.MessagesDispatched.WithLabelValues(strconv.Itoa(int(env.Tag))).Inc()
	}
	key, err := n.cfg.Keys.KeyFor(env.Sender)
	if err != nil {
		return bfterrors.Wrap(err, "dispatch: unknown sender")
	}
	if err := transport.Open(key, env); err != nil {
		if n.cfg.Metrics != nil {
			n.cfg.Metrics.AuthFailures.Inc()
		}
		return nil
	}

	decodeFail := func(err error) error {
		if n.cfg.Metrics != nil {
			n.cfg.Metrics.DecodeFailures.WithLabelValues(strconv.Itoa(int(env.Tag))).Inc()
		}
		return bfterrors.Wrap(err, "dispatch: decode failed")
	}

	switch env.Tag {
	case ctrbc.TagInit:
		msg, err := ctrbc.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.CTRBC.HandleInit(ctx, env.Sender, msg)
	case ctrbc.TagEcho:
		msg, err := ctrbc.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.CTRBC.HandleEcho(ctx, env.Sender, msg)
	case ctrbc.TagReady:
		msg, err := ctrbc.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.CTRBC.HandleReady(ctx, env.Sender, msg)

	case avid.TagInit:
		msg, err := avid.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.AVID.HandleInit(ctx, env.Sender, msg)
	case avid.TagEcho:
		msg, err := avid.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.AVID.HandleEcho(ctx, env.Sender, msg)
	case avid.TagReady:
		msg, err := avid.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.AVID.HandleReady(ctx, env.Sender, msg)

	case asks.TagInit:
		msg, err := asks.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.ASKS.HandleInit(ctx, env.Sender, msg)
	case asks.TagEcho:
		msg, err := asks.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.ASKS.HandleEcho(ctx, env.Sender, msg)
	case asks.TagReady:
		msg, err := asks.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.ASKS.HandleReady(ctx, env.Sender, msg)
	case asks.TagReconstruct:
		msg, err := asks.DecodeReconstruct(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.ASKS.HandleReconstruct(ctx, env.Sender, msg)

	case acss.TagInit:
		msg, err := acss.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.ACSS.HandleInit(ctx, env.Sender, msg)
	case acss.TagEcho:
		msg, err := acss.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.ACSS.HandleEcho(ctx, env.Sender, msg)
	case acss.TagReady:
		msg, err := acss.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.ACSS.HandleReady(ctx, env.Sender, msg)

	case ra.TagEcho:
		msg, err := ra.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.RA.HandleEcho(ctx, env.Sender, msg)
	case ra.TagReady:
		msg, err := ra.Decode(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.RA.HandleReady(ctx, env.Sender, msg)

	case binaryba.TagEcho1:
		msg, err := binaryba.DecodeEcho(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.MVBA.HandleBinaryEcho1(ctx, env.Sender, msg)
	case binaryba.TagEcho2:
		msg, err := binaryba.DecodeEcho(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.MVBA.HandleBinaryEcho2(ctx, env.Sender, msg)
	case binaryba.TagEcho3:
		msg, err := binaryba.DecodeConf(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.MVBA.HandleBinaryEcho3(ctx, env.Sender, msg)
	case binaryba.TagCoin:
		msg, err := binaryba.DecodeCoin(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.MVBA.HandleBinaryCoin(ctx, env.Sender, msg)

	case mvba.TagL3Witness:
		msg, err := mvba.DecodeL3Witness(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.MVBA.HandleL3Witness(ctx, env.Sender, msg)
	case mvba.TagLeaderCoin:
		msg, err := mvba.DecodeLeaderCoin(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.MVBA.HandleLeaderCoin(ctx, env.Sender, msg)

	case acs.TagGatherEcho:
		msg, err := acs.DecodeGatherEcho(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.ACS.HandleGatherEcho(ctx, env.Sender, msg)
	case acs.TagGatherEcho2:
		msg, err := acs.DecodeGatherEcho2(env.Body)
		if err != nil {
			return decodeFail(err)
		}
		return n.ACS.HandleGatherEcho2(ctx, env.Sender, msg)

	default:
		return bfterrors.Wrap(bfterrors.ErrDecodeFail, "dispatch: unknown tag")
	}
}
