// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/abft/bfterrors"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := []byte("shared-secret-key")
	env := Seal(key, 2, Tag(5), []byte("payload"))
	require.NoError(t, Open(key, env))
}

func TestOpenRejectsWrongKey(t *testing.T) {
	env := Seal([]byte("key-a"), 2, Tag(5), []byte("payload"))
	err := Open([]byte("key-b"), env)
	require.True(t, bfterrors.Is(err, bfterrors.ErrAuthFail))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := []byte("k")
	env := Seal(key, 1, Tag(9), []byte("hello world"))
	buf := Encode(env)
	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestLocalNetworkFIFOPerSender(t *testing.T) {
	nodes := NewLocalNetwork(3, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, nodes[0].Send(ctx, 1, Envelope{Sender: 0, Body: []byte{byte(i)}}))
	}
	for i := 0; i < 5; i++ {
		env, err := nodes[1].Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, byte(i), env.Body[0])
	}
}

func TestKeyStoreMissingKeyIsConfigFatal(t *testing.T) {
	ks := NewKeyStore(map[int][]byte{0: []byte("k0")})
	_, err := ks.KeyFor(1)
	require.Error(t, err)
}
