// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	key0, err := NewSharedKeyHex()
	require.NoError(t, err)
	key1, err := NewSharedKeyHex()
	require.NoError(t, err)

	ft := FileTOML{
		Self: 0, N: 2, T: 0,
		Peers: []PeerTOML{
			{Replica: 0, KeyHex: key0},
			{Replica: 1, KeyHex: key1},
		},
	}

	path := filepath.Join(t.TempDir(), "node0.toml")
	require.NoError(t, Save(path, ft))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0, loaded.Self)
	require.Equal(t, 2, loaded.N)
	require.Equal(t, 0, loaded.T)

	k0, err := loaded.Keys.KeyFor(0)
	require.NoError(t, err)
	require.NotEmpty(t, k0)
	k1, err := loaded.Keys.KeyFor(1)
	require.NoError(t, err)
	require.NotEqual(t, k0, k1)
}

func TestLoadRejectsSelfOutOfRange(t *testing.T) {
	ft := FileTOML{Self: 5, N: 2, T: 0}
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, Save(path, ft))

	_, err := Load(path)
	require.Error(t, err)
}

func TestRenderProducesParsableTOML(t *testing.T) {
	ft := FileTOML{Self: 0, N: 1, T: 0, Peers: []PeerTOML{{Replica: 0, KeyHex: "ab"}}}
	text, err := Render(ft)
	require.NoError(t, err)
	require.Contains(t, text, "Self")
}
