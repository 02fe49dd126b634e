// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads one node's static committee configuration from a
// TOML file: its own replica index, the (n, t) committee size, and
// every peer's shared MAC key, following drand-drand's
// toml.DecodeFile/toml.NewEncoder file-store idiom (key/group.go,
// store.go) rather than hand-rolled flag parsing.
//
// The threshold coin's key material is deliberately not part of this
// file format: spec §1 excludes persistence across restart, and the
// trusted-dealer share generation (crypto/coin.Setup) is cheap enough
// to rerun at process start for the in-memory demo cluster
// cmd/bftnode drives. A real deployment would source coin shares from
// its own DKG output; wiring that is out of scope here.
package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/luxfi/abft/bfterrors"
	"github.com/luxfi/abft/transport"
)

func randomKey(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// PeerTOML is one committee member's entry in the config file: its
// replica index and the hex-encoded MAC key shared with it.
type PeerTOML struct {
	Replica int
	KeyHex  string
}

// FileTOML is the on-disk shape of a node's config file.
type FileTOML struct {
	Self  int
	N     int
	T     int
	Peers []PeerTOML
}

// Node is the decoded, ready-to-use form of a node's configuration.
type Node struct {
	Self int
	N, T int
	Keys *transport.KeyStore
}

// Load reads and decodes the TOML file at path (drand-drand's
// store.go LoadGroup pattern: toml.DecodeFile into a typed TOML struct).
func Load(path string) (*Node, error) {
	var ft FileTOML
	if _, err := toml.DecodeFile(path, &ft); err != nil {
		return nil, bfterrors.Wrap(err, "config: decode toml")
	}
	return fromTOML(ft)
}

func fromTOML(ft FileTOML) (*Node, error) {
	if ft.Self < 0 || ft.Self >= ft.N {
		return nil, bfterrors.Wrap(bfterrors.ErrConfigFatal, "config: self index out of range")
	}
	keyMap := make(map[int][]byte, len(ft.Peers))
	for _, p := range ft.Peers {
		key, err := hex.DecodeString(p.KeyHex)
		if err != nil {
			return nil, bfterrors.Wrapf(err, "config: peer %d key", p.Replica)
		}
		keyMap[p.Replica] = key
	}
	return &Node{
		Self: ft.Self,
		N:    ft.N,
		T:    ft.T,
		Keys: transport.NewKeyStore(keyMap),
	}, nil
}

// Save writes a FileTOML to path (drand-drand's store.go SaveKeyPair
// pattern: toml.NewEncoder against an open file).
func Save(path string, ft FileTOML) error {
	f, err := os.Create(path)
	if err != nil {
		return bfterrors.Wrap(err, "config: create file")
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(ft)
}

// Render produces the TOML text for ft without touching the
// filesystem.
func Render(ft FileTOML) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(ft); err != nil {
		return "", bfterrors.Wrap(err, "config: render toml")
	}
	return buf.String(), nil
}

// NewSharedKeyHex generates a fresh random 32-byte MAC key and returns
// its hex encoding, for populating a freshly generated committee's
// FileTOML.Peers entries.
func NewSharedKeyHex() (string, error) {
	key, err := randomKey(32)
	if err != nil {
		return "", bfterrors.Wrap(err, "config: generate key")
	}
	return hex.EncodeToString(key), nil
}
