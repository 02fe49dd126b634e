// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutUint8(7)
	w.PutUint32(1234)
	w.PutUint64(9876543210)
	w.PutBytes([]byte("hello world"))
	w.PutFixed([]byte{1, 2, 3, 4})

	r := NewReader(w.Bytes())

	tag, err := r.Uint8()
	require.NoError(t, err)
	require.Equal(t, uint8(7), tag)

	u32, err := r.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(1234), u32)

	u64, err := r.Uint64()
	require.NoError(t, err)
	require.Equal(t, uint64(9876543210), u64)

	b, err := r.Bytes()
	require.NoError(t, err)
	require.Equal(t, "hello world", string(b))

	fixed, err := r.Fixed(4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, fixed)

	require.Equal(t, 0, r.Remaining())
}

func TestReaderTruncatedInput(t *testing.T) {
	w := NewWriter()
	w.PutUint32(5)
	w.PutFixed([]byte{1, 2}) // claims 5 bytes, only 2 present

	r := NewReader(w.Bytes())
	_, err := r.Bytes()
	require.Error(t, err)
}
