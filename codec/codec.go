// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package codec provides the deterministic length-prefixed binary encoding
// used for every wire message in the stack (spec §6): Writer/Reader
// build and parse a payload body as a sequence of big-endian fixed-width
// integers, fixed-width byte strings (field elements, hashes, MACs) and
// length-prefixed byte strings, with no version byte. JSONCodec, a
// version-checked JSON Marshal/Unmarshal pair, is kept alongside for
// structures that are not sent on the MAC-checked wire path.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/luxfi/abft/bfterrors"
)

// CodecVersion represents the codec version.
type CodecVersion uint16

const (
	// CurrentVersion is the current codec version.
	CurrentVersion CodecVersion = 0
)

// Codec is the default, version-checked JSON codec kept for structures
// that do not sit on the hot MAC-checked wire path (e.g. config files).
var Codec = &JSONCodec{}

// JSONCodec implements JSON encoding/decoding.
type JSONCodec struct{}

// Marshal marshals an object to bytes.
func (c *JSONCodec) Marshal(version CodecVersion, v interface{}) ([]byte, error) {
	if version != CurrentVersion {
		return nil, fmt.Errorf("unsupported codec version: %d", version)
	}
	return json.Marshal(v)
}

// Unmarshal unmarshals bytes to an object.
func (c *JSONCodec) Unmarshal(data []byte, v interface{}) (CodecVersion, error) {
	err := json.Unmarshal(data, v)
	return CurrentVersion, err
}

// Writer builds a deterministic binary encoding field by field. Every
// variable-length field is length-prefixed with a big-endian uint32;
// fixed-width fields (uint64, hashes) are written without a prefix.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// PutUint8 appends a single byte, typically a payload tag.
func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// PutUint32 appends a fixed-width big-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutUint64 appends a fixed-width big-endian uint64.
func (w *Writer) PutUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutBytes appends a length-prefixed byte string.
func (w *Writer) PutBytes(b []byte) {
	w.PutUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// PutFixed appends a fixed-width byte string without a length prefix
// (used for hashes and other constant-size values).
func (w *Writer) PutFixed(b []byte) {
	w.buf = append(w.buf, b...)
}

// Reader consumes a binary encoding built by Writer.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps buf for sequential field reads.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return bfterrors.Wrapf(bfterrors.ErrDecodeFail, "need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

// Uint32 reads a fixed-width big-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// Uint64 reads a fixed-width big-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// Bytes reads a length-prefixed byte string.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return v, nil
}

// Fixed reads n bytes without a length prefix.
func (r *Reader) Fixed(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+n])
	r.off += n
	return v, nil
}
