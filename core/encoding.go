package core

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrMalformedFrame is returned when a wire frame is short, over-long, or
// carries an unrecognised tag.
var ErrMalformedFrame = errors.New("core: malformed frame")

// putUint16 appends v to buf in little-endian order.
func putUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

// putUint32 appends v to buf in little-endian order.
func putUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

// putUint64 appends v to buf in little-endian order.
func putUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

// putBytes appends b to buf preceded by its little-endian uint32 length.
func putBytes(buf *bytes.Buffer, b []byte) {
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

// putString appends s to buf preceded by its little-endian uint32 length.
func putString(buf *bytes.Buffer, s string) {
	putBytes(buf, []byte(s))
}

// frameReader walks a decoded wire frame field by field, refusing to read
// past the end of the buffer.
type frameReader struct {
	b   []byte
	off int
}

func newFrameReader(b []byte) *frameReader {
	return &frameReader{b: b}
}

func (r *frameReader) remaining() int {
	return len(r.b) - r.off
}

func (r *frameReader) uint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrMalformedFrame
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, nil
}

func (r *frameReader) uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrMalformedFrame
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *frameReader) uint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrMalformedFrame
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

// bytesField reads a uint32-length-prefixed byte slice. The returned slice
// is a copy so the caller may retain it past the lifetime of the source
// datagram buffer.
func (r *frameReader) bytesField(maxLen uint32) ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if n > maxLen || uint64(r.off)+uint64(n) > uint64(len(r.b)) {
		return nil, ErrMalformedFrame
	}
	out := make([]byte, n)
	copy(out, r.b[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *frameReader) stringField(maxLen uint32) (string, error) {
	b, err := r.bytesField(maxLen)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
