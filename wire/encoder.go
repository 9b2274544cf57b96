// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package wire

import "github.com/siemens/procshark/scratch"

// Encoder encodes records into frames, reusing the same scratch memory for
// each frame. An Encoder must only be used by a single goroutine.
type Encoder struct {
	buf *scratch.Region[byte]
}

// NewEncoder returns a new record encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: scratch.New[byte](0)}
}

// Encode encodes the record into a frame. The envelope carries the record's
// ID, which a channel overwrites with its own message ID when sending. The
// frame is only valid until the next call to Encode. Paths longer than
// PathMax-1 octets get truncated.
func (e *Encoder) Encode(r *Record) []byte {
	path := truncatePath(r.Path)
	size := EnvelopeLen + HeaderLen + len(r.Data) + len(path) + 1
	e.buf.Ensure(size)
	frame := e.buf.Bytes()[:size]

	ByteOrder.PutUint64(frame[0:8], r.ID)
	hdr := frame[EnvelopeLen : EnvelopeLen+HeaderLen]
	ByteOrder.PutUint64(hdr[0:8], uint64(r.Timestamp.Unix()))
	ByteOrder.PutUint32(hdr[8:12], uint32(r.Timestamp.Nanosecond()/1000))
	ByteOrder.PutUint32(hdr[12:16], uint32(len(r.Data)))
	ByteOrder.PutUint32(hdr[16:20], uint32(r.Length))
	pos := EnvelopeLen + HeaderLen
	pos += copy(frame[pos:], r.Data)
	pos += copy(frame[pos:], path)
	frame[pos] = 0
	return frame
}

// Close releases the encoder's scratch memory.
func (e *Encoder) Close() {
	e.buf.Release()
}
