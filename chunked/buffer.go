// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Package chunked implements an append-only byte buffer that grows in fixed
// size chunks. Once written, bytes never move, so growing the buffer never
// copies already appended data, while random reads still only need a division
// to find their chunk.
package chunked

import "fmt"

// Buffer is an append-only sequence of bytes, spread over chunks of the same
// fixed size. All chunks except for the last one are always completely
// filled. Buffer isn't safe for concurrent use; callers sharing a Buffer
// between goroutines need to synchronize access themselves.
type Buffer struct {
	chunkSize int
	chunks    [][]byte
	offset    int // write position inside the last chunk.
}

// New returns an empty Buffer with the given chunk size in bytes.
func New(chunkSize int) *Buffer {
	if chunkSize <= 0 {
		panic(fmt.Sprintf("chunked: invalid chunk size %d", chunkSize))
	}
	return &Buffer{
		chunkSize: chunkSize,
		chunks:    [][]byte{make([]byte, chunkSize)},
	}
}

// ChunkSize returns the size of the chunks of this buffer.
func (b *Buffer) ChunkSize() int {
	return b.chunkSize
}

// Append appends the octets in p, spreading them across as many new chunks
// as necessary.
func (b *Buffer) Append(p []byte) {
	for len(p) > b.chunkSize-b.offset {
		n := copy(b.chunks[len(b.chunks)-1][b.offset:], p)
		p = p[n:]
		b.chunks = append(b.chunks, make([]byte, b.chunkSize))
		b.offset = 0
	}
	b.offset += copy(b.chunks[len(b.chunks)-1][b.offset:], p)
}

// Write appends p and never fails, so Buffer can be used as an io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// Len returns the number of bytes appended so far.
func (b *Buffer) Len() int {
	return (len(b.chunks)-1)*b.chunkSize + b.offset
}

// Chunks returns the number of chunks currently allocated.
func (b *Buffer) Chunks() int {
	return len(b.chunks)
}

// Chunk returns the filled part of the i-th chunk. The returned slice aliases
// the buffer's storage and must not be modified.
func (b *Buffer) Chunk(i int) []byte {
	if i == len(b.chunks)-1 {
		return b.chunks[i][:b.offset]
	}
	return b.chunks[i]
}

// Read copies n bytes starting at offset off into out, transparently crossing
// chunk boundaries. Reading beyond Len or into a too small out is a
// programming error and panics.
func (b *Buffer) Read(off, n int, out []byte) {
	if off < 0 || n < 0 || off+n > b.Len() || len(out) < n {
		panic(fmt.Sprintf("chunked: read [%d:%d] out of range [0:%d] (out %d)",
			off, off+n, b.Len(), len(out)))
	}
	for n > 0 {
		chunk := off / b.chunkSize
		pos := off % b.chunkSize
		copied := copy(out[:n], b.chunks[chunk][pos:])
		off += copied
		out = out[copied:]
		n -= copied
	}
}

// Bytes returns a copy of the n bytes starting at offset off; see also Read.
func (b *Buffer) Bytes(off, n int) []byte {
	out := make([]byte, n)
	b.Read(off, n, out)
	return out
}
