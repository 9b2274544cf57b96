// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package wire defines how attributed packet records travel from the capture
tool to its companion process.

Each channel message carries exactly one record, preceded by an envelope with
the message ID:

	[0,8)            message ID (uint64)
	[8,16)           capture timestamp, seconds (uint64)
	[16,20)          capture timestamp, microseconds (uint32)
	[20,24)          captured length (uint32)
	[24,28)          original length on the wire (uint32)
	[28,28+caplen)   captured packet octets
	[28+caplen,...)  attributed executable path, UTF-8, NUL-terminated

All numbers are little endian.
*/
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	// EnvelopeLen is the length of the message envelope in octets.
	EnvelopeLen = 8
	// HeaderLen is the length of the fixed record header in octets.
	HeaderLen = 8 + 4 + 4 + 4
	// PathMax is the maximum length of an attributed path including its
	// terminating NUL.
	PathMax = 4096
)

// ByteOrder of all numbers in envelopes and records.
var ByteOrder = binary.LittleEndian

// Errors returned when decoding malformed frames.
var (
	ErrShortFrame       = errors.New("frame too short for envelope and record header")
	ErrUnterminatedPath = errors.New("attributed path lacks NUL terminator")
)

// Record is a single captured packet, attributed to the executable of the
// process owning the packet's flow.
type Record struct {
	// Message ID of the channel message carrying this record.
	ID uint64
	// Capture timestamp, with microsecond resolution on the wire.
	Timestamp time.Time
	// Original length of the packet on the wire, which might be larger than
	// the captured data.
	Length int
	// The captured packet octets.
	Data []byte
	// Executable path of the owning process, or one of the api.Unknown...
	// sentinels.
	Path string
}

// CaptureLength returns the number of captured octets.
func (r *Record) CaptureLength() int {
	return len(r.Data)
}

// FrameLen returns the length of the complete frame encoding this record,
// including the envelope.
func (r *Record) FrameLen() int {
	return EnvelopeLen + HeaderLen + len(r.Data) + len(truncatePath(r.Path)) + 1
}

// truncatePath limits the path so that it fits into PathMax together with its
// NUL terminator, without splitting a UTF-8 encoded rune.
func truncatePath(path string) string {
	if len(path) < PathMax {
		return path
	}
	end := PathMax - 1
	for end > 0 && !utf8.RuneStart(path[end]) {
		end--
	}
	return path[:end]
}

// PutMessageID stamps the message ID into the envelope of an encoded frame.
func PutMessageID(frame []byte, id uint64) {
	ByteOrder.PutUint64(frame[0:EnvelopeLen], id)
}

// Decode decodes a complete frame, that is, envelope plus record.
func Decode(frame []byte) (*Record, error) {
	if len(frame) < EnvelopeLen+HeaderLen {
		return nil, ErrShortFrame
	}
	r, err := DecodeRecord(frame[EnvelopeLen:])
	if err != nil {
		return nil, err
	}
	r.ID = ByteOrder.Uint64(frame[0:EnvelopeLen])
	return r, nil
}

// DecodeRecord decodes a record without envelope. The decoded record doesn't
// alias b.
func DecodeRecord(b []byte) (*Record, error) {
	if len(b) < HeaderLen {
		return nil, ErrShortFrame
	}
	secs := ByteOrder.Uint64(b[0:8])
	usecs := ByteOrder.Uint32(b[8:12])
	caplen := int(ByteOrder.Uint32(b[12:16]))
	origlen := int(ByteOrder.Uint32(b[16:20]))
	b = b[HeaderLen:]
	if caplen > len(b) {
		return nil, fmt.Errorf("truncated packet data: %d of %d octets", len(b), caplen)
	}
	data := make([]byte, caplen)
	copy(data, b)
	b = b[caplen:]
	nul := bytes.IndexByte(b, 0)
	if nul < 0 {
		return nil, ErrUnterminatedPath
	}
	return &Record{
		Timestamp: time.Unix(int64(secs), int64(usecs)*1000),
		Length:    origlen,
		Data:      data,
		Path:      string(b[:nul]),
	}, nil
}
