// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package pcapng

import "encoding/binary"

// Option represents a pcapng option, consisting of a Code uniquely identifying
// the type of option, as well as its (binary) value in form of an octet string.
type Option struct {
	Code  uint16 // Option Code
	Value []byte // Value
}

const (
	// OptEndofOpt signals the end of options.
	OptEndofOpt = uint16(0)
	// OptComment contains a comment in form of an UTF-8 string; it can be
	// used with all block types.
	OptComment = uint16(1)
	// OptSHBHardware contains the description of the hardware used to create
	// this section, in form of an UTF-8 string.
	OptSHBHardware = uint16(2)
	// OptSHBOS contains the name of the operating system used to create this
	// section, in form of an UTF-8 string.
	OptSHBOS = uint16(3)
	// OptSHBUserAppl contains the name of the application used to create this
	// section, in form of an UTF-8 string.
	OptSHBUserAppl = uint16(4)
	// OptIFName contains the name of the network interface packets were
	// captured from, in form of an UTF-8 string.
	OptIFName = uint16(2)
	// OptIFTsResol contains the resolution of timestamps.
	OptIFTsResol = uint16(9)
)

// NewOption returns a new pcapng Option read from the buffer using the
// given endianness, as well as the number of octets to skip over to arrive
// at the next option. If the last option is reached, then nil is returned,
// together with the amount of octets to skip past the end-of-options mark.
func NewOption(buff []byte, endian binary.ByteOrder) (opt *Option, skip uint) {
	code := endian.Uint16(buff)
	length := endian.Uint16(buff[2:4])
	// The overall length of an option is aligned to the next 32bit boundary.
	skip = uint(2+2) + uint(length)
	if skip&0x3 != 0 {
		skip += 4 - (skip & 0x3)
	}
	if code != OptEndofOpt || length != 0 {
		opt = &Option{Code: code, Value: buff[4 : 4+length]}
	}
	return
}

// String returns an option's value as a string instead of octets, assuming
// UTF-8 encoding.
func (o *Option) String() string {
	return string(o.Value)
}

// Bytes returns the octets encoding the option, using the specified
// endianness. A nil option encodes the end-of-options mark.
func (o *Option) Bytes(endian binary.ByteOrder) (b []byte) {
	if o == nil {
		return []byte{0, 0, 0, 0}
	}
	length := uint16(len(o.Value))
	by := make([]byte, uint16(2+2)+length)
	endian.PutUint16(by[0:2], o.Code)
	endian.PutUint16(by[2:4], length)
	copy(by[4:], o.Value)
	if length&0x3 != 0 {
		pad := [3]byte{0, 0, 0}
		by = append(by, pad[0:4-(length&0x3)]...)
	}
	return by
}

// Options returns the octets encoding the list of options, including the
// final end-of-options mark. An empty list encodes to nothing at all.
func Options(opts []*Option, endian binary.ByteOrder) []byte {
	if len(opts) == 0 {
		return nil
	}
	b := []byte{}
	for _, opt := range opts {
		b = append(b, opt.Bytes(endian)...)
	}
	return append(b, (*Option)(nil).Bytes(endian)...)
}

// commentOption returns a comment option, or nil if the comment is empty.
// Comments are truncated to the maximum option length.
func commentOption(comment string) *Option {
	if comment == "" {
		return nil
	}
	if len(comment) > 0xffff {
		comment = comment[:0xffff]
	}
	return &Option{Code: OptComment, Value: []byte(comment)}
}
