// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package pcapng

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// infomarker describes the "magic" signature of a capture information
	// YAML document inside the section header comment.
	infomarker = "---\n# capture information\n"

	blockSHB = uint32(0x0a0d0d0a)
	blockIDB = uint32(0x00000001)
	blockEPB = uint32(0x00000006)
	magic    = uint32(0x1a2b3c4d)
)

// CaptureInfo represents the information about a capture to be added to the
// section header comment of an exported capture.
type CaptureInfo struct {
	Application string            `yaml:"application"`
	Interfaces  []string          `yaml:"interfaces,omitempty"`
	Filter      string            `yaml:"capture-filter,omitempty"`
	Started     string            `yaml:"started,omitempty"`
	Packets     int               `yaml:"packets"`
	Properties  map[string]string `yaml:"properties,omitempty"`
}

// Writer writes a pcapng capture file consisting of a single section. All
// timestamps use microsecond resolution.
type Writer struct {
	Endian binary.ByteOrder
	w      io.Writer
	ifaces int
}

// NewWriter returns a new pcapng writer, connected to the specified writer
// (which can be a pipe, file, et cetera), after writing the section header
// block. Capture information, if any, becomes the section comment in form
// of a YAML document.
func NewWriter(w io.Writer, info *CaptureInfo) (*Writer, error) {
	pw := &Writer{Endian: binary.LittleEndian, w: w}
	opts := []*Option{}
	if info != nil {
		y, err := yaml.Marshal(info)
		if err != nil {
			return nil, fmt.Errorf("cannot create capture information YAML: %w", err)
		}
		opts = append(opts, commentOption(infomarker+string(y)))
		if info.Application != "" {
			opts = append(opts, &Option{Code: OptSHBUserAppl, Value: []byte(info.Application)})
		}
	}
	body := make([]byte, 16)
	pw.Endian.PutUint32(body[0:4], magic)
	pw.Endian.PutUint16(body[4:6], 1) // major
	pw.Endian.PutUint16(body[6:8], 0) // minor
	pw.Endian.PutUint64(body[8:16], ^uint64(0))
	body = append(body, Options(opts, pw.Endian)...)
	if err := pw.writeBlock(blockSHB, body); err != nil {
		return nil, err
	}
	return pw, nil
}

// writeBlock writes a block of the given type with its (unpadded) body,
// adding the leading and trailing block lengths.
func (pw *Writer) writeBlock(blockType uint32, body []byte) error {
	pad := (4 - len(body)&0x3) & 0x3
	total := 4 + 4 + len(body) + pad + 4
	b := make([]byte, total)
	pw.Endian.PutUint32(b[0:4], blockType)
	pw.Endian.PutUint32(b[4:8], uint32(total))
	copy(b[8:], body)
	pw.Endian.PutUint32(b[total-4:], uint32(total))
	if _, err := pw.w.Write(b); err != nil {
		log.Debugf("pcapng stream broken: %s", err.Error())
		return err
	}
	return nil
}

// WriteInterface writes an interface description block and returns the ID
// of the new interface, to be used with WritePacket.
func (pw *Writer) WriteInterface(linkType layers.LinkType, snapLen int, name string) (int, error) {
	body := make([]byte, 8)
	pw.Endian.PutUint16(body[0:2], uint16(linkType))
	pw.Endian.PutUint32(body[4:8], uint32(snapLen))
	opts := []*Option{{Code: OptIFTsResol, Value: []byte{6}}}
	if name != "" {
		opts = append(opts, &Option{Code: OptIFName, Value: []byte(name)})
	}
	body = append(body, Options(opts, pw.Endian)...)
	if err := pw.writeBlock(blockIDB, body); err != nil {
		return 0, err
	}
	id := pw.ifaces
	pw.ifaces++
	return id, nil
}

// WritePacket writes an enhanced packet block with the captured data of a
// packet originally being length octets long, captured on the interface
// with the given ID. A non-empty comment gets attached to the packet.
func (pw *Writer) WritePacket(iface int, ts time.Time, data []byte, length int, comment string) error {
	if iface < 0 || iface >= pw.ifaces {
		return fmt.Errorf("invalid interface ID %d", iface)
	}
	micros := uint64(ts.UnixMicro())
	body := make([]byte, 20, 20+len(data)+3)
	pw.Endian.PutUint32(body[0:4], uint32(iface))
	pw.Endian.PutUint32(body[4:8], uint32(micros>>32))
	pw.Endian.PutUint32(body[8:12], uint32(micros))
	pw.Endian.PutUint32(body[12:16], uint32(len(data)))
	pw.Endian.PutUint32(body[16:20], uint32(length))
	body = append(body, data...)
	if pad := (4 - len(data)&0x3) & 0x3; pad != 0 {
		body = append(body, make([]byte, pad)...)
	}
	if opt := commentOption(comment); opt != nil {
		body = append(body, Options([]*Option{opt}, pw.Endian)...)
	}
	return pw.writeBlock(blockEPB, body)
}
