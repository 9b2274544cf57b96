// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package wire

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/siemens/procshark/api"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("records", func() {

	ts := time.Unix(1700000000, 123456000)

	It("encodes the documented layout", func() {
		enc := NewEncoder()
		defer enc.Close()
		frame := enc.Encode(&Record{
			ID:        0x0102,
			Timestamp: ts,
			Length:    1500,
			Data:      []byte{0xde, 0xad},
			Path:      "/bin/sh",
		})
		Expect(frame).To(HaveLen(EnvelopeLen + HeaderLen + 2 + len("/bin/sh") + 1))
		Expect(frame[0:8]).To(Equal([]byte{0x02, 0x01, 0, 0, 0, 0, 0, 0}))
		Expect(ByteOrder.Uint64(frame[8:16])).To(Equal(uint64(1700000000)))
		Expect(ByteOrder.Uint32(frame[16:20])).To(Equal(uint32(123456)))
		Expect(ByteOrder.Uint32(frame[20:24])).To(Equal(uint32(2)))
		Expect(ByteOrder.Uint32(frame[24:28])).To(Equal(uint32(1500)))
		Expect(frame[28:30]).To(Equal([]byte{0xde, 0xad}))
		Expect(string(frame[30:])).To(Equal("/bin/sh\x00"))
	})

	DescribeTable("round-trips records",
		func(caplen, pathlen int) {
			data := bytes.Repeat([]byte{0x5a}, caplen)
			for i := range data {
				data[i] = byte(i)
			}
			path := "/" + strings.Repeat("x", pathlen-1)
			rec := &Record{ID: 42, Timestamp: ts, Length: caplen + 10, Data: data, Path: path}
			enc := NewEncoder()
			defer enc.Close()
			frame := enc.Encode(rec)
			Expect(frame).To(HaveLen(rec.FrameLen()))
			PutMessageID(frame, 666)

			dec, err := Decode(frame)
			Expect(err).NotTo(HaveOccurred())
			Expect(dec.ID).To(Equal(uint64(666)))
			Expect(dec.Timestamp.Equal(ts)).To(BeTrue())
			Expect(dec.Length).To(Equal(caplen + 10))
			Expect(dec.CaptureLength()).To(Equal(caplen))
			Expect(dec.Data).To(Equal(data))
			Expect(dec.Path).To(Equal(path))
		},
		Entry("empty packet, shortest path", 0, 1),
		Entry("tiny packet", 1, 5),
		Entry("typical packet", 1514, 20),
		Entry("snapshot length packet", 65535, 100),
		Entry("longest path", 60, PathMax-1),
	)

	It("round-trips sentinels", func() {
		enc := NewEncoder()
		defer enc.Close()
		for _, path := range []string{api.UnknownTCP, api.UnknownOther} {
			dec, err := Decode(enc.Encode(&Record{Timestamp: ts, Data: []byte{1, 2, 3}, Path: path}))
			Expect(err).NotTo(HaveOccurred())
			Expect(dec.Path).To(Equal(path))
		}
	})

	It("truncates overlong paths", func() {
		enc := NewEncoder()
		defer enc.Close()
		rec := &Record{Timestamp: ts, Path: strings.Repeat("p", 2*PathMax)}
		dec, err := Decode(enc.Encode(rec))
		Expect(err).NotTo(HaveOccurred())
		Expect(dec.Path).To(HaveLen(PathMax - 1))
	})

	It("doesn't split runes when truncating paths", func() {
		enc := NewEncoder()
		defer enc.Close()
		// "ü" takes two octets, so the last one would end up at PathMax-1.
		path := strings.Repeat("p", PathMax-2) + "üüü"
		rec := &Record{Timestamp: ts, Path: path}
		Expect(rec.FrameLen()).To(Equal(EnvelopeLen + HeaderLen + PathMax - 1))
		dec, err := Decode(enc.Encode(rec))
		Expect(err).NotTo(HaveOccurred())
		Expect(dec.Path).To(Equal(strings.Repeat("p", PathMax-2)))
		Expect(utf8.ValidString(dec.Path)).To(BeTrue())
	})

	It("reuses its frame memory", func() {
		enc := NewEncoder()
		defer enc.Close()
		f1 := enc.Encode(&Record{Timestamp: ts, Data: []byte{1}, Path: "a"})
		f2 := enc.Encode(&Record{Timestamp: ts, Data: []byte{2}, Path: "b"})
		Expect(&f1[0]).To(BeIdenticalTo(&f2[0]))
	})

	It("decodes copies", func() {
		enc := NewEncoder()
		defer enc.Close()
		frame := enc.Encode(&Record{Timestamp: ts, Data: []byte{1, 2, 3}, Path: "a"})
		dec, err := Decode(frame)
		Expect(err).NotTo(HaveOccurred())
		frame[EnvelopeLen+HeaderLen] = 0xff
		Expect(dec.Data).To(Equal([]byte{1, 2, 3}))
	})

	It("rejects malformed frames", func() {
		_, err := Decode(make([]byte, EnvelopeLen+HeaderLen-1))
		Expect(err).To(MatchError(ErrShortFrame))

		enc := NewEncoder()
		defer enc.Close()
		frame := enc.Encode(&Record{Timestamp: ts, Data: []byte{1, 2, 3}, Path: "/usr/bin/curl"})
		_, err = Decode(frame[:EnvelopeLen+HeaderLen+2])
		Expect(err).To(MatchError(ContainSubstring("truncated packet data")))
		_, err = Decode(frame[:len(frame)-1])
		Expect(err).To(MatchError(ErrUnterminatedPath))
	})

})
