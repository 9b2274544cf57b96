// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package pcapng

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("pcapng options", func() {

	It("Encodes opts", func() {
		bbig := (&Option{Code: uint16(42), Value: []byte("Go")}).
			Bytes(binary.BigEndian)
		Expect(len(bbig)).Should(Equal(2 + 2 + 4))
		Expect(bbig).Should(Equal([]byte{0, 42, 0, 2, byte('G'), byte('o'), 0, 0}))

		blittle := (&Option{Code: uint16(42), Value: []byte("Go")}).
			Bytes(binary.LittleEndian)
		Expect(len(blittle)).Should(Equal(2 + 2 + 4))
		Expect(blittle).Should(Equal([]byte{42, 0, 2, 0, byte('G'), byte('o'), 0, 0}))
	})

	It("Encodes end-of-opts", func() {
		b := (&Option{}).Bytes(binary.BigEndian)
		Expect(len(b)).Should(Equal(4))
		Expect(b).Should(Equal([]byte{0, 0, 0, 0}))
	})

	It("Decodes opts", func() {
		bbig := (&Option{Code: OptComment, Value: []byte("Kuhbernetes")}).
			Bytes(binary.BigEndian)
		opt, skip := NewOption(bbig, binary.BigEndian)
		Expect(opt.Code).Should(Equal(OptComment))
		Expect(opt.String()).Should(Equal("Kuhbernetes"))
		Expect(skip).Should(Equal(uint(16)))
	})

	It("Encodes option lists", func() {
		Expect(Options(nil, binary.LittleEndian)).To(BeEmpty())
		Expect(Options([]*Option{{Code: OptComment, Value: []byte("A")}}, binary.LittleEndian)).
			To(Equal([]byte{1, 0, 1, 0, 'A', 0, 0, 0, 0, 0, 0, 0}))
	})

	It("Truncates overlong comments", func() {
		Expect(commentOption("")).To(BeNil())
		Expect(commentOption(string(make([]byte, 0x10000))).Value).To(HaveLen(0xffff))
	})

	It("Decodes end-of-opts", func() {
		opt, skip := NewOption([]byte{0, 0, 0, 0}, binary.BigEndian)
		Expect(opt).Should(BeNil())
		Expect(skip).Should(Equal(uint(4)))
	})

})
