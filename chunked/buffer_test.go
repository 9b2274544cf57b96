// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package chunked

import (
	"bytes"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// segments returns count random byte segments with lengths up to maxlen.
func segments(rnd *rand.Rand, count, maxlen int) [][]byte {
	segs := make([][]byte, count)
	for i := range segs {
		segs[i] = make([]byte, rnd.Intn(maxlen+1))
		rnd.Read(segs[i])
	}
	return segs
}

var _ = Describe("chunked buffer", func() {

	It("rejects invalid chunk sizes", func() {
		Expect(func() { New(0) }).To(Panic())
		Expect(func() { New(-1) }).To(Panic())
	})

	It("starts empty", func() {
		b := New(16)
		Expect(b.Len()).To(BeZero())
		Expect(b.Chunks()).To(Equal(1))
		Expect(b.Chunk(0)).To(BeEmpty())
	})

	It("fills chunks exactly", func() {
		b := New(4)
		b.Append([]byte("abcd"))
		Expect(b.Len()).To(Equal(4))
		Expect(b.Chunks()).To(Equal(1))
		b.Append([]byte("e"))
		Expect(b.Len()).To(Equal(5))
		Expect(b.Chunks()).To(Equal(2))
		Expect(b.Chunk(0)).To(Equal([]byte("abcd")))
		Expect(b.Chunk(1)).To(Equal([]byte("e")))
		Expect(b.Bytes(0, 5)).To(Equal([]byte("abcde")))
		Expect(b.Bytes(3, 2)).To(Equal([]byte("de")))
	})

	DescribeTable("reconstructs the appended bytes",
		func(chunkSize, count, maxlen int) {
			rnd := rand.New(rand.NewSource(int64(chunkSize*1000 + maxlen)))
			b := New(chunkSize)
			var flat bytes.Buffer
			for _, seg := range segments(rnd, count, maxlen) {
				b.Append(seg)
				flat.Write(seg)
				Expect(b.Len()).To(Equal(flat.Len()))
			}
			all := make([]byte, b.Len())
			b.Read(0, b.Len(), all)
			Expect(all).To(Equal(flat.Bytes()))

			ref := flat.Bytes()
			for i := 0; i < 200; i++ {
				off := rnd.Intn(len(ref) + 1)
				n := rnd.Intn(len(ref) - off + 1)
				Expect(b.Bytes(off, n)).To(Equal(ref[off:off+n]),
					"read [%d:%d]", off, off+n)
			}
		},
		Entry("segments smaller than chunks", 64, 100, 10),
		Entry("segments around the chunk size", 64, 100, 130),
		Entry("segments much larger than chunks", 7, 50, 300),
		Entry("single byte chunks", 1, 40, 5),
		Entry("page sized chunks", 4096, 20, 10000),
	)

	It("never moves written chunks", func() {
		b := New(8)
		b.Append([]byte("0123456789"))
		first := &b.chunks[0][0]
		second := &b.chunks[1][0]
		chunks := b.Chunks()
		for i := 0; i < 100; i++ {
			b.Append([]byte("some more octets"))
			Expect(b.Chunks()).To(BeNumerically(">=", chunks))
			chunks = b.Chunks()
		}
		Expect(&b.chunks[0][0]).To(BeIdenticalTo(first))
		Expect(&b.chunks[1][0]).To(BeIdenticalTo(second))
		Expect(b.Bytes(0, 10)).To(Equal([]byte("0123456789")))
	})

	It("keeps every chunk but the last one full", func() {
		b := New(5)
		for i := 0; i < 37; i++ {
			b.Append([]byte("xyz"))
		}
		for i := 0; i < b.Chunks()-1; i++ {
			Expect(b.Chunk(i)).To(HaveLen(5))
		}
		Expect(b.Len()).To(Equal(37 * 3))
	})

	It("works as an io.Writer", func() {
		b := New(3)
		n, err := b.Write([]byte("hello"))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(5))
		Expect(b.Bytes(0, 5)).To(Equal([]byte("hello")))
	})

	It("panics on out-of-range reads", func() {
		b := New(4)
		b.Append([]byte("abcdef"))
		out := make([]byte, 10)
		Expect(func() { b.Read(0, 7, out) }).To(Panic())
		Expect(func() { b.Read(5, 2, out) }).To(Panic())
		Expect(func() { b.Read(-1, 1, out) }).To(Panic())
		Expect(func() { b.Read(0, 6, out[:5]) }).To(Panic())
		Expect(func() { b.Read(6, 0, out) }).NotTo(Panic())
	})

})
