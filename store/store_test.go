// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package store

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/siemens/procshark/api"
	"github.com/siemens/procshark/wire"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gstruct"
)

func record(id uint64, path string, size int) *wire.Record {
	return &wire.Record{
		ID:        id,
		Timestamp: time.UnixMicro(1700000000_000000 + int64(id)),
		Length:    size + 100,
		Data:      bytes.Repeat([]byte{byte(id)}, size),
		Path:      path,
	}
}

var _ = Describe("packet store", func() {

	var s *Store

	BeforeEach(func() {
		var err error
		s, err = Open(":memory:")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
	})

	It("adds and retrieves packets", func() {
		Expect(s.AddPacket(record(1, "/usr/bin/curl", 60), map[string]string{
			"summary": "TCP 10.0.0.1:1234 > 10.0.0.2:80",
		})).To(Succeed())
		Expect(s.AddPacket(record(2, api.UnknownOther, 42), nil)).To(Succeed())
		Expect(s.AddPacket(record(3, "/usr/bin/curl", 0), nil)).To(Succeed())

		Expect(s.Count()).To(Equal(3))
		p, err := s.Packet(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(PointTo(MatchFields(IgnoreExtras, Fields{
			"ID":            Equal(uint64(1)),
			"CaptureLength": Equal(60),
			"Length":        Equal(160),
			"Application":   Equal("/usr/bin/curl"),
			"Metadata":      HaveKeyWithValue("summary", "TCP 10.0.0.1:1234 > 10.0.0.2:80"),
		})))
		Expect(p.Timestamp.Equal(time.UnixMicro(1700000000_000001))).To(BeTrue())

		Expect(s.PacketData(2)).To(Equal(bytes.Repeat([]byte{2}, 42)))
		Expect(s.PacketData(3)).To(BeEmpty())

		ps, err := s.Packets()
		Expect(err).NotTo(HaveOccurred())
		Expect(ps).To(HaveLen(3))
		Expect(ps[0].Metadata).To(HaveLen(1))
		Expect(ps[1].Application).To(Equal(api.UnknownOther))
		Expect(ps[2].ID).To(Equal(uint64(3)))

		Expect(s.Applications()).To(ConsistOf("/usr/bin/curl", api.UnknownOther))
	})

	It("reports missing packets", func() {
		Expect(s.Packet(42)).Error().To(MatchError(ErrNoPacket))
		Expect(s.PacketData(42)).Error().To(MatchError(ErrNoPacket))
	})

	It("rejects duplicate message IDs without keeping their payload", func() {
		Expect(s.AddPacket(record(1, "/bin/foo", 10), nil)).To(Succeed())
		Expect(s.buf.Len()).To(Equal(10))
		Expect(s.AddPacket(record(1, "/bin/bar", 10), nil)).NotTo(Succeed())
		Expect(s.Count()).To(Equal(1))
		Expect(s.buf.Len()).To(Equal(10))
		Expect(s.AddPacket(record(2, "/bin/bar", 5), nil)).To(Succeed())
		Expect(s.PacketData(2)).To(Equal(bytes.Repeat([]byte{2}, 5)))
	})

	It("adds packets concurrently", func() {
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 0; i < 25; i++ {
					id := uint64(w*100 + i + 1)
					Expect(s.AddPacket(record(id, fmt.Sprintf("/bin/app%d", w), int(id%97)), nil)).To(Succeed())
				}
			}(w)
		}
		wg.Wait()
		Expect(s.Count()).To(Equal(100))
		ps, err := s.Packets()
		Expect(err).NotTo(HaveOccurred())
		for _, p := range ps {
			Expect(s.Data(p)).To(Equal(bytes.Repeat([]byte{byte(p.MessageID)}, int(p.MessageID%97))))
		}
	})

	It("stores properties", func() {
		Expect(s.SetProperty("interfaces", "lo")).To(Succeed())
		Expect(s.SetProperty("interfaces", "eth0")).To(Succeed())
		Expect(s.Properties()).To(Equal(map[string]string{"interfaces": "eth0"}))
	})

	It("saves and reloads payload across chunks", func() {
		dbpath := filepath.Join(tempDir(), "capture.db")
		s, err := Open(dbpath)
		Expect(err).NotTo(HaveOccurred())
		id := uint64(1)
		// more than two chunks, saving in between.
		for total := 0; total < 2*DefaultChunkSize+1000; total += 60000 {
			Expect(s.AddPacket(record(id, "/bin/big", 60000), nil)).To(Succeed())
			id++
			if id%10 == 0 {
				Expect(s.Save()).To(Succeed())
			}
		}
		Expect(s.Save()).To(Succeed())
		Expect(s.Close()).To(Succeed())

		s, err = Open(dbpath)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()
		Expect(s.Count()).To(Equal(int(id - 1)))
		for i := uint64(1); i < id; i++ {
			Expect(s.PacketData(i)).To(Equal(bytes.Repeat([]byte{byte(i)}, 60000)))
		}
		Expect(s.AddPacket(record(id, "/bin/big", 10), nil)).To(Succeed())
		Expect(s.Save()).To(Succeed())
	})

	It("records into an existing database with message IDs starting over", func() {
		dbpath := filepath.Join(tempDir(), "capture.db")
		s, err := Open(dbpath)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.AddPacket(record(1, "/bin/first", 10), map[string]string{"run": "1"})).To(Succeed())
		Expect(s.AddPacket(record(2, "/bin/first", 10), nil)).To(Succeed())
		Expect(s.Save()).To(Succeed())
		Expect(s.Close()).To(Succeed())

		s, err = Open(dbpath)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()
		Expect(s.AddPacket(record(1, "/bin/second", 7), map[string]string{"run": "2"})).To(Succeed())
		Expect(s.Save()).To(Succeed())

		ps, err := s.Packets()
		Expect(err).NotTo(HaveOccurred())
		Expect(ps).To(HaveLen(3))
		Expect(ps[0]).To(PointTo(MatchFields(IgnoreExtras, Fields{
			"ID": Equal(uint64(1)), "Session": Equal(int64(1)), "MessageID": Equal(uint64(1)),
		})))
		Expect(ps[2]).To(PointTo(MatchFields(IgnoreExtras, Fields{
			"ID":          Equal(uint64(3)),
			"Session":     Equal(int64(2)),
			"MessageID":   Equal(uint64(1)),
			"Application": Equal("/bin/second"),
			"Metadata":    HaveKeyWithValue("run", "2"),
		})))
		Expect(s.PacketData(1)).To(Equal(bytes.Repeat([]byte{1}, 10)))
		Expect(s.PacketData(3)).To(Equal(bytes.Repeat([]byte{1}, 7)))
		Expect(s.Packet(1)).To(PointTo(MatchFields(IgnoreExtras, Fields{
			"Metadata": HaveKeyWithValue("run", "1"),
		})))
	})

})
