// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package command

import (
	"bytes"
	"path/filepath"
	"time"

	"github.com/siemens/procshark/api"
	"github.com/siemens/procshark/store"
	"github.com/siemens/procshark/wire"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fill adds a few packets of different applications to the store.
func fill(st *store.Store) {
	for idx, path := range []string{"/usr/bin/curl", api.UnknownOther, "/usr/bin/curl", "/bin/sh"} {
		id := uint64(idx + 1)
		Expect(st.AddPacket(&wire.Record{
			ID:        id,
			Timestamp: time.Unix(1700000000+int64(id), 0),
			Length:    100 * int(id),
			Data:      []byte{byte(id), 0xaa},
			Path:      path,
		}, map[string]string{store.MetaProtocol: "TCP"})).To(Succeed())
	}
}

var _ = Describe("list command", func() {

	It("matches applications by path or name", func() {
		Expect(matchesApp("/usr/bin/curl", "")).To(BeTrue())
		Expect(matchesApp("/usr/bin/curl", "curl")).To(BeTrue())
		Expect(matchesApp("/usr/bin/curl", "/usr/bin/curl")).To(BeTrue())
		Expect(matchesApp("/usr/bin/curl", "wget")).To(BeFalse())
		Expect(matchesApp(api.UnknownTCP, api.UnknownTCP)).To(BeTrue())
	})

	It("turns packets into rows and aggregates applications", func() {
		st, err := store.Open(":memory:")
		Expect(err).NotTo(HaveOccurred())
		defer st.Close()
		fill(st)
		packets, err := st.Packets()
		Expect(err).NotTo(HaveOccurred())

		rows := packetRows(packets, "")
		Expect(rows).To(HaveLen(4))
		Expect(rows[0].Name).To(Equal("1"))
		Expect(rows[0].Protocol).To(Equal("TCP"))

		rows = packetRows(packets, "curl")
		Expect(rows).To(HaveLen(2))
		Expect(rows[1].ID).To(Equal(uint64(3)))

		apps := appRows(packetRows(packets, ""))
		Expect(apps).To(HaveLen(3))
		Expect(apps[0].Path).To(Equal(api.UnknownOther))
		Expect(apps[0].Application).To(Equal(api.UnknownOther))
		Expect(apps[1].Path).To(Equal("/bin/sh"))
		Expect(apps[2].Application).To(Equal("curl"))
		Expect(apps[2].Packets).To(Equal(2))
		Expect(apps[2].Octets).To(Equal(400))
	})

	It("lists and dumps from the capture database", func() {
		db := filepath.Join(tempDir(), "capture.db")
		st, err := store.Open(db)
		Expect(err).NotTo(HaveOccurred())
		fill(st)
		Expect(st.Save()).To(Succeed())
		Expect(st.Close()).To(Succeed())

		cmd := SetupCLI()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(GinkgoWriter)

		cmd.SetArgs([]string{"--db", db, "list", "apps", "--no-headers"})
		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(MatchRegexp(`(?m)^curl\s+2\s+400\s*$`))
		Expect(out.String()).NotTo(ContainSubstring("APPLICATION"))

		out.Reset()
		cmd.SetArgs([]string{"--db", db, "dump", "--raw", "3"})
		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(HavePrefix("00000000  03 aa"))

		cmd.SetArgs([]string{"--db", db, "dump", "42"})
		Expect(cmd.Execute()).To(MatchError(store.ErrNoPacket))
	})

})
