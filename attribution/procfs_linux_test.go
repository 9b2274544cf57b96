// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package attribution

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/siemens/procshark/api"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// hexEndpoint renders an endpoint the way net/tcp and net/tcp6 tables do.
func hexEndpoint(ep string) string {
	ap := netip.MustParseAddrPort(ep)
	if ap.Addr().Is4() {
		ip := ap.Addr().As4()
		return fmt.Sprintf("%08X:%04X", binary.NativeEndian.Uint32(ip[:]), ap.Port())
	}
	ip := ap.Addr().As16()
	var hex strings.Builder
	for w := 0; w < 4; w++ {
		fmt.Fprintf(&hex, "%08X", binary.NativeEndian.Uint32(ip[4*w:]))
	}
	return fmt.Sprintf("%s:%04X", hex.String(), ap.Port())
}

// tempDir returns a new temporary directory that gets removed after the
// current test.
func tempDir() string {
	dir, err := os.MkdirTemp("", "procshark-procfs-*")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(os.RemoveAll, dir)
	return dir
}

// fakeProcFS creates a minimal process filesystem below a temporary
// directory, with the given sockets (inode → local, remote) and process fds
// (pid → fd → link target). Sockets with IPv6 endpoints go into a net/tcp6
// table, which only exists when there are such sockets.
func fakeProcFS(sockets map[int][2]string, fds map[int]map[int]string) string {
	root := tempDir()
	Expect(os.MkdirAll(filepath.Join(root, "net"), 0755)).To(Succeed())
	const header = "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n"
	var tcp, tcp6 strings.Builder
	tcp.WriteString(header)
	sl := 0
	for ino, eps := range sockets {
		table := &tcp
		if !netip.MustParseAddrPort(eps[0]).Addr().Is4() {
			if tcp6.Len() == 0 {
				tcp6.WriteString(header)
			}
			table = &tcp6
		}
		fmt.Fprintf(table, "%4d: %s %s 01 00000000:00000000 00:00000000 00000000  1000        0 %d 1 0000000000000000 20 4 30 10 -1\n",
			sl, hexEndpoint(eps[0]), hexEndpoint(eps[1]), ino)
		sl++
	}
	Expect(os.WriteFile(filepath.Join(root, "net", "tcp"), []byte(tcp.String()), 0644)).To(Succeed())
	if tcp6.Len() > 0 {
		Expect(os.WriteFile(filepath.Join(root, "net", "tcp6"), []byte(tcp6.String()), 0644)).To(Succeed())
	}
	Expect(os.MkdirAll(filepath.Join(root, "sys", "kernel"), 0755)).To(Succeed())
	for pid, links := range fds {
		fddir := filepath.Join(root, fmt.Sprint(pid), "fd")
		Expect(os.MkdirAll(fddir, 0755)).To(Succeed())
		for fd, target := range links {
			Expect(os.Symlink(target, filepath.Join(fddir, fmt.Sprint(fd)))).To(Succeed())
		}
	}
	return root
}

var _ = Describe("procfs socket table", func() {

	It("parses net/tcp endpoints", func() {
		ap, ok := parseHexAddrPort([]byte(hexEndpoint("192.168.0.1:8080")))
		Expect(ok).To(BeTrue())
		Expect(ap).To(Equal(netip.MustParseAddrPort("192.168.0.1:8080")))
		ap, ok = parseHexAddrPort([]byte(hexEndpoint("[::ffff:192.168.0.1]:8080")))
		Expect(ok).To(BeTrue())
		Expect(ap).To(Equal(netip.MustParseAddrPort("192.168.0.1:8080")))
		_, ok = parseHexAddrPort([]byte(hexEndpoint("[2001:db8::1]:8080")))
		Expect(ok).To(BeFalse())
		for _, bad := range []string{"", "0100007F", "0100007F:", "0100007F-1F90", "XX00007F:1F90", "0100007F:GGGG",
			"0000000000000000FFFF00000100007F", "0000000000000000FFFF0000XX00007F:1F90"} {
			_, ok := parseHexAddrPort([]byte(bad))
			Expect(ok).To(BeFalse(), "endpoint %q", bad)
		}
	})

	It("parses socket links", func() {
		ino, ok := socketInode([]byte("socket:[123456]"))
		Expect(ok).To(BeTrue())
		Expect(ino).To(Equal(uint64(123456)))
		for _, bad := range []string{"/dev/null", "socket:[]", "socket:[12", "pipe:[42]", "anon_inode:[eventfd]"} {
			_, ok := socketInode([]byte(bad))
			Expect(ok).To(BeFalse(), "link %q", bad)
		}
	})

	It("lists only numeric process entries", func() {
		root := fakeProcFS(nil, map[int]map[int]string{
			1:   {},
			42:  {},
			999: {},
		})
		t := NewProcFS(root)
		defer t.Close()
		pids, err := t.Pids()
		Expect(err).NotTo(HaveOccurred())
		Expect(pids).To(ConsistOf(int32(1), int32(42), int32(999)))
	})

	It("lists many processes", func() {
		fds := map[int]map[int]string{}
		expected := []int32{}
		for pid := 1; pid <= 2000; pid++ {
			fds[pid] = nil
			expected = append(expected, int32(pid))
		}
		t := NewProcFS(fakeProcFS(nil, fds))
		defer t.Close()
		pids, err := t.Pids()
		Expect(err).NotTo(HaveOccurred())
		Expect(pids).To(ConsistOf(expected))
	})

	It("attributes flows in both directions", func() {
		root := fakeProcFS(
			map[int][2]string{
				1111: {"10.0.0.1:40000", "93.184.216.34:443"},
				2222: {"127.0.0.1:5000", "127.0.0.1:6000"},
			},
			map[int]map[int]string{
				100: {0: "/dev/null", 1: "pipe:[77]", 3: "socket:[9999]"},
				200: {0: "/dev/null", 4: "socket:[2222]"},
				300: {7: "socket:[1111]"},
			})
		t := NewProcFS(root)
		defer t.Close()
		r := NewResolver(t)

		f := flow("10.0.0.1:40000", "93.184.216.34:443")
		pid, found, err := r.Resolve(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(pid).To(Equal(int32(300)))
		pid, found, err = r.Resolve(f.Reverse())
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(pid).To(Equal(int32(300)))

		pid, found, err = r.Resolve(flow("127.0.0.1:6000", "127.0.0.1:5000"))
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(pid).To(Equal(int32(200)))
	})

	It("attributes IPv4 flows on dual-stack sockets", func() {
		root := fakeProcFS(
			map[int][2]string{
				1111: {"[::ffff:10.0.0.1]:8080", "[::ffff:10.0.0.2]:50000"},
				2222: {"[2001:db8::1]:8080", "[2001:db8::2]:50000"},
				3333: {"10.0.0.3:40000", "10.0.0.1:8080"},
			},
			map[int]map[int]string{
				100: {3: "socket:[1111]", 4: "socket:[2222]"},
				200: {5: "socket:[3333]"},
			})
		t := NewProcFS(root)
		defer t.Close()
		r := NewResolver(t)

		pid, found, err := r.Resolve(flow("10.0.0.2:50000", "10.0.0.1:8080"))
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(pid).To(Equal(int32(100)))
		Expect(t.inodes).To(HaveLen(2))
		Expect(t.inodes).To(HaveKey(uint64(1111)))
		Expect(t.inodes).To(HaveKey(uint64(3333)))

		pid, found, err = r.Resolve(flow("10.0.0.3:40000", "10.0.0.1:8080"))
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(pid).To(Equal(int32(200)))
	})

	It("reports sockets with their fds", func() {
		root := fakeProcFS(
			map[int][2]string{2222: {"127.0.0.1:5000", "127.0.0.1:6000"}},
			map[int]map[int]string{200: {0: "/dev/null", 4: "socket:[2222]", 5: "socket:[31337]"}})
		t := NewProcFS(root)
		defer t.Close()
		_, err := t.Pids()
		Expect(err).NotTo(HaveOccurred())
		var socks []api.ProcessSocket
		Expect(t.Sockets(200, func(s api.ProcessSocket) bool {
			socks = append(socks, s)
			return true
		})).To(Succeed())
		Expect(socks).To(ConsistOf(sock(200, "127.0.0.1:5000", "127.0.0.1:6000")))
		Expect(socks[0].FD).To(Equal(4))

		Expect(t.Sockets(12345, func(api.ProcessSocket) bool { return true })).NotTo(Succeed())
	})

	It("doesn't find unowned flows", func() {
		root := fakeProcFS(
			map[int][2]string{2222: {"127.0.0.1:5000", "127.0.0.1:6000"}},
			map[int]map[int]string{200: {4: "socket:[2222]"}})
		t := NewProcFS(root)
		defer t.Close()
		pid, found, err := NewResolver(t).Resolve(flow("127.0.0.1:5000", "127.0.0.1:6001"))
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeFalse())
		Expect(pid).To(BeZero())
	})

	It("grows its socket table buffer", func() {
		sockets := map[int][2]string{}
		for ino := 1; ino <= 500; ino++ {
			sockets[ino] = [2]string{
				fmt.Sprintf("10.0.%d.%d:%d", ino/250, ino%250, 1000+ino),
				"10.1.1.1:443",
			}
		}
		root := fakeProcFS(sockets, map[int]map[int]string{77: {3: "socket:[499]"}})
		t := NewProcFS(root)
		defer t.Close()
		pid, found, err := NewResolver(t).Resolve(flow("10.1.1.1:443", "10.0.1.249:1499"))
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(pid).To(Equal(int32(77)))
		Expect(t.inodes).To(HaveLen(500))
		Expect(t.tcp.Cap()).To(BeNumerically(">", os.Getpagesize()))
	})

	It("fails without a socket table", func() {
		t := NewProcFS(tempDir())
		defer t.Close()
		_, err := t.Pids()
		Expect(err).To(HaveOccurred())
	})

	It("attributes a live connection of this very process", func() {
		f, done := loopbackFlow("127.0.0.1:0")
		defer done()
		t := NewProcFS("/proc")
		defer t.Close()
		pid, found, err := NewResolver(t).Resolve(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(pid).To(Equal(int32(os.Getpid())))

		exe, err := ExecutablePath(pid)
		Expect(err).NotTo(HaveOccurred())
		self, err := os.Executable()
		Expect(err).NotTo(HaveOccurred())
		Expect(exe).To(Equal(self))
	})

	It("finds both ends of a connection to a dual-stack listener", func() {
		f, done := loopbackFlow(":0")
		defer done()
		t := NewProcFS("/proc")
		defer t.Close()
		_, err := t.Pids()
		Expect(err).NotTo(HaveOccurred())
		var socks []api.ProcessSocket
		Expect(t.Sockets(int32(os.Getpid()), func(s api.ProcessSocket) bool {
			if s.Matches(f) {
				socks = append(socks, s)
			}
			return true
		})).To(Succeed())
		Expect(socks).To(HaveLen(2)) // dialing end in net/tcp, accepted end in net/tcp6.
	})

})
