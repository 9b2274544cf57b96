// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package attribution

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"

	"github.com/siemens/procshark/api"
	"github.com/siemens/procshark/scratch"
	"golang.org/x/sys/unix"
)

// pidSlack is the number of additional process IDs we reserve room for,
// because processes might get created between counting and listing them.
const pidSlack = 64

// ProcFS is a socket table reading the process filesystem of a Linux host
// directly. It keeps its scratch memory from lookup to lookup, so a ProcFS
// must not be shared between goroutines.
type ProcFS struct {
	root    string
	dents   *scratch.Region[byte]  // getdents(2) buffer for the process list.
	fddents *scratch.Region[byte]  // getdents(2) buffer for per-process fds.
	pids    *scratch.Region[int32] // the current process list.
	tcp     *scratch.Region[byte]  // contents of net/tcp or net/tcp6.
	// TCP/IPv4 endpoints by socket inode number, for the current scan only,
	// including IPv4-mapped endpoints of dual-stack sockets.
	inodes map[uint64]endpoints
	link   [64]byte
}

// endpoints of a TCP socket.
type endpoints struct {
	local  netip.AddrPort
	remote netip.AddrPort
}

var _ Table = (*ProcFS)(nil)

func newProcFSTable() (Table, error) {
	if _, err := os.Stat("/proc/net/tcp"); err != nil {
		return nil, err
	}
	return NewProcFS("/proc"), nil
}

// NewProcFS returns a new socket table reading from the process filesystem
// mounted at root, usually "/proc".
func NewProcFS(root string) *ProcFS {
	return &ProcFS{
		root:    root,
		dents:   scratch.New[byte](0),
		fddents: scratch.New[byte](0),
		pids:    scratch.New[int32](0),
		tcp:     scratch.New[byte](0),
		inodes:  map[uint64]endpoints{},
	}
}

// Close releases the scratch memory of this table.
func (t *ProcFS) Close() error {
	t.dents.Release()
	t.fddents.Release()
	t.pids.Release()
	t.tcp.Release()
	return nil
}

// Pids starts a new scan: it snapshots the TCP socket tables and then
// returns the IDs of all processes in directory order. Similar to the
// two-step "ask for the size, then fetch" OS APIs, it first counts the
// processes, then makes sure the process list is large enough, and finally
// lists the processes again.
func (t *ProcFS) Pids() ([]int32, error) {
	if err := t.readTCP(); err != nil {
		return nil, err
	}
	fd, err := unix.Open(t.root, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: t.root, Err: err}
	}
	defer unix.Close(fd)

	count := 0
	if err := eachDirent(fd, t.dents, func(name string) bool {
		if _, ok := parsePid(name); ok {
			count++
		}
		return true
	}); err != nil {
		return nil, err
	}
	t.pids.EnsureLen(count + pidSlack)
	if _, err := unix.Seek(fd, 0, io.SeekStart); err != nil {
		return nil, err
	}
	pids := t.pids.Slice()
	n := 0
	if err := eachDirent(fd, t.dents, func(name string) bool {
		pid, ok := parsePid(name)
		if !ok {
			return true
		}
		if n == len(pids) {
			return false
		}
		pids[n] = pid
		n++
		return true
	}); err != nil {
		return nil, err
	}
	return pids[:n], nil
}

// Sockets calls fn for each TCP/IPv4 socket open in the process pid,
// including dual-stack sockets carrying IPv4 connections.
func (t *ProcFS) Sockets(pid int32, fn func(api.ProcessSocket) bool) error {
	dir := filepath.Join(t.root, strconv.FormatInt(int64(pid), 10), "fd")
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return &os.PathError{Op: "open", Path: dir, Err: err}
	}
	defer unix.Close(fd)
	return eachDirent(fd, t.fddents, func(name string) bool {
		n, err := unix.Readlinkat(fd, name, t.link[:])
		if err != nil {
			return true
		}
		ino, ok := socketInode(t.link[:n])
		if !ok {
			return true
		}
		ep, ok := t.inodes[ino]
		if !ok {
			// some other kind of socket.
			return true
		}
		fdno, _ := strconv.Atoi(name)
		return fn(api.ProcessSocket{
			PID:    pid,
			FD:     fdno,
			Local:  ep.local,
			Remote: ep.remote,
		})
	})
}

// readTCP reads the TCP/IPv4 and TCP/IPv6 socket tables and indexes their
// sockets by inode number. IPv6 sockets only get indexed when both their
// endpoints are IPv4-mapped, as is the case for IPv4 connections on
// dual-stack sockets. A missing net/tcp6 table means IPv6 is disabled.
func (t *ProcFS) readTCP() error {
	clear(t.inodes)
	for _, table := range []string{"tcp", "tcp6"} {
		contents, err := t.readTable(filepath.Join(t.root, "net", table))
		if err != nil {
			if table == "tcp6" && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		t.indexTCP(contents)
	}
	return nil
}

// readTable reads a complete socket table into the scratch region, growing
// it and reading again from the start as long as the table doesn't fit. The
// returned contents are only valid until the next readTable.
func (t *ProcFS) readTable(path string) ([]byte, error) {
	for {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		buf := t.tcp.Bytes()
		n, err := io.ReadFull(f, buf)
		f.Close()
		switch {
		case err == nil:
			// Exactly filled up, so there might be more.
			t.tcp.Ensure(2 * t.tcp.Cap())
			continue
		case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
			return buf[:n], nil
		default:
			return nil, err
		}
	}
}

// indexTCP parses the lines of a net/tcp or net/tcp6 table, skipping its
// header line.
func (t *ProcFS) indexTCP(table []byte) {
	if nl := bytes.IndexByte(table, '\n'); nl >= 0 {
		table = table[nl+1:]
	}
	for len(table) > 0 {
		var line []byte
		if nl := bytes.IndexByte(table, '\n'); nl >= 0 {
			line, table = table[:nl], table[nl+1:]
		} else {
			line, table = table, nil
		}
		// sl local_address rem_address st tx_queue:rx_queue tr:tm->when
		// retrnsmt uid timeout inode ...
		fields := bytes.Fields(line)
		if len(fields) < 10 {
			continue
		}
		ino, err := strconv.ParseUint(string(fields[9]), 10, 64)
		if err != nil || ino == 0 {
			continue
		}
		local, ok := parseHexAddrPort(fields[1])
		if !ok {
			continue
		}
		remote, ok := parseHexAddrPort(fields[2])
		if !ok {
			continue
		}
		t.inodes[ino] = endpoints{local: local, remote: remote}
	}
}

// parseHexAddrPort parses an "AABBCCDD:PPPP" endpoint from a net/tcp table,
// or a 32 hex digit address endpoint from a net/tcp6 table. Addresses are
// printed as host-order 32bit words of the network-order address, the port
// as a host-order 16bit number. IPv6 endpoints are only accepted when they
// are IPv4-mapped, and then returned unmapped.
func parseHexAddrPort(b []byte) (netip.AddrPort, bool) {
	colon := len(b) - 5
	if colon != 8 && colon != 32 || b[colon] != ':' {
		return netip.AddrPort{}, false
	}
	var ip [16]byte
	for w := 0; w < colon/8; w++ {
		word, err := strconv.ParseUint(string(b[8*w:8*w+8]), 16, 32)
		if err != nil {
			return netip.AddrPort{}, false
		}
		binary.NativeEndian.PutUint32(ip[4*w:], uint32(word))
	}
	port, err := strconv.ParseUint(string(b[colon+1:]), 16, 16)
	if err != nil {
		return netip.AddrPort{}, false
	}
	addr := netip.AddrFrom16(ip).Unmap()
	if colon == 8 {
		addr = netip.AddrFrom4([4]byte(ip[:4]))
	} else if !addr.Is4() {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, uint16(port)), true
}

// socketInode returns the inode number from a "socket:[12345]" fd link.
func socketInode(link []byte) (uint64, bool) {
	const prefix = "socket:["
	if len(link) < len(prefix)+2 || string(link[:len(prefix)]) != prefix || link[len(link)-1] != ']' {
		return 0, false
	}
	ino, err := strconv.ParseUint(string(link[len(prefix):len(link)-1]), 10, 64)
	return ino, err == nil
}

// parsePid returns the process ID for a numeric directory entry name.
func parsePid(name string) (int32, bool) {
	if name == "" || name[0] < '0' || name[0] > '9' {
		return 0, false
	}
	pid, err := strconv.ParseInt(name, 10, 32)
	return int32(pid), err == nil
}

// eachDirent reads the entries of the directory open at fd using the scratch
// region as the getdents(2) buffer, calling fn for each entry name except
// "." and "..", until fn returns false.
func eachDirent(fd int, buf *scratch.Region[byte], fn func(name string) bool) error {
	var names []string
	for {
		n, err := unix.Getdents(fd, buf.Bytes())
		if err != nil {
			if err == unix.EINVAL {
				// An entry doesn't fit, so make room and carry on.
				buf.Ensure(2 * buf.Cap())
				continue
			}
			return err
		}
		if n <= 0 {
			return nil
		}
		_, _, names = unix.ParseDirent(buf.Bytes()[:n], -1, names[:0])
		for _, name := range names {
			if !fn(name) {
				return nil
			}
		}
	}
}
