// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package attribution

import (
	"net/netip"

	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/siemens/procshark/api"
)

// PSUtil is a socket table built on gopsutil. It is less efficient than
// ProcFS, but portable.
type PSUtil struct{}

var _ Table = (*PSUtil)(nil)

// NewPSUtil returns a new gopsutil-based socket table.
func NewPSUtil() *PSUtil {
	return &PSUtil{}
}

// Pids returns the IDs of all live processes.
func (t *PSUtil) Pids() ([]int32, error) {
	return process.Pids()
}

// Sockets calls fn for each connected TCP/IPv4 socket of the process pid,
// including IPv4-mapped connections on dual-stack TCP/IPv6 sockets.
func (t *PSUtil) Sockets(pid int32, fn func(api.ProcessSocket) bool) error {
	conns, err := net.ConnectionsPid("tcp", pid)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		local, ok := addrPort(conn.Laddr)
		if !ok {
			continue
		}
		remote, ok := addrPort(conn.Raddr)
		if !ok {
			continue
		}
		if !fn(api.ProcessSocket{
			PID:    pid,
			FD:     int(conn.Fd),
			Local:  local,
			Remote: remote,
		}) {
			break
		}
	}
	return nil
}

// addrPort converts a gopsutil address into an IPv4 endpoint.
func addrPort(a net.Addr) (netip.AddrPort, bool) {
	addr, err := netip.ParseAddr(a.IP)
	if err != nil {
		return netip.AddrPort{}, false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, uint16(a.Port)), true
}
