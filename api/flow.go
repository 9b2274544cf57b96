// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// This data model describes transport flows as seen in captured packets, and
// the sockets of processes these flows get attributed to. Only IPv4 endpoints
// take part in attribution.

package api

import (
	"fmt"
	"net/netip"
)

// Attribution sentinels used in place of an executable path when a packet
// cannot be attributed to any process.
const (
	// UnknownTCP marks TCP/IPv4 packets for which no owning socket was found.
	UnknownTCP = "(unknown TCP)"
	// UnknownOther marks all packets other than TCP/IPv4 ones; these are
	// never attributed.
	UnknownOther = "(unknown other)"
)

// Flow is the 4-tuple of source and destination address and port of a
// transport flow, as seen in a single packet.
type Flow struct {
	Src netip.AddrPort
	Dst netip.AddrPort
}

// NewFlow returns the flow between the given IPv4 addresses and ports. The
// addresses are expected in network byte order, as found in IPv4 headers.
func NewFlow(src [4]byte, sport uint16, dst [4]byte, dport uint16) Flow {
	return Flow{
		Src: netip.AddrPortFrom(netip.AddrFrom4(src), sport),
		Dst: netip.AddrPortFrom(netip.AddrFrom4(dst), dport),
	}
}

// Reverse returns the same flow, but seen from the opposite direction.
func (f Flow) Reverse() Flow {
	return Flow{Src: f.Dst, Dst: f.Src}
}

// IsIPv4 returns true if both endpoints of the flow are IPv4 endpoints.
func (f Flow) IsIPv4() bool {
	return f.Src.Addr().Is4() && f.Dst.Addr().Is4()
}

// String renders the flow in "src > dst" notation.
func (f Flow) String() string {
	return fmt.Sprintf("%s > %s", f.Src, f.Dst)
}

// ProcessSocket describes a socket owned by a process, as found while
// scanning the process and socket tables of the OS. ProcessSockets are
// transient: they are only valid during the lookup that produced them.
type ProcessSocket struct {
	PID    int32          // owning process.
	FD     int            // file descriptor number in the owning process.
	Local  netip.AddrPort // local endpoint.
	Remote netip.AddrPort // remote endpoint.
}

// Matches returns true if this socket is one of the endpoints of the given
// flow, regardless of the flow's direction.
func (s ProcessSocket) Matches(f Flow) bool {
	return (s.Local == f.Src && s.Remote == f.Dst) ||
		(s.Local == f.Dst && s.Remote == f.Src)
}
