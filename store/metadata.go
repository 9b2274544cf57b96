// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package store

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Metadata keys describing packets.
const (
	MetaProtocol    = "protocol"
	MetaSource      = "src"
	MetaDestination = "dst"
	MetaSummary     = "summary"
)

// LinkType of all stored packets.
const LinkType = layers.LinkTypeEthernet

// DescribePacket returns the metadata describing the packet: its protocol, its
// source and destination, and a short summary.
func DescribePacket(data []byte, linkType layers.LinkType) map[string]string {
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})
	var src, dst net.IP
	network := ""
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		src, dst = ip.SrcIP, ip.DstIP
		network = "IPv4"
	case *layers.IPv6:
		src, dst = ip.SrcIP, ip.DstIP
		network = "IPv6"
	}
	md := map[string]string{}
	switch t := packet.TransportLayer().(type) {
	case *layers.TCP:
		md[MetaProtocol] = "TCP"
		md[MetaSource] = hostPort(src, int(t.SrcPort))
		md[MetaDestination] = hostPort(dst, int(t.DstPort))
		md[MetaSummary] = fmt.Sprintf("%s > %s [%s] seq %d ack %d len %d",
			md[MetaSource], md[MetaDestination], tcpFlags(t), t.Seq, t.Ack, len(t.Payload))
		return md
	case *layers.UDP:
		md[MetaProtocol] = "UDP"
		md[MetaSource] = hostPort(src, int(t.SrcPort))
		md[MetaDestination] = hostPort(dst, int(t.DstPort))
		md[MetaSummary] = fmt.Sprintf("%s > %s len %d",
			md[MetaSource], md[MetaDestination], len(t.Payload))
		return md
	}
	if network != "" {
		md[MetaProtocol] = network
		md[MetaSource] = src.String()
		md[MetaDestination] = dst.String()
		if l := packet.Layers(); len(l) > 0 {
			md[MetaSummary] = l[len(l)-1].LayerType().String()
		}
		return md
	}
	if l := packet.Layers(); len(l) > 0 {
		top := l[len(l)-1].LayerType()
		if top == gopacket.LayerTypeDecodeFailure && len(l) > 1 {
			top = l[len(l)-2].LayerType()
		}
		md[MetaProtocol] = top.String()
		md[MetaSummary] = top.String()
	}
	return md
}

func hostPort(ip net.IP, port int) string {
	if ip == nil {
		return strconv.Itoa(port)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

// tcpFlags renders the TCP flags that are set, tcpdump-style.
func tcpFlags(t *layers.TCP) string {
	var flags strings.Builder
	for _, f := range []struct {
		set  bool
		flag byte
	}{
		{t.SYN, 'S'}, {t.FIN, 'F'}, {t.RST, 'R'}, {t.PSH, 'P'}, {t.URG, 'U'}, {t.ACK, '.'},
	} {
		if f.set {
			flags.WriteByte(f.flag)
		}
	}
	if flags.Len() == 0 {
		return "none"
	}
	return flags.String()
}
