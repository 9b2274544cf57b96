// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package procshark

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/siemens/procshark/api"
	"github.com/siemens/procshark/attribution"
	"github.com/siemens/procshark/wire"
	log "github.com/sirupsen/logrus"
)

// Sender sends encoded frames; *channel.Channel is a Sender.
type Sender interface {
	Send(frame []byte)
}

// Attributor attributes packets to the executable of the process owning
// them. It is not safe for concurrent use, so each capture worker needs its
// own Attributor.
type Attributor struct {
	linkType layers.LinkType
	resolver *attribution.Resolver
	enc      *wire.Encoder
	sender   Sender
}

// NewAttributor returns a packet handler that attributes the packets of the
// given link type using its own resolver working on the specified socket
// table, and then sends the encoded records.
func NewAttributor(linkType layers.LinkType, table attribution.Table, sender Sender) *Attributor {
	return &Attributor{
		linkType: linkType,
		resolver: attribution.NewResolver(table),
		enc:      wire.NewEncoder(),
		sender:   sender,
	}
}

// HandlePacket attributes and encodes the captured packet, and then sends it.
func (a *Attributor) HandlePacket(data []byte, ci gopacket.CaptureInfo) {
	rec := wire.Record{
		Timestamp: ci.Timestamp,
		Length:    ci.Length,
		Data:      data,
		Path:      a.Attribute(data),
	}
	a.sender.Send(a.enc.Encode(&rec))
}

// Attribute returns the executable path of the process owning the packet's
// TCP/IPv4 flow. Otherwise, it returns api.UnknownTCP for TCP/IPv4 packets
// without an owner, and api.UnknownOther for anything else.
func (a *Attributor) Attribute(data []byte) string {
	packet := gopacket.NewPacket(data, a.linkType, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})
	ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok || ip.Protocol != layers.IPProtocolTCP {
		return api.UnknownOther
	}
	tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok || len(ip.SrcIP) != 4 || len(ip.DstIP) != 4 {
		return api.UnknownTCP
	}
	flow := api.NewFlow(
		[4]byte(ip.SrcIP), uint16(tcp.SrcPort),
		[4]byte(ip.DstIP), uint16(tcp.DstPort))
	pid, found, err := a.resolver.Resolve(flow)
	if err != nil {
		log.Debugf("cannot attribute flow %s: %s", flow, err.Error())
		return api.UnknownTCP
	}
	if !found {
		return api.UnknownTCP
	}
	path, err := attribution.ExecutablePath(pid)
	if err != nil || path == "" {
		log.Debugf("cannot determine executable of process %d", pid)
		return api.UnknownTCP
	}
	return path
}

// Close releases the attributor's resources.
func (a *Attributor) Close() {
	_ = a.resolver.Close()
	a.enc.Close()
}
