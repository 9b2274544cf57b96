// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package procshark

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"
)

// CaptureOptions describe a set of options giving more detailed control over
// how to capture network traffic from a network interface.
type CaptureOptions struct {
	// Maximum number of octets to capture per packet; defaults to
	// DefaultSnapLen if left zero.
	SnapLen int
	// Upper bound for blocking while waiting for the next packet; defaults to
	// DefaultReadTimeout if left zero.
	ReadTimeout time.Duration
	// Packet capture filter expression, defaults to no filtering. For its
	// syntax, please refer to:
	// https://www.tcpdump.org/manpages/pcap-filter.7.html
	Filter string
	// Kind of socket table to attribute flows with, see attribution.NewTable;
	// defaults to the most efficient table available.
	Table string
}

// withDefaults returns a copy of the options with all zero settings replaced
// by their defaults.
func (o *CaptureOptions) withDefaults() CaptureOptions {
	opts := CaptureOptions{}
	if o != nil {
		opts = *o
	}
	if opts.SnapLen <= 0 {
		opts.SnapLen = DefaultSnapLen
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	return opts
}

// CaptureOpenError reports failing to start capturing from a network
// interface, such as when the interface doesn't exist or when lacking the
// required privileges.
type CaptureOpenError struct {
	Interface string
	Err       error
}

func (e *CaptureOpenError) Error() string {
	return fmt.Sprintf("cannot capture from network interface %q: %s", e.Interface, e.Err.Error())
}

func (e *CaptureOpenError) Unwrap() error { return e.Err }

// Source produces the captured packets of a single network interface, one
// packet at a time. A Source must be driven by only a single CaptureSession.
// *pcap.Handle is a Source.
type Source interface {
	// ReadPacketData returns the next captured packet. The data is only
	// valid until the next call.
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
	// LinkType returns the link layer type of the captured packets.
	LinkType() layers.LinkType
	// Close stops capturing and releases all resources.
	Close()
}

// OpenCapture opens a live, non-promiscuous capture on the named network
// interface. Failing to open the capture is reported as a *CaptureOpenError;
// there's no retry.
func OpenCapture(nif string, opts *CaptureOptions) (Source, error) {
	o := opts.withDefaults()
	log.Debugf("opening capture on network interface %q, snaplen %d, timeout %s",
		nif, o.SnapLen, o.ReadTimeout)
	handle, err := pcap.OpenLive(nif, int32(o.SnapLen), false, o.ReadTimeout)
	if err != nil {
		return nil, &CaptureOpenError{Interface: nif, Err: err}
	}
	if o.Filter != "" {
		if err := handle.SetBPFFilter(o.Filter); err != nil {
			handle.Close()
			return nil, &CaptureOpenError{
				Interface: nif,
				Err:       fmt.Errorf("invalid filter %q: %w", o.Filter, err),
			}
		}
	}
	return handle, nil
}

// PacketHandler handles the packets captured by a CaptureSession. The data
// passed is only valid for the duration of the call.
type PacketHandler interface {
	HandlePacket(data []byte, ci gopacket.CaptureInfo)
}

// CaptureSession gives control over an individual capture worker.
type CaptureSession struct {
	src      Source
	stop     chan struct{}
	stopOnce sync.Once
	// Signals that the capture worker finally has ended.
	done    chan struct{}
	packets atomic.Uint64
}

// StartCapture starts a new capture worker reading packets from the source
// and passing them to the handler, until the session gets stopped or the
// source fails. The session takes ownership of the source.
func StartCapture(src Source, handler PacketHandler) *CaptureSession {
	cs := &CaptureSession{
		src:  src,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go cs.capture(handler)
	return cs
}

// capture is the capture worker pulling packets from the source until told
// to stop. Read timeouts only serve to check for being stopped.
func (cs *CaptureSession) capture(handler PacketHandler) {
	defer close(cs.done)
	for {
		select {
		case <-cs.stop:
			return
		default:
		}
		data, ci, err := cs.src.ReadPacketData()
		switch {
		case err == nil:
			cs.packets.Add(1)
			handler.HandlePacket(data, ci)
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF) || errors.Is(err, pcap.NextErrorNoMorePackets):
			log.Debug("capture source exhausted")
			return
		default:
			select {
			case <-cs.stop:
			default:
				log.Errorf("capture failed: %s", err.Error())
			}
			return
		}
	}
}

// Packets returns the number of packets captured so far.
func (cs *CaptureSession) Packets() uint64 {
	return cs.packets.Load()
}

// Done returns a channel that gets closed when the capture worker has ended.
func (cs *CaptureSession) Done() <-chan struct{} {
	return cs.done
}

// Stop the capture worker, wait for it to terminate, and then close the
// source. Stop is idempotent.
func (cs *CaptureSession) Stop() {
	cs.stopOnce.Do(func() {
		close(cs.stop)
		<-cs.done
		cs.src.Close()
	})
}

// Wait for the capture worker to terminate, without initiating it. See also
// Stop().
func (cs *CaptureSession) Wait() {
	<-cs.done
}
