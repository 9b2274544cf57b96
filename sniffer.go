// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package procshark

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/siemens/procshark/attribution"
	"github.com/siemens/procshark/channel"
	log "github.com/sirupsen/logrus"
)

// State of a Sniffer.
type State int

// The states a Sniffer passes through, in this order.
const (
	Uninitialized State = iota
	ChannelConnecting
	ChannelReady
	Capturing
	Stopping
	Terminated
)

var stateNames = [...]string{
	Uninitialized:     "uninitialized",
	ChannelConnecting: "connecting channel",
	ChannelReady:      "channel ready",
	Capturing:         "capturing",
	Stopping:          "stopping",
	Terminated:        "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Conn is the sending side of a channel, as used by a Sniffer;
// *channel.Channel is a Conn.
type Conn interface {
	Sender
	Invalidated() <-chan struct{}
	Dropped() uint64
	Close()
}

// SnifferOptions allow some degree of control over a Sniffer's channel and
// captures.
type SnifferOptions struct {
	Capture CaptureOptions
	Channel channel.Options
}

// Sniffer sequences connecting to the companion's channel, capturing from
// network interfaces, and stopping once the companion invalidates the
// channel. A Sniffer is the single owner of the channel; it hands it to all
// its capture workers.
type Sniffer struct {
	opts SnifferOptions

	m        sync.Mutex
	state    State
	conn     Conn
	sessions []*CaptureSession
	nifs     []string // network interface names of the sessions.
	handlers []*Attributor

	// Hooks for connecting channels, opening capture sources and socket
	// tables.
	dial       func(name string, opts *channel.Options) (Conn, error)
	openSource func(nif string, opts *CaptureOptions) (Source, error)
	newTable   func(kind string) (attribution.Table, error)
}

// NewSniffer returns a new Sniffer in Uninitialized state. Options may be
// nil, so defaults apply.
func NewSniffer(opts *SnifferOptions) *Sniffer {
	s := &Sniffer{
		dial: func(name string, opts *channel.Options) (Conn, error) {
			return channel.Connect(name, opts)
		},
		openSource: OpenCapture,
		newTable:   attribution.NewTable,
	}
	if opts != nil {
		s.opts = *opts
	}
	return s
}

// State returns the current state of this Sniffer.
func (s *Sniffer) State() State {
	s.m.Lock()
	defer s.m.Unlock()
	return s.state
}

// Connect connects to the companion's channel with the given name. Failing
// to connect is fatal: the Sniffer then is Terminated. While connecting, the
// Sniffer can be queried and stopped.
func (s *Sniffer) Connect(name string) error {
	s.m.Lock()
	if s.state != Uninitialized {
		state := s.state
		s.m.Unlock()
		return fmt.Errorf("cannot connect channel when %s", state)
	}
	if name == "" {
		s.state = Terminated
		s.m.Unlock()
		return channel.ErrNoEndpoint
	}
	s.state = ChannelConnecting
	s.m.Unlock()

	conn, err := s.dial(name, &s.opts.Channel)

	s.m.Lock()
	defer s.m.Unlock()
	if err != nil {
		s.state = Terminated
		return err
	}
	if s.state != ChannelConnecting {
		conn.Close()
		return fmt.Errorf("channel %q connected after stop", name)
	}
	s.conn = conn
	s.state = ChannelReady
	log.Debugf("channel %q ready", name)
	return nil
}

// Capture starts capturing from the named network interface, in a capture
// worker of its own. Capture can be called once per network interface.
// Failing to open the network interface for capturing is reported as a
// *CaptureOpenError, leaving the Sniffer's state unchanged.
func (s *Sniffer) Capture(nif string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.state != ChannelReady && s.state != Capturing {
		return fmt.Errorf("cannot capture when %s", s.state)
	}
	src, err := s.openSource(nif, &s.opts.Capture)
	if err != nil {
		return err
	}
	table, err := s.newTable(s.opts.Capture.Table)
	if err != nil {
		src.Close()
		return err
	}
	handler := NewAttributor(src.LinkType(), table, s.conn)
	s.handlers = append(s.handlers, handler)
	s.sessions = append(s.sessions, StartCapture(src, handler))
	s.nifs = append(s.nifs, nif)
	s.state = Capturing
	log.Infof("capturing from network interface %q", nif)
	return nil
}

// Wait blocks until the companion invalidates the channel, all capture
// workers started so far have ended on their own, or the context gets
// cancelled, and then stops. In case of cancellation, Wait returns the
// context's error.
func (s *Sniffer) Wait(ctx context.Context) error {
	s.m.Lock()
	conn := s.conn
	state := s.state
	sessions := append([]*CaptureSession{}, s.sessions...)
	s.m.Unlock()
	if state != ChannelReady && state != Capturing {
		return fmt.Errorf("cannot wait when %s", state)
	}
	var err error
	select {
	case <-conn.Invalidated():
		log.Info("channel invalidated, stopping")
	case <-allEnded(sessions):
		log.Info("all captures ended, stopping")
	case <-ctx.Done():
		err = ctx.Err()
		log.Debugf("stopping: %s", err.Error())
	}
	s.Stop()
	return err
}

// allEnded returns a channel that gets closed when all the capture workers
// of the sessions have ended. Without any sessions, the channel never gets
// closed.
func allEnded(sessions []*CaptureSession) <-chan struct{} {
	if len(sessions) == 0 {
		return nil
	}
	ended := make(chan struct{})
	go func() {
		for _, cs := range sessions {
			<-cs.Done()
		}
		close(ended)
	}()
	return ended
}

// Stop stops and joins all capture workers and then closes the channel.
// Stop is idempotent.
func (s *Sniffer) Stop() {
	s.m.Lock()
	defer s.m.Unlock()
	switch s.state {
	case Stopping, Terminated:
		return
	case Uninitialized, ChannelConnecting:
		s.state = Terminated
		return
	}
	s.state = Stopping
	for idx, cs := range s.sessions {
		cs.Stop()
		log.Infof("captured %d packets from network interface %q", cs.Packets(), s.nifs[idx])
	}
	for _, h := range s.handlers {
		h.Close()
	}
	s.conn.Close()
	if dropped := s.conn.Dropped(); dropped > 0 {
		log.Debugf("dropped %d packet records", dropped)
	}
	s.state = Terminated
}

// IsCaptureOpenError returns true if err is or wraps a *CaptureOpenError.
func IsCaptureOpenError(err error) bool {
	var cerr *CaptureOpenError
	return errors.As(err, &cerr)
}
