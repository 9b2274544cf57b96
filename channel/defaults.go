// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package channel

import "time"

const (
	// DefaultHandshakeTimeout specifies the time limit for establishing a
	// channel connection, including the websocket handshake.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultControlTimeout specifies the time limit for sending a control
	// message, such as when closing a channel.
	DefaultControlTimeout = 1 * time.Second
	// DefaultQueueLength is the default number of messages waiting to be
	// sent, before further messages get dropped.
	DefaultQueueLength = 1024
	// CloseTimeout is the upper bound for gracefully closing a channel
	// before forcefully closing the underlying transport.
	CloseTimeout = 10 * time.Second
)

// Options allow some degree of control over connecting and sending.
type Options struct {
	// HandshakeTimeout limits the connection phase, including the websocket
	// handshake. Defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// ControlTimeout limits sending a single control message. Defaults to
	// DefaultControlTimeout.
	ControlTimeout time.Duration
	// QueueLength limits the number of messages waiting to be sent while the
	// companion is busy. Defaults to DefaultQueueLength.
	QueueLength int
}

// withDefaults returns a copy of the options with all zero settings replaced
// by their defaults.
func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = DefaultControlTimeout
	}
	if opts.QueueLength <= 0 {
		opts.QueueLength = DefaultQueueLength
	}
	return opts
}
