// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/siemens/procshark/wire"
	log "github.com/sirupsen/logrus"
)

// Channel is the capture tool's end of a channel to the companion process. It
// can safely be used by multiple capture workers simultaneously. Sending
// never blocks: messages are queued and then written by a single writer, so a
// busy companion only causes messages to be dropped.
type Channel struct {
	conn     *websocket.Conn
	endpoint string
	opts     Options

	m       sync.Mutex // serializes message ID assignment and queueing.
	nextID  uint64
	closing bool // queue closed, no more messages accepted.
	queue   chan *[]byte
	// Signals that the writer has finished.
	written chan struct{}

	cm        sync.Mutex // guards sending the close control message.
	closeSent bool

	sent    atomic.Uint64
	dropped atomic.Uint64

	invalidated    chan struct{}
	invalidateOnce sync.Once
	// Signals that the watcher has finished and the transport is closed, by
	// closing (sic!) this channel.
	closed chan struct{}
}

// frames recycles message buffers between Send and the writer.
var frames = sync.Pool{New: func() any { return new([]byte) }}

// Connect connects to the companion's channel endpoint with the given name,
// returning an error if the endpoint is unreachable. Options may be nil, so
// defaults apply.
func Connect(name string, opts *Options) (*Channel, error) {
	ep, err := parseEndpoint(name)
	if err != nil {
		return nil, err
	}
	o := opts.withDefaults()
	log.Debugf("connecting to channel %s, time limit %s", ep, o.HandshakeTimeout)
	wsd := &websocket.Dialer{
		NetDialContext:   ep.dialContext,
		HandshakeTimeout: o.HandshakeTimeout,
	}
	if ep.socket == "" {
		wsd.Proxy = http.ProxyFromEnvironment
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.HandshakeTimeout)
	defer cancel()
	conn, resp, err := wsd.DialContext(ctx, ep.url, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to channel %s: %w", ep, err)
	}
	log.Debugf("channel initial HTTP response status: %s", resp.Status)
	ch := &Channel{
		conn:        conn,
		endpoint:    ep.String(),
		opts:        o,
		nextID:      1,
		queue:       make(chan *[]byte, o.QueueLength),
		written:     make(chan struct{}),
		invalidated: make(chan struct{}),
		closed:      make(chan struct{}),
	}
	go ch.watch()
	go ch.write()
	return ch, nil
}

// Endpoint returns the description of the endpoint this channel is connected
// to.
func (ch *Channel) Endpoint() string {
	return ch.endpoint
}

// watch reads from the websocket in order to notice the peer closing the
// channel or the connection breaking; the companion never sends any data
// messages our way. Peer-initiated closes get acknowledged.
func (ch *Channel) watch() {
	defer close(ch.closed)
	for {
		_, _, err := ch.conn.ReadMessage()
		if err == nil {
			continue
		}
		if _, ok := err.(*websocket.CloseError); ok {
			if ch.sendClose() {
				log.Debug("companion closes channel, acknowledged close")
			} else {
				log.Debug("companion acknowledged channel close")
			}
		} else {
			log.Debugf("channel broken: %s", err.Error())
		}
		ch.conn.Close()
		ch.invalidate()
		return
	}
}

// sendClose sends a close control message, unless one was already sent
// before; it returns true if it actually sent the message.
func (ch *Channel) sendClose() bool {
	ch.cm.Lock()
	defer ch.cm.Unlock()
	if ch.closeSent {
		return false
	}
	ch.closeSent = true
	_ = ch.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ciao"),
		time.Now().Add(ch.opts.ControlTimeout))
	return true
}

func (ch *Channel) invalidate() {
	ch.invalidateOnce.Do(func() { close(ch.invalidated) })
}

// Invalidated returns a channel that gets closed as soon as this channel
// becomes unusable, either because the peer closed it or the connection
// broke.
func (ch *Channel) Invalidated() <-chan struct{} {
	return ch.invalidated
}

// Send queues the encoded frame to be sent as a single message, after
// stamping a copy of the frame's envelope with the next message ID. Message
// IDs are strictly increasing in the order of Send calls, starting with 1.
// Send neither blocks nor reports failures: frames that don't fit into the
// queue, or that are sent after the channel has been invalidated or closed,
// are silently dropped and only counted.
func (ch *Channel) Send(frame []byte) {
	ch.m.Lock()
	defer ch.m.Unlock()
	id := ch.nextID
	ch.nextID++
	if len(frame) < wire.EnvelopeLen {
		log.Errorf("dropping malformed frame of length %d", len(frame))
		ch.dropped.Add(1)
		return
	}
	if ch.closing {
		ch.dropped.Add(1)
		return
	}
	select {
	case <-ch.invalidated:
		ch.dropped.Add(1)
		return
	default:
	}
	msg := frames.Get().(*[]byte)
	*msg = append((*msg)[:0], frame...)
	wire.PutMessageID(*msg, id)
	select {
	case ch.queue <- msg:
	default:
		frames.Put(msg)
		ch.dropped.Add(1)
	}
}

// write is the single writer sending the queued messages, until the queue
// gets closed.
func (ch *Channel) write() {
	defer close(ch.written)
	for msg := range ch.queue {
		ch.writeMessage(*msg)
		frames.Put(msg)
	}
}

func (ch *Channel) writeMessage(msg []byte) {
	select {
	case <-ch.invalidated:
		ch.dropped.Add(1)
		return
	default:
	}
	if err := ch.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		// A failed write means a broken transport.
		log.Debugf("dropping message %d: %s", wire.ByteOrder.Uint64(msg), err.Error())
		ch.dropped.Add(1)
		ch.invalidate()
		return
	}
	ch.sent.Add(1)
}

// Sent returns the number of messages successfully sent so far.
func (ch *Channel) Sent() uint64 {
	return ch.sent.Load()
}

// Dropped returns the number of messages dropped so far.
func (ch *Channel) Dropped() uint64 {
	return ch.dropped.Load()
}

// Close gracefully closes this channel after the queued messages have been
// sent, and waits for the close to complete. The waiting is time limited to
// CloseTimeout, so a non-responsive companion won't block us forever: after
// this timeout, the underlying transport gets closed in any case. Close is
// idempotent.
func (ch *Channel) Close() {
	ch.m.Lock()
	if !ch.closing {
		ch.closing = true
		close(ch.queue)
	}
	ch.m.Unlock()
	timeout := time.NewTimer(CloseTimeout)
	defer timeout.Stop()
	select {
	case <-ch.written:
		if ch.sendClose() {
			log.Debug("initiated graceful channel close")
		}
		select {
		case <-ch.closed:
		case <-timeout.C:
			log.Debug("graceful channel close timeout; forced closed")
			ch.conn.Close()
			<-ch.closed
		}
	case <-timeout.C:
		log.Debug("sending queued messages timed out; forced closed")
		ch.conn.Close()
		<-ch.written
		<-ch.closed
	}
	ch.invalidate()
	log.Debugf("channel closed, %d messages sent, %d dropped", ch.Sent(), ch.Dropped())
}
