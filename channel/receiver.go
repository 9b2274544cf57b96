// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Receiver is the companion's end of a channel, reading the frames sent by a
// single capture tool, with graceful handling of the closing procedure.
type Receiver struct {
	conn *websocket.Conn

	m       sync.Mutex // synchronizes access to the closing state.
	closing bool       // are we in the process of gracefully closing?
	// Signals that the websocket is closed, by closing (sic!) this channel.
	closed    chan struct{}
	closeOnce sync.Once
}

// ErrTextMessage is returned by Receiver.Read when the peer sent a text
// message instead of a binary frame.
var ErrTextMessage = errors.New("unexpected websocket text message received")

func newReceiver(conn *websocket.Conn) *Receiver {
	return &Receiver{
		conn:   conn,
		closed: make(chan struct{}),
	}
}

// RemoteAddr returns the address of the connected capture tool, if known.
func (r *Receiver) RemoteAddr() string {
	if addr := r.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Read reads the next frame. It correctly handles gracefully closing the
// websocket when the capture tool signals to do so. When the websocket has
// been gracefully closed, Read returns a *websocket.CloseError with the
// peer's close code and text.
func (r *Receiver) Read() ([]byte, error) {
	msgType, data, err := r.conn.ReadMessage()
	if err == nil {
		if msgType == websocket.BinaryMessage {
			return data, nil
		}
		return nil, ErrTextMessage
	}
	cerr, ok := err.(*websocket.CloseError)
	if !ok {
		r.markClosed()
		return nil, err
	}
	// If the peer started the close, then we need to acknowledge it;
	// otherwise, this is the acknowledgement of our own close and both sides
	// are done.
	r.m.Lock()
	defer r.m.Unlock()
	if !r.closing {
		r.closing = true
		log.Debug("capture tool closes channel, acknowledging close")
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ciao"),
			time.Now().Add(DefaultControlTimeout))
	} else {
		log.Debug("capture tool acknowledged channel close")
	}
	r.markClosed()
	return nil, cerr
}

// markClosed closes the underlying transport and signals so.
func (r *Receiver) markClosed() {
	r.closeOnce.Do(func() {
		r.conn.Close()
		close(r.closed)
	})
}

// Close gracefully closes the websocket, which tells the capture tool to
// stop capturing. Close then waits for the close to complete, which requires
// some other go routine to keep reading. The waiting is time limited to
// CloseTimeout, after which the underlying transport gets closed anyway.
func (r *Receiver) Close() {
	r.m.Lock()
	func() { // locked section
		defer r.m.Unlock()
		// Don't send a close control message when we're already gracefully
		// closing, regardless of which side started it.
		if !r.closing {
			r.closing = true
			log.Debug("initiating graceful channel close")
			_ = r.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ciao"),
				time.Now().Add(DefaultControlTimeout))
		}
	}()
	log.Debug("waiting for graceful channel close to be finished...")
	select {
	case <-time.After(CloseTimeout):
		log.Debug("graceful channel close timeout; forced closed")
		r.markClosed()
	case <-r.closed:
	}
	log.Debug("channel gracefully closed.")
}
