// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// ErrListenerClosed is returned by Listener.Accept after the listener has
// been closed.
var ErrListenerClosed = errors.New("channel listener closed")

// Listener accepts capture tool connections on a channel endpoint.
type Listener struct {
	ep       *endpoint
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	conns     chan *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// Listen starts listening on the channel endpoint with the given name.
func Listen(name string) (*Listener, error) {
	ep, err := parseEndpoint(name)
	if err != nil {
		return nil, err
	}
	ln, err := ep.listen()
	if err != nil {
		return nil, fmt.Errorf("cannot listen on channel %s: %w", ep, err)
	}
	l := &Listener{
		ep: ep,
		ln: ln,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		conns: make(chan *websocket.Conn),
		done:  make(chan struct{}),
	}
	l.server = &http.Server{
		Handler:           http.HandlerFunc(l.upgrade),
		ReadHeaderTimeout: DefaultHandshakeTimeout,
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("channel listener failed: %s", err.Error())
		}
	}()
	log.Debugf("listening on channel %s", ep)
	return l, nil
}

// Endpoint returns the name capture tools need to connect to this listener.
// In case of TCP endpoints this includes the actually bound port.
func (l *Listener) Endpoint() string {
	if l.ep.socket != "" {
		return "unix:" + l.ep.socket
	}
	return "ws://" + l.ln.Addr().String() + "/"
}

// upgrade switches incoming HTTP requests to websockets and hands them over
// to Accept.
func (l *Listener) upgrade(w http.ResponseWriter, req *http.Request) {
	conn, err := l.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Errorf("channel websocket upgrade failed: %s", err.Error())
		return
	}
	select {
	case l.conns <- conn:
	case <-l.done:
		conn.Close()
	}
}

// Accept waits for the next capture tool to connect, returning a Receiver
// for it.
func (l *Listener) Accept(ctx context.Context) (*Receiver, error) {
	select {
	case conn := <-l.conns:
		log.Debugf("capture tool connected from %q", conn.RemoteAddr().String())
		return newReceiver(conn), nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops listening, removing the endpoint's unix domain socket, if any.
// Already accepted Receivers are not affected.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.server.Close()
		if l.ep.socket != "" {
			if rerr := os.Remove(l.ep.socket); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
				err = rerr
			}
		}
	})
	return err
}
