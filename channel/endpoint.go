// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoEndpoint is returned when trying to connect to or listen on an empty
// endpoint name.
var ErrNoEndpoint = errors.New("no channel endpoint name specified")

// endpoint describes where to find a channel: either a unix domain socket
// path, or a TCP host:port. url is the websocket URL to dial, which in case
// of a unix domain socket only serves the websocket handshake.
type endpoint struct {
	socket string
	host   string
	url    string
}

// RuntimeDir returns the directory where bare endpoint names get their unix
// domain sockets. This is $XDG_RUNTIME_DIR, if set, otherwise the temporary
// directory.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// SocketPath returns the unix domain socket path for the bare endpoint name.
func SocketPath(name string) string {
	return filepath.Join(RuntimeDir(), name+".sock")
}

// parseEndpoint turns an endpoint name into its dial and listen details.
func parseEndpoint(name string) (*endpoint, error) {
	switch {
	case name == "":
		return nil, ErrNoEndpoint
	case strings.HasPrefix(name, "ws://") || strings.HasPrefix(name, "wss://"):
		u, err := url.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("invalid channel endpoint %q: %w", name, err)
		}
		// Don't accept credentials, queries, and fragments.
		if u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
			return nil, fmt.Errorf("invalid channel endpoint %q: only host, port and path allowed", name)
		}
		if u.Path == "" {
			u.Path = "/"
		}
		return &endpoint{host: u.Host, url: u.String()}, nil
	case strings.HasPrefix(name, "unix:"):
		path := strings.TrimPrefix(name, "unix:")
		if path == "" {
			return nil, fmt.Errorf("invalid channel endpoint %q: missing socket path", name)
		}
		return unixEndpoint(path), nil
	case filepath.IsAbs(name):
		return unixEndpoint(name), nil
	case strings.ContainsRune(name, filepath.Separator):
		return nil, fmt.Errorf("invalid channel endpoint %q: relative socket paths not allowed", name)
	}
	return unixEndpoint(SocketPath(name)), nil
}

func unixEndpoint(path string) *endpoint {
	return &endpoint{socket: path, url: "ws://procshark/records"}
}

// String returns a human-readable description of this endpoint.
func (e *endpoint) String() string {
	if e.socket != "" {
		return "unix:" + e.socket
	}
	return e.url
}

// dialContext dials the endpoint's transport, regardless of what address the
// websocket dialer asks for.
func (e *endpoint) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	if e.socket != "" {
		return d.DialContext(ctx, "unix", e.socket)
	}
	return d.DialContext(ctx, network, addr)
}

// listen opens the endpoint's transport for accepting connections. Stale unix
// domain sockets get removed first.
func (e *endpoint) listen() (net.Listener, error) {
	if e.socket == "" {
		return net.Listen("tcp", e.host)
	}
	if err := os.Remove(e.socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cannot remove stale channel socket %q: %w", e.socket, err)
	}
	return net.Listen("unix", e.socket)
}
