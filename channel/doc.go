/*
Package channel connects the capture tool to its companion process.

The capture tool side is a [Channel] which sends encoded packet records as
binary websocket messages, stamping each message with the next message ID.
Sending never blocks: messages are queued for a single writer goroutine, and
messages that don't fit into the bounded queue are dropped and counted. A slow
companion thus only costs packets. When the companion closes the connection,
or the transport fails, the channel becomes invalidated; this is the capture
tool's signal to stop.

The companion side is a [Listener] accepting capture tool connections as
[Receiver] objects. Closing a Receiver gracefully closes the websocket, which
in turn invalidates the capture tool's Channel.

Endpoints are named in one of these forms:

  - "ws://host:port/path" or "wss://host:port/path",
  - "unix:/path/to/socket" or simply "/path/to/socket",
  - a bare name such as "procshark", which maps to a unix domain socket
    "procshark.sock" inside the user's runtime directory.
*/
package channel
