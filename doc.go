/*
Package procshark captures live network traffic and attributes each captured
packet to the executable of the OS process owning the packet's flow. The
attributed packets are then immediately streamed as records over a channel to
a companion process, which stores them for later inspection.

Attribution works only for TCP over IPv4: for each such packet the process and
socket tables of the OS are scanned anew, without any caching, to find the
socket matching the packet's flow in either direction. Packets for which no
owning socket can be found are marked "(unknown TCP)", all other packets are
marked "(unknown other)".

A [Sniffer] sequences connecting to the companion's channel, starting captures
on one or more network interfaces, and finally stopping when the companion
closes the channel:

	s := procshark.NewSniffer(nil)
	if err := s.Connect("procshark"); err != nil {
		os.Exit(1)
	}
	if err := s.Capture("eth0"); err != nil {
		os.Exit(1)
	}
	_ = s.Wait(context.Background())

Each capture runs in its own capture worker, which owns its attribution
resolver and scratch memory; only the channel is shared between workers.
*/
package procshark
