/*
Package attribution maps the 4-tuple of a captured TCP/IPv4 packet to the
process owning the socket at either end of the flow.

There is no caching whatsoever: every lookup scans the live process and socket
tables of the OS anew, using a [Table]. This costs O(processes × descriptors)
per lookup, but never attributes a packet to a process that closed its socket
or even exited in the meantime.

Two tables are available: [ProcFS] reads /proc directly (Linux only) into
scratch regions that get reused from lookup to lookup, while [PSUtil] relies on
gopsutil and thus works on other platforms too.

A [Resolver] and its [Table] must only be used by a single goroutine.
*/
package attribution
