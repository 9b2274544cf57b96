// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package procshark

import "time"

const (
	// DefaultSnapLen is the default maximum number of octets captured per
	// packet.
	DefaultSnapLen = 65535
	// DefaultReadTimeout bounds how long a capture worker blocks waiting for
	// the next packet before checking whether it should stop.
	DefaultReadTimeout = 250 * time.Millisecond
)
