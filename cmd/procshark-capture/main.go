// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// This is the main entry of the procshark-capture tool, which captures network
// traffic, attributes it to the applications causing it, and streams the
// attributed packets to the procshark companion over the channel given as the
// sole CLI argument.

package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

func main() {
	f := new(prefixed.TextFormatter)
	f.DisableColors = true
	f.ForceFormatting = true
	f.FullTimestamp = true
	f.TimestampFormat = "15:04:05"
	log.SetFormatter(f)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
