// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package cli

import "github.com/spf13/cobra"

// SetupCLI defines an exposed plugin symbol type for adding “things” to a
// cobra root command (the procshark root command in particular).
type SetupCLI func(*cobra.Command)

// CommandExamples defines an exposed symbol with CLI examples, indexed by a
// particular (sub) command, such as “list” and “record”.
type CommandExamples func() map[string]string

// BeforeCommand defines an exposed plugin symbol type for running checks after
// the command line args have been processed and before running the (choosen)
// command.
type BeforeCommand func(*cobra.Command) error

// SemVer defines an exposed plugin symbol type for returning (overriding) the
// CLI binary's semantic version. The first plugin will win.
type SemVer func() string
