// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package command

import (
	"fmt"

	"github.com/siemens/procshark"
	"github.com/siemens/procshark/cli"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
)

var (
	debug    bool   // shorthand for "--log-level debug".
	logLevel string // explicit log level.
)

func init() {
	plugger.Group[cli.SetupCLI]().Register(DebugSetupCLI, plugger.WithPlugin("debug"))
	plugger.Group[cli.BeforeCommand]().Register(DebugBeforeCommand, plugger.WithPlugin("debug"))
}

// DebugSetupCLI registers the “--debug” and “--log-level” CLI flags.
func DebugSetupCLI(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	pf.StringVar(&logLevel, "log-level", "", "Log level: error|warning|info|debug")
	Annotate(pf, "debug", MutualFlagGroupAnnotation, "log-level")
	Annotate(pf, "log-level", MutualFlagGroupAnnotation, "log-level")
}

// DebugBeforeCommand sets the log level as requested via the “--debug” or
// “--log-level” flags.
func DebugBeforeCommand(cmd *cobra.Command) error {
	switch {
	case debug:
		log.SetLevel(log.DebugLevel)
	case logLevel != "":
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		log.SetLevel(level)
	default:
		return nil
	}
	log.Debugf("procshark version %s, command %q, database %q",
		procshark.SemVersion, cmd.Name(), Database)
	return nil
}
