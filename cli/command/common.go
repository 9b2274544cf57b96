// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Implements the procshark "root" command with its global CLI flags.
// Additionally runs some checks on some of those global CLI flags, where
// necessary, so individual commands do not need to check them themselves.

package command

import (
	"errors"

	"github.com/siemens/procshark/cli"
	"github.com/siemens/procshark/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/go-plugger/v3"
	"golang.org/x/exp/slices"
)

// Flag annotation for grouping mutually exclusive flags. Due to the open-ended
// plugin architecture of procshark we cannot directly use cobra's
// MarkFlagsMutuallyExclusive in plugins, but instead plugin need to annotate
// their flags and we then gather the groups with their flag members in order to
// issue MarkFlagsMutuallyExclusive as necessary.
const MutualFlagGroupAnnotation = "mutually-exclusive-group"

// DefaultDatabase is the default path of the capture database.
const DefaultDatabase = "procshark.db"

// Database specifies the capture database to record into and to inspect.
var Database string

// rootCmd represents the Cobra "root" command thus the procshark CLI itself.
var rootCmd = &cobra.Command{
	Use:   "procshark",
	Short: "Capture network traffic attributed to the applications causing it",
	Long: `procshark is a CLI tool for capturing live network traffic on this host,
attributing each packet to the executable of the process owning the packet's
TCP flow. Recorded captures can be listed, dumped, and exported to pcapng.`,
	// See: https://github.com/spf13/cobra/issues/340
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Run the registered before-the-command plugins
		for _, beforeCmd := range plugger.Group[cli.BeforeCommand]().Symbols() {
			if err := beforeCmd(cmd); err != nil {
				return err
			}
		}
		return nil
	},
}

// SetupCLI registers the global ("persistent") CLI flags, as well as the
// (sub)commands. The individual commands are registered via a plugin-mechanism.
func SetupCLI() *cobra.Command {
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&Database, "db", DefaultDatabase,
		"Capture database file to record into and to inspect")

	// Call registered plugins in order to add further CLI args as well as
	// commands to the root command (or below).
	for _, setupCLI := range plugger.Group[cli.SetupCLI]().Symbols() {
		setupCLI(rootCmd)
	}
	// Set groups of mutually exclusive flags as annotated.
	mutuallyExclusives(rootCmd)
	// Fill in/expand command example sections, where additional command
	// examples are available.
	for _, cmd := range rootCmd.Commands() {
		examples := cli.Examples(cmd.Name())
		if examples == "" {
			continue
		}
		cmd.Example = examples
	}

	return rootCmd
}

// OpenStore opens the capture database specified by the “--db” flag.
func OpenStore() (*store.Store, error) {
	if Database == "" {
		return nil, errors.New("no capture database specified")
	}
	return store.Open(Database)
}

// Annotate annotates the flag identified by name with the key=ann.
func Annotate(fs *pflag.FlagSet, flagname, key, ann string) {
	_ = fs.SetAnnotation(flagname, key, []string{ann})
}

// exclusivesMap maps an "exclusive" group (name) to its mutually exclusive
// flags (names).
type exclusivesMap map[string][]string

// mutuallyExclusives starts with the specified command and collects mutually
// exclusive flags as identified by their annotations. It then configures them
// into their groups. This process then recursively repeats with each child
// command.
func mutuallyExclusives(cmd *cobra.Command) {
	exclusives := exclusivesMap{}
	cmd.MarkFlagsMutuallyExclusive() // hack: trigger merging if not already happened
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		group := flag.Annotations[MutualFlagGroupAnnotation]
		if len(group) != 1 {
			return
		}
		name := flag.Name
		members := exclusives[group[0]]
		if slices.Contains(members, name) {
			return
		}
		exclusives[group[0]] = append(exclusives[group[0]], name)
	})
	for _, members := range exclusives {
		cmd.MarkFlagsMutuallyExclusive(members...)
	}
	for _, subcmd := range cmd.Commands() {
		mutuallyExclusives(subcmd)
	}
}
