// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package command

import (
	"fmt"
	"strings"

	"github.com/siemens/procshark"
	"github.com/siemens/procshark/cli"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
)

// Provides the “procshark version” command. The semantic version is the one
// defined for the main procshark package, so there's no separate version
// number for the procshark CLI command. In addition, the version command lists
// the included commands.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version (with integrated commands).",
	Run: func(cmd *cobra.Command, args []string) {
		semver := procshark.SemVersion
		for _, pluginsemver := range plugger.Group[cli.SemVer]().Symbols() {
			semver = pluginsemver()
			break
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (commands: %s)\n",
			cmd.Parent().Name(),
			semver,
			strings.Join(plugger.Group[cli.SetupCLI]().Plugins(), ", "))
	},
}

func init() {
	plugger.Group[cli.SetupCLI]().Register(
		VersionSetupCLI, plugger.WithPlugin("version"))
}

// VersionSetupCLI adds the “version” command.
func VersionSetupCLI(cmd *cobra.Command) {
	cmd.AddCommand(versionCmd)
}
