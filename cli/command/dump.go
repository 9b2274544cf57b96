// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package command

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/siemens/procshark/cli"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
)

// Provides the “procshark dump” command which shows the details of a single
// recorded packet together with a hex dump of its captured octets.
var dumpCmd = &cobra.Command{
	Use:   "dump [flags] ID",
	Short: "Show a recorded packet in hex",
	Args:  cobra.ExactArgs(1),
	RunE:  dump,
}

func init() {
	plugger.Group[cli.SetupCLI]().Register(DumpSetupCLI, plugger.WithPlugin("dump"))
}

// DumpSetupCLI adds the “dump” command.
func DumpSetupCLI(cmd *cobra.Command) {
	cmd.AddCommand(dumpCmd)
	dumpCmd.Flags().Bool("raw", false, "Only dump the packet octets, without details")
}

func fmtID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func dump(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid packet ID %q", args[0])
	}
	st, err := OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()
	p, err := st.Packet(id)
	if err != nil {
		return err
	}
	data, err := st.Data(p)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if raw, _ := cmd.Flags().GetBool("raw"); !raw {
		fmt.Fprintf(out, "packet:      %s\n", fmtID(p.ID))
		fmt.Fprintf(out, "time:        %s\n", p.Timestamp.Format(time.RFC3339Nano))
		fmt.Fprintf(out, "length:      %d (%d captured)\n", p.Length, p.CaptureLength)
		fmt.Fprintf(out, "application: %s\n", p.Application)
		keys := make([]string, 0, len(p.Metadata))
		for key := range p.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(out, "%-12s %s\n", key+":", p.Metadata[key])
		}
		fmt.Fprintln(out)
	}
	d := hex.Dumper(out)
	defer d.Close()
	_, err = d.Write(data)
	return err
}
