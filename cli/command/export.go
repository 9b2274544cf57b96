// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package command

import (
	"io"
	"os"
	"strings"

	"github.com/siemens/procshark"
	"github.com/siemens/procshark/cli"
	"github.com/siemens/procshark/pcapng"
	"github.com/siemens/procshark/store"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
)

// Provides the “procshark export” command which writes the recorded packets
// into a pcapng capture file, attaching each packet's application as a packet
// comment.
var exportCmd = &cobra.Command{
	Use:   "export [flags]",
	Short: "Export recorded packets to pcapng",
	Args:  cobra.NoArgs,
	RunE:  export,
}

func init() {
	plugger.Group[cli.SetupCLI]().Register(ExportSetupCLI, plugger.WithPlugin("export"))
}

// ExportSetupCLI adds the “export” command.
func ExportSetupCLI(cmd *cobra.Command) {
	cmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("write", "w", "-",
		"Write pcapng capture to this file; \"-\" writes to stdout")
	exportCmd.Flags().StringP("app", "a", "",
		"Only export packets of applications with this name or path")
}

func export(cmd *cobra.Command, args []string) error {
	st, err := OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()
	var w io.Writer = cmd.OutOrStdout()
	if fname, _ := cmd.Flags().GetString("write"); fname != "-" && fname != "" {
		f, err := os.Create(fname)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	app, _ := cmd.Flags().GetString("app")
	n, err := Export(w, st, app)
	if err != nil {
		return err
	}
	log.Debugf("exported %d packets", n)
	return nil
}

// Export writes the packets of the named application from the store into
// a pcapng capture, returning the number of packets written. An empty name
// exports all packets.
func Export(w io.Writer, st *store.Store, app string) (int, error) {
	all, err := st.Packets()
	if err != nil {
		return 0, err
	}
	packets := make([]*store.Packet, 0, len(all))
	snapLen := procshark.DefaultSnapLen
	for _, p := range all {
		if !matchesApp(p.Application, app) {
			continue
		}
		packets = append(packets, p)
		if p.CaptureLength > snapLen {
			snapLen = p.CaptureLength
		}
	}
	props, err := st.Properties()
	if err != nil {
		return 0, err
	}
	info := &pcapng.CaptureInfo{
		Application: "procshark " + procshark.SemVersion,
		Filter:      props[store.PropFilter],
		Started:     props[store.PropStarted],
		Packets:     len(packets),
		Properties:  props,
	}
	if nifs := props[store.PropInterfaces]; nifs != "" {
		info.Interfaces = strings.Split(nifs, ",")
	}
	pw, err := pcapng.NewWriter(w, info)
	if err != nil {
		return 0, err
	}
	iface, err := pw.WriteInterface(store.LinkType, snapLen, props[store.PropInterfaces])
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range packets {
		data, err := st.Data(p)
		if err != nil {
			return count, err
		}
		if err := pw.WritePacket(iface, p.Timestamp, data, p.Length, p.Application); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
