// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Provides the "procshark list" command for listing recorded packets or the
// applications they were attributed to.

package command

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/siemens/procshark/cli"
	"github.com/siemens/procshark/store"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
	"github.com/thediveo/klo"
)

// Builtin custom-columns templates
const (
	// PacketListTemplate defines the custom columns when listing packets.
	PacketListTemplate = "ID:{.ID},TIME:{.Time},LEN:{.Length},APPLICATION:{.Application},SUMMARY:{.Summary}"
	// PacketWideListTemplate is like PacketListTemplate, but additionally
	// tacks on columns with the recording session and message ID, the
	// captured length, protocol, and endpoints.
	PacketWideListTemplate = "ID:{.ID},SESSION:{.Session},MSGID:{.MessageID},TIME:{.Time},LEN:{.Length},CAPLEN:{.CaptureLength},APPLICATION:{.Application},PROTO:{.Protocol},SOURCE:{.Source},DESTINATION:{.Destination},SUMMARY:{.Summary}"

	// AppListTemplate defines the custom columns when listing applications.
	AppListTemplate = "APPLICATION:{.Application},PACKETS:{.Packets},OCTETS:{.Octets}"
	// AppWideListTemplate additionally shows the full executable paths.
	AppWideListTemplate = "APPLICATION:{.Application},PACKETS:{.Packets},OCTETS:{.Octets},PATH:{.Path}"

	// NameListTemplate for handling "-o name" and only showing the packet IDs
	// or application names; this template should be used with no headers
	// shown, as kubectl and others do.
	NameListTemplate = "NAME:{.Name}"
)

// PacketRow is a single recorded packet as shown by “procshark list”.
type PacketRow struct {
	ID            uint64
	Session       int64
	MessageID     uint64
	Name          string
	Time          string
	Length        int
	CaptureLength int
	Application   string
	Protocol      string
	Source        string
	Destination   string
	Summary       string
}

// AppRow is a single application as shown by “procshark list apps”.
type AppRow struct {
	Name        string
	Application string
	Path        string
	Packets     int
	Octets      int
}

// listCmd defines the "procshark list" command.
var listCmd = &cobra.Command{
	Use:     "list [flags] [packets|apps]",
	Aliases: []string{"ls"},
	Short:   "List recorded packets or the applications they belong to",
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.OnlyValidArgs(cmd, args); err != nil {
			return err
		}
		return cobra.MaximumNArgs(1)(cmd, args)
	},
	ValidArgs: []string{
		"packet", "packets",
		"app", "apps",
	},
	RunE: list,
}

func init() {
	plugger.Group[cli.SetupCLI]().Register(ListSetupCLI, plugger.WithPlugin("list"))
}

// ListSetupCLI adds the “list” command.
func ListSetupCLI(cmd *cobra.Command) {
	cmd.AddCommand(listCmd)
	listCmd.Flags().StringP("output", "o", "",
		"Output format. One of: json|yaml|wide|name|custom-columns=...|custom-columns-file=...|jsonpath=...|jsonpath-file=...")
	listCmd.Flags().Bool("no-headers", false, "When using the default or custom-column output format, don't print headers (default print headers).")
	listCmd.Flags().String("sort-by", "",
		"If non-empty, sort custom-columns using this field specification. The field specification is expressed as a JSONPath expression (e.g. '{.Application}').")
	listCmd.Flags().StringP("app", "a", "",
		"Only list packets of applications with this name or path")
}

// list fetches the recorded packets from the capture database and prints
// them, or the applications they belong to, using a template.
func list(cmd *cobra.Command, args []string) error {
	apps := len(args) == 1 && strings.HasPrefix(args[0], "app")
	specs := &klo.Specs{
		DefaultColumnSpec: PacketListTemplate,
		WideColumnSpec:    PacketWideListTemplate,
	}
	if apps {
		specs = &klo.Specs{
			DefaultColumnSpec: AppListTemplate,
			WideColumnSpec:    AppWideListTemplate,
		}
	}
	prn, err := getPrinter(cmd, specs)
	if err != nil {
		return err
	}
	// ...throwing in sorting, if asked for. It depends on the object printer
	// if it will honor the sorted data or will just impose its own order
	// anyway.
	if sortby, err := cmd.LocalFlags().GetString("sort-by"); err == nil && sortby != "" {
		prn, err = klo.NewSortingPrinter(sortby, prn)
		if err != nil {
			return err
		}
	}
	st, err := OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()
	packets, err := st.Packets()
	if err != nil {
		return err
	}
	app, _ := cmd.LocalFlags().GetString("app")
	rows := packetRows(packets, app)
	log.Debugf("listing %d out of %d packets", len(rows), len(packets))
	if apps {
		return prn.Fprint(cmd.OutOrStdout(), appRows(rows))
	}
	return prn.Fprint(cmd.OutOrStdout(), rows)
}

// matchesApp returns true if the application path matches the name, which
// can be either a full path or just the executable's base name.
func matchesApp(path, name string) bool {
	return name == "" || path == name || filepath.Base(path) == name
}

// packetRows returns the rows for the packets of the named application, or
// all packets if name is empty.
func packetRows(packets []*store.Packet, app string) []*PacketRow {
	rows := make([]*PacketRow, 0, len(packets))
	for _, p := range packets {
		if !matchesApp(p.Application, app) {
			continue
		}
		rows = append(rows, &PacketRow{
			ID:            p.ID,
			Session:       p.Session,
			MessageID:     p.MessageID,
			Name:          fmtID(p.ID),
			Time:          p.Timestamp.Format(time.StampMicro),
			Length:        p.Length,
			CaptureLength: p.CaptureLength,
			Application:   p.Application,
			Protocol:      p.Metadata[store.MetaProtocol],
			Source:        p.Metadata[store.MetaSource],
			Destination:   p.Metadata[store.MetaDestination],
			Summary:       p.Metadata[store.MetaSummary],
		})
	}
	return rows
}

// appRows aggregates the packet rows per application, in order of
// application names.
func appRows(rows []*PacketRow) []*AppRow {
	byPath := map[string]*AppRow{}
	for _, r := range rows {
		a, ok := byPath[r.Application]
		if !ok {
			a = &AppRow{
				Name:        r.Application,
				Application: filepath.Base(r.Application),
				Path:        r.Application,
			}
			if strings.HasPrefix(r.Application, "(") {
				a.Application = r.Application
			}
			byPath[r.Application] = a
		}
		a.Packets++
		a.Octets += r.Length
	}
	apps := make([]*AppRow, 0, len(byPath))
	for _, a := range byPath {
		apps = append(apps, a)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Path < apps[j].Path })
	return apps
}

// getPrinter returns a value printer configured according to the output format
// chosen by the user, and some more optional output configuration flags.
func getPrinter(cmd *cobra.Command, specs *klo.Specs) (prn klo.ValuePrinter, err error) {
	outfmt, err := cmd.LocalFlags().GetString("output")
	if err != nil {
		return
	}
	if outfmt == "name" {
		// Support "-o name" output format which uses our builtin
		// custom-columns template to only show names, and hide the column
		// header.
		prn, err = klo.PrinterFromFlag("custom-columns="+NameListTemplate, nil)
		if err != nil {
			panic(err)
		}
		prn.(*klo.CustomColumnsPrinter).HideHeaders = true
		return
	}
	prn, err = klo.PrinterFromFlag(outfmt, specs)
	if err != nil {
		return
	}
	if ccprn, ok := prn.(*klo.CustomColumnsPrinter); ok {
		ccprn.Padding = 3
		if noheaders, err := cmd.LocalFlags().GetBool("no-headers"); err == nil {
			ccprn.HideHeaders = noheaders
		}
	}
	return
}
