// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/siemens/procshark"
	"github.com/siemens/procshark/channel"
	"github.com/siemens/procshark/cli"
	"github.com/siemens/procshark/cli/command"
	"github.com/siemens/procshark/store"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
)

// CaptureTool is the name of the capture tool binary.
const CaptureTool = "procshark-capture"

// StopGroup is the name of an annotation value for flags that are mutually
// exclusive in specifying when to stop recording.
const StopGroup = "stop"

// recordCmd defines the "procshark record" command.
var recordCmd = &cobra.Command{
	Use:   "record [flags]",
	Short: "Record network traffic attributed to the applications causing it",
	Args:  cobra.NoArgs,
	RunE:  record,
}

func init() {
	plugger.Group[cli.SetupCLI]().Register(RecordSetupCLI, plugger.WithPlugin("record"))
	plugger.Group[cli.CommandExamples]().Register(RecordExamples, plugger.WithPlugin("record"))
}

// RecordSetupCLI adds the “record” command.
func RecordSetupCLI(cmd *cobra.Command) {
	cmd.AddCommand(recordCmd)
	fs := recordCmd.Flags()
	fs.StringSliceP("interface", "i", nil, "network interface(s) to capture from")
	_ = recordCmd.MarkFlagRequired("interface")
	fs.String("filter", "", "packet capture filter expression")
	fs.Int("snaplen", procshark.DefaultSnapLen, "maximum number of octets captured per packet")
	fs.String("table", "", "socket table to attribute packets with: procfs|psutil")
	fs.String("channel", "", "channel name to receive packets on (default: a per-process name)")
	fs.String("capture-tool", "", "path of the "+CaptureTool+" binary (default: next to this binary or in PATH)")
	fs.Int("count", 0, "stop after recording this many packets")
	fs.Duration("duration", 0, "stop after recording for this long")
	command.Annotate(fs, "count", command.MutualFlagGroupAnnotation, StopGroup)
	command.Annotate(fs, "duration", command.MutualFlagGroupAnnotation, StopGroup)
}

// RecordExamples returns the examples for the “record” and “list” commands.
func RecordExamples() map[string]string {
	return map[string]string{
		"record": `  # record traffic on eth0 until interrupted
  procshark record -i eth0

  # record 100 TCP packets on the loopback interface into a specific database
  procshark --db lo.db record -i lo --filter tcp --count 100`,
		"list": `  # list recorded packets
  procshark list

  # list the applications that caused network traffic
  procshark list apps

  # list only the packets of curl, with more details
  procshark list -a curl -o wide`,
	}
}

// toolOptions describes how to run the capture tool.
type toolOptions struct {
	Interfaces []string
	Filter     string
	SnapLen    int
	Table      string
	Debug      bool
}

// toolArgs returns the CLI arguments for the capture tool to connect to the
// named channel.
func toolArgs(opts toolOptions, channelName string) []string {
	args := []string{}
	for _, nif := range opts.Interfaces {
		args = append(args, "--interface", nif)
	}
	if opts.Filter != "" {
		args = append(args, "--filter", opts.Filter)
	}
	if opts.SnapLen > 0 {
		args = append(args, "--snaplen", strconv.Itoa(opts.SnapLen))
	}
	if opts.Table != "" {
		args = append(args, "--table", opts.Table)
	}
	if opts.Debug {
		args = append(args, "--debug")
	}
	return append(args, "--", channelName)
}

// findCaptureTool returns the path of the capture tool binary, preferring the
// one next to our own executable.
func findCaptureTool(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), CaptureTool)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}
	path, err := exec.LookPath(CaptureTool)
	if err != nil {
		return "", fmt.Errorf("cannot find %s: %w", CaptureTool, err)
	}
	return path, nil
}

func record(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	opts := toolOptions{}
	opts.Interfaces, _ = fs.GetStringSlice("interface")
	opts.Filter, _ = fs.GetString("filter")
	opts.SnapLen, _ = fs.GetInt("snaplen")
	opts.Table, _ = fs.GetString("table")
	opts.Debug = log.IsLevelEnabled(log.DebugLevel)
	channelName, _ := fs.GetString("channel")
	if channelName == "" {
		channelName = "procshark-" + strconv.Itoa(os.Getpid())
	}
	toolPath, _ := fs.GetString("capture-tool")
	toolPath, err := findCaptureTool(toolPath)
	if err != nil {
		return err
	}
	count, _ := fs.GetInt("count")
	duration, _ := fs.GetDuration("duration")

	st, err := command.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()
	for key, value := range map[string]string{
		store.PropInterfaces: strings.Join(opts.Interfaces, ","),
		store.PropFilter:     opts.Filter,
		store.PropStarted:    time.Now().Format(time.RFC3339),
		store.PropChannel:    channelName,
	} {
		if err := st.SetProperty(key, value); err != nil {
			return err
		}
	}

	l, err := channel.Listen(channelName)
	if err != nil {
		return err
	}
	defer l.Close()

	tool := exec.Command(toolPath, toolArgs(opts, l.Endpoint())...)
	tool.Stdout = os.Stderr
	tool.Stderr = os.Stderr
	log.Debugf("starting %s %s", toolPath, strings.Join(tool.Args[1:], " "))
	if err := tool.Start(); err != nil {
		return fmt.Errorf("cannot start %s: %w", CaptureTool, err)
	}
	toolDone := make(chan error, 1)
	go func() { toolDone <- tool.Wait() }()

	// Wait for the capture tool to connect, unless it fails before.
	ctx, cancel := context.WithTimeout(context.Background(), channel.DefaultHandshakeTimeout)
	defer cancel()
	go func() {
		select {
		case err := <-toolDone:
			toolDone <- err
			cancel()
		case <-ctx.Done():
		}
	}()
	rcv, err := l.Accept(ctx)
	if err != nil {
		_ = tool.Process.Kill()
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s failed to start capturing: %w", CaptureTool, <-toolDone)
		}
		return fmt.Errorf("%s failed to connect: %w", CaptureTool, err)
	}
	_ = l.Close()

	rec := &Recorder{Store: st, Count: count}
	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigctx.Done()
		log.Debug("interrupted, stopping recording")
		rec.Stop()
	}()
	if duration > 0 {
		t := time.AfterFunc(duration, rec.Stop)
		defer t.Stop()
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "recording from %s into %s...\n",
		strings.Join(opts.Interfaces, ", "), command.Database)
	n, rerr := rec.Receive(rcv)
	stop()

	select {
	case err := <-toolDone:
		if err != nil {
			log.Errorf("%s terminated: %s", CaptureTool, err.Error())
		}
	case <-time.After(channel.CloseTimeout):
		log.Errorf("%s does not terminate, killing it", CaptureTool)
		_ = tool.Process.Kill()
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "recorded %d packets\n", n)
	return rerr
}
