// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/siemens/procshark"
	"github.com/siemens/procshark/channel"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding the defaults
// of CLI flags, such as PROCSHARK_SNAPLEN.
const EnvPrefix = "PROCSHARK"

// ConfigName is the name of the optional configuration file, without its
// extension, searched in the user's home directory and the current directory.
const ConfigName = ".procshark-capture"

// newRootCmd returns the procshark-capture command with its flags bound to a
// fresh viper configuration.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "procshark-capture [flags] CHANNEL",
		Short: "Capture network traffic attributed to the applications causing it",
		Long: `procshark-capture captures network traffic from one or more network
interfaces, attributes each packet to the executable of the process owning the
packet's TCP flow, and sends the attributed packets over the specified channel.
It stops capturing as soon as the channel gets closed.

CHANNEL is either a ws:// or wss:// URL, a "unix:" socket path, an absolute
socket path, or a bare name of a socket in the runtime directory.`,
		Version:       procshark.SemVersion,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return capture(cmd.Context(), v, args[0])
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cfgFile, "config", "", "config file (default is $HOME/"+ConfigName+".yaml)")
	fs.StringSliceP("interface", "i", nil, "network interface(s) to capture from")
	fs.Int("snaplen", procshark.DefaultSnapLen, "maximum number of octets captured per packet")
	fs.String("filter", "", "packet capture filter expression")
	fs.String("table", "", "socket table to attribute packets with: procfs|psutil")
	fs.Duration("read-timeout", procshark.DefaultReadTimeout, "maximum time to block waiting for packets")
	fs.Int("queue-length", channel.DefaultQueueLength, "maximum number of packets waiting to be sent before dropping packets")
	fs.BoolP("debug", "d", false, "enable debug logging")
	_ = v.BindPFlags(fs)
	return cmd
}

// initConfig reads the optional configuration file and sets up environment
// variable overrides.
func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(ConfigName)
		if err := v.ReadInConfig(); err != nil {
			var notfound viper.ConfigFileNotFoundError
			if !errors.As(err, &notfound) {
				return err
			}
		}
	}
	if v.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Debugf("using config file %s", used)
	}
	return nil
}

// snifferOptions returns the sniffer options as configured.
func snifferOptions(v *viper.Viper) *procshark.SnifferOptions {
	return &procshark.SnifferOptions{
		Capture: procshark.CaptureOptions{
			SnapLen:     v.GetInt("snaplen"),
			ReadTimeout: v.GetDuration("read-timeout"),
			Filter:      v.GetString("filter"),
			Table:       v.GetString("table"),
		},
		Channel: channel.Options{
			QueueLength: v.GetInt("queue-length"),
		},
	}
}

// capture connects to the channel, captures from the configured network
// interfaces, and then waits for the channel to get closed or for the
// process to get interrupted.
func capture(ctx context.Context, v *viper.Viper, channelName string) error {
	nifs := v.GetStringSlice("interface")
	if len(nifs) == 0 {
		return errors.New("no network interface(s) specified")
	}
	s := procshark.NewSniffer(snifferOptions(v))
	if err := s.Connect(channelName); err != nil {
		return err
	}
	for _, nif := range nifs {
		if err := s.Capture(nif); err != nil {
			s.Stop()
			return err
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := s.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
