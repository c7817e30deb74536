// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/rxprobe/internal/capture"
	"firestige.xyz/rxprobe/internal/capture/afpacket"
	"firestige.xyz/rxprobe/internal/config"
	"firestige.xyz/rxprobe/internal/daemon"
	"firestige.xyz/rxprobe/internal/log"
)

var errNoInterface = errors.New("at least one interface is required")

// newChannel opens the receive channel; tests replace it.
var newChannel = func(opts afpacket.Options) capture.Channel {
	return afpacket.NewChannel(opts)
}

// newRootCmd builds the rxprobe command writing probe output to stdout.
func newRootCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rxprobe [flags] <interface>...",
		Short: "Receive-path latency probe",
		Long: `rxprobe attaches every receive queue of the named interfaces and reads
packets in batches. For each packet whose 32-bit sentinel differs from the
expected value it prints the value and a monotonic timestamp in microseconds.
In dissect mode it prints one line of L2-L4 headers per packet instead.

Examples:
  rxprobe eth0                          # sentinel probe on every queue of eth0
  rxprobe --mode dissect eth0 eth1      # header dissection on two interfaces
  rxprobe -c rxprobe.yml --metrics eth0 # file config plus Prometheus endpoint
  rxprobe --dump-config                 # print the effective configuration`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if dump, _ := cmd.Flags().GetBool("dump-config"); dump {
				return nil
			}
			if len(args) == 0 {
				return &ExitError{Code: ExitUsage, Err: errNoInterface}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args, stdout)
		},
	}

	cmd.SetOut(stdout)
	cmd.Flags().StringP("config", "c", "", "config file path")
	cmd.Flags().Bool("dump-config", false, "print the effective configuration as YAML and exit")
	config.RegisterFlags(cmd.Flags())
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Err: err}
	})
	return cmd
}

func runProbe(cmd *cobra.Command, args []string, stdout io.Writer) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}
	if err := log.Init(&cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	if dump, _ := cmd.Flags().GetBool("dump-config"); dump {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}

	ch := newChannel(channelOptions(cfg))
	return daemon.New(cfg, ch, args, stdout).Run(cmd.Context())
}

func channelOptions(cfg *config.Config) afpacket.Options {
	opts := afpacket.DefaultOptions()
	opts.SnapLen = cfg.Capture.SnapLen
	opts.BufferSizeMB = cfg.Capture.BufferSizeMB
	opts.PollTimeout = cfg.Capture.PollTimeout
	opts.BPFFilter = cfg.Capture.BPFFilter
	opts.FanoutID = cfg.Capture.FanoutID
	opts.BatchCapacity = cfg.Capture.BatchSize
	return opts
}
