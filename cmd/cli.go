// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wsprcap/internal/config"
	"wsprcap/pkg/build"
)

const (
	CommandRun   = "run"
	CommandList  = "list"
	CommandProbe = "probe"
)

// Options is the parsed command line. Command is empty when cobra handled
// the invocation itself (--help, --version).
type Options struct {
	Command    string
	ConfigPath string
	Config     *config.Config
}

// flagValues holds raw flag values until the config file is loaded. Only
// flags the user set override the file.
type flagValues struct {
	device           int
	framesPerBuffer  int
	consumerRate     int
	pullMs           int
	candidateTimeout time.Duration
	logLevel         string
	logJSON          bool
	record           bool
	outputDir        string
	websocket        bool
	websocketPort    string
	udp              bool
	udpTarget        string
}

// ParseArgs parses args (without the program name) and loads the resulting
// configuration.
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	opts := &Options{}
	var fv flagValues

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd, CommandRun, &fv)
		},
	}

	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd, CommandList, &fv)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "probe",
		Short: "Negotiate a capture configuration and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd, CommandProbe, &fv)
		},
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "",
		"Path to a YAML config file (default: ./config.yaml or ./wsprcap.yaml if present)")

	// Capture
	flags.IntVarP(&fv.device, "device", "d", config.DefaultDeviceID,
		"Input device ID, -1 for the system default. Use 'list' to see devices.")
	flags.IntVarP(&fv.framesPerBuffer, "frames-per-buffer", "b", 0,
		"Frames per device read, 0 for 10 ms at the negotiated rate")
	flags.DurationVar(&fv.candidateTimeout, "candidate-timeout", config.DefaultCandidateTimeout,
		"Time allowed to open each probe candidate, 0 to wait indefinitely")

	// Consumer
	flags.IntVar(&fv.consumerRate, "consumer-rate", config.DefaultConsumerRate,
		"Sample rate delivered to the consumer, in Hz")
	flags.IntVar(&fv.pullMs, "pull-ms", config.DefaultPullMs,
		"Milliseconds of audio pulled per consumer tick")

	// Recording
	flags.BoolVarP(&fv.record, "record", "r", false,
		"Record the consumer stream to WAV files")
	flags.StringVarP(&fv.outputDir, "output-dir", "o", "",
		"Directory for WAV recordings")

	// Monitors
	flags.BoolVar(&fv.websocket, "ws", false, "Serve level and stats frames over WebSocket")
	flags.StringVar(&fv.websocketPort, "ws-port", config.DefaultWebSocketPort, "WebSocket listen port")
	flags.BoolVar(&fv.udp, "udp", false, "Send binary monitor packets over UDP")
	flags.StringVar(&fv.udpTarget, "udp-target", config.DefaultUDPTarget, "UDP monitor target host:port")

	// Logging
	flags.StringVar(&fv.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&fv.logJSON, "log-json", false, "Write JSON log lines")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return opts, nil
}

// load reads the config file, applies the flags the user set and validates
// the result.
func (o *Options) load(cmd *cobra.Command, command string, fv *flagValues) error {
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return err
	}

	changed := cmd.Flags().Changed
	if changed("device") {
		cfg.Audio.InputDevice = fv.device
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = fv.framesPerBuffer
	}
	if changed("candidate-timeout") {
		cfg.Probe.CandidateTimeout = fv.candidateTimeout
	}
	if changed("consumer-rate") {
		cfg.Buffer.ConsumerRate = fv.consumerRate
	}
	if changed("pull-ms") {
		cfg.Buffer.PullMs = fv.pullMs
	}
	if changed("record") {
		cfg.Recording.Enabled = fv.record
	}
	if changed("output-dir") {
		cfg.Recording.OutputDir = fv.outputDir
	}
	if changed("ws") {
		cfg.Transport.WebSocketEnabled = fv.websocket
	}
	if changed("ws-port") {
		cfg.Transport.WebSocketPort = fv.websocketPort
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = fv.udp
	}
	if changed("udp-target") {
		cfg.Transport.UDPTargetAddress = fv.udpTarget
	}
	if changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}
	if changed("log-json") {
		cfg.LogJSON = fv.logJSON
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	o.Command = command
	o.Config = cfg
	return nil
}
