// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"wsprcap/cmd"
	"wsprcap/internal/analysis"
	"wsprcap/internal/audio"
	"wsprcap/internal/capture"
	"wsprcap/internal/config"
	applog "wsprcap/internal/log"
	"wsprcap/internal/pipeline"
	"wsprcap/internal/recording"
	"wsprcap/internal/transport"
	"wsprcap/internal/transport/udp"
	"wsprcap/pkg/build"
)

// main is the entry point of the capture bridge. The program flow is divided
// into three phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Initialize PortAudio
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Probe and open the capture device
//   - Start the producer loop
//   - Run the consumer, monitor and fault watcher
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals or a device fault
//   - Stop streaming and flush recordings
//   - Release the device and close transports
func main() {
	os.Exit(realMain())
}

func realMain() int {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		applog.Debugf("build info: %v", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if opts.Command == "" {
		return 0 // --help or --version
	}
	cfg := opts.Config

	applog.Configure(os.Stderr, cfg.LogJSON)
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}

	if err := audio.Initialize(); err != nil {
		applog.Errorf("initialize PortAudio: %v", err)
		return 1
	}
	defer func() {
		if err := audio.Terminate(); err != nil {
			applog.Warnf("terminate PortAudio: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch opts.Command {
	case cmd.CommandList:
		err = audio.ListDevices(os.Stdout)
	case cmd.CommandProbe:
		err = probe(ctx, cfg)
	default:
		err = run(ctx, cfg)
	}
	if err != nil {
		applog.Errorf("%s: %v", opts.Command, err)
		return 1
	}
	return 0
}

// probe negotiates a capture configuration, reports it and releases the
// device without streaming.
func probe(ctx context.Context, cfg *config.Config) error {
	opener := audio.NewOpener(cfg.Audio.InputDevice, cfg.Audio.FramesPerBuffer)
	negotiated, err := capture.NewSourceProbe(opener, cfg.Probe.CandidateTimeout).Probe(ctx, cfg.Candidates())
	if err != nil {
		var failure *capture.ProbeFailure
		if errors.As(err, &failure) {
			for _, a := range failure.Attempts {
				fmt.Printf("  rejected %s: %v\n", a.Candidate, a.Err)
			}
		}
		return err
	}
	fmt.Printf("Negotiated: %s\n", negotiated)
	return negotiated.Device.Release()
}

// run streams until ctx is cancelled or the device faults.
func run(ctx context.Context, cfg *config.Config) error {
	conn := capture.NewConnection(
		audio.NewOpener(cfg.Audio.InputDevice, cfg.Audio.FramesPerBuffer),
		cfg.CaptureOptions(),
	)
	defer conn.Disconnect()

	monitorStates := conn.Subscribe()
	faultStates := conn.Subscribe()

	if err := conn.Initialize(ctx); err != nil {
		return err
	}
	applog.Infof("capture %s ready: %s", conn.ID(), conn.Config())

	var (
		sinks      []pipeline.Sink
		processors []analysis.Processor
		recorder   *recording.Recorder
		spectrum   *analysis.Spectrum
	)

	if cfg.Recording.Enabled {
		var err error
		recorder, err = recording.New(cfg.Recording.OutputDir, cfg.Buffer.ConsumerRate, cfg.Recording.BitDepth,
			time.Duration(cfg.Recording.MaxDuration)*time.Second)
		if err != nil {
			return err
		}
		sinks = append(sinks, recorder)
	}

	if cfg.Spectrum.Enabled {
		window, err := analysis.ParseWindowFunc(cfg.Spectrum.Window)
		if err != nil {
			applog.Warnf("%v, using %s", err, window)
		}
		spectrum, err = analysis.NewSpectrum(cfg.FFTSize(), float64(cfg.Buffer.ConsumerRate),
			analysis.Band{LowHz: cfg.Spectrum.BandLowHz, HighHz: cfg.Spectrum.BandHighHz}, window)
		if err != nil {
			return err
		}
		processors = append(processors, spectrum)
	}

	transports := transport.Fanout{transport.NewLoggingTransport()}
	if cfg.Transport.WebSocketEnabled {
		wst, err := transport.NewWebSocketTransport(":" + cfg.Transport.WebSocketPort)
		if err != nil {
			return err
		}
		applog.Infof("monitor websocket listening on %s", wst.Addr())
		transports = append(transports, wst)
	}
	defer func() {
		if err := transports.Close(); err != nil {
			applog.Warnf("close transports: %v", err)
		}
	}()

	var publisher *udp.UDPPublisher
	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		var spectrumSrc udp.SpectrumSource
		if spectrum != nil {
			spectrumSrc = spectrum
		}
		publisher, err = udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, conn, spectrumSrc)
		if err != nil {
			_ = sender.Close()
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				applog.Warnf("close UDP publisher: %v", err)
			}
		}()
	}

	var monitorSpectrum pipeline.SpectrumSource
	if spectrum != nil {
		monitorSpectrum = spectrum
	}
	consumer := pipeline.NewConsumer(conn, cfg.Buffer.PullMs, sinks, processors)
	monitor := pipeline.NewMonitor(conn, monitorSpectrum, transports, monitorStates, pipeline.MonitorConfig{
		SilenceThreshold: cfg.Meter.SilenceThreshold,
		ClipThreshold:    cfg.Meter.ClipThreshold,
	})

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	if err := conn.StartStreaming(); err != nil {
		return err
	}
	if publisher != nil {
		publisher.Start()
	}
	applog.Infof("streaming, pulling %d ms every %d ms", cfg.Buffer.PullMs, cfg.Buffer.PullMs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return pipeline.WatchFault(gctx, faultStates) })
	runErr := g.Wait()

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if conn.State() == capture.StateStreaming {
		if err := conn.StopStreaming(); err != nil {
			applog.Warnf("stop streaming: %v", err)
		}
	}
	if publisher != nil {
		if err := publisher.Stop(); err != nil {
			applog.Debugf("stop UDP publisher: %v", err)
		}
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			applog.Warnf("close recording: %v", err)
		}
		for _, f := range recorder.Files() {
			applog.Infof("recording saved to %s", f)
		}
	}

	stats := consumer.Stats()
	applog.Infof("consumed %d samples in %d pulls (%d empty, %d sink errors)",
		stats.Samples, stats.Pulls, stats.EmptyPulls, stats.SinkErrors)
	return runErr
}
