package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	Sd "github.com/maroda/systole/display"
	So "github.com/maroda/systole/obvy"
	Sp "github.com/maroda/systole/plugin"
	Ss "github.com/maroda/systole/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Systole stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// environment first, flags override
	settings, err := Ss.LoadSettings(ctx)
	if err != nil {
		return err
	}

	flag.StringVar(&settings.Source, "source", settings.Source, "sample source: synth, csv, serial, nats")
	flag.Float64Var(&settings.SampleRate, "rate", settings.SampleRate, "sample rate in Hz")
	flag.StringVar(&settings.TuningFile, "tuning", settings.TuningFile, "JSON tuning file")
	flag.StringVar(&settings.CSVPath, "csv", settings.CSVPath, "recorded samples for the csv source")
	flag.StringVar(&settings.Addr, "addr", settings.Addr, "listen address for /metrics, /ws and /api")
	flag.BoolVar(&settings.Headless, "headless", settings.Headless, "serve the web endpoint without the terminal view")
	flag.DurationVar(&settings.SessionLength, "length", settings.SessionLength, "stop after this long, zero runs until quit")
	outputs := flag.String("outputs", strings.Join(settings.Outputs, ","), "comma separated outputs: badger, nats, midi")
	logFile := flag.String("log", "systole.log", "log file for the terminal view")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Sd.Version)
		return nil
	}
	settings.Outputs = splitList(*outputs)

	// the terminal view owns stdout and stderr
	if !settings.Headless {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))
	}

	slog.Info("Systole initializing",
		slog.String("user", Ss.FillEnvVar("USER")),
		slog.String("version", Sd.Version),
		slog.String("source", settings.Source))

	tuning, err := settings.Tuning()
	if err != nil {
		return fmt.Errorf("tuning: %w", err)
	}

	shutdownOTel, err := So.InitTelemetry(ctx, settings.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownOTel()

	var output Sp.OutputAdapter
	if len(settings.Outputs) > 0 {
		outs, err := Sp.OutputsLookup(settings.Outputs, Sp.OutputOptions{
			DBPath:      settings.DBPath,
			BatchSize:   settings.BatchSize,
			NATSURL:     settings.NATSURL,
			NATSSubject: settings.NATSSubject,
			MIDIPort:    settings.MIDIPort,
		})
		if err != nil {
			return err
		}
		defer outs.Close()
		output = outs
		slog.Info("Outputs ready", slog.String("type", outs.Type()))
	}

	stats := So.NewStatsInternal()
	cfg := settings.SessionConfig(tuning)
	cfg.Output = output
	cfg.Recorder = stats
	session := Ss.NewSession(cfg)

	src, err := Ss.OpenSource(settings)
	if err != nil {
		return err
	}
	defer src.Close()

	if settings.SessionLength > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.SessionLength)
		defer cancel()
	}

	opts := Sd.ViewOptions{Addr: settings.Addr, Output: output, Stats: stats}
	if settings.Headless {
		err = Sd.StartWebNoTUI(ctx, session, src, opts)
	} else {
		err = Sd.StartSessionView(ctx, session, src, opts)
	}
	if err != nil {
		return err
	}

	// the loop has stopped, whatever is left becomes the final reading
	if session.Snapshot().Samples == 0 {
		return nil
	}
	reading, err := session.Finish(context.Background())
	fmt.Printf("Session %s: %d BPM, quality %.2f, %d beats over %s\n",
		reading.ID, reading.BPM, reading.Quality, reading.Beats, reading.Duration)
	if reading.HRV != nil {
		fmt.Printf("HRV (%s): SDNN %.1f ms, RMSSD %.1f ms, pNN50 %.1f%%\n",
			reading.HRV.Quality, reading.HRV.SDNN, reading.HRV.RMSSD, reading.HRV.PNN50)
	}
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
