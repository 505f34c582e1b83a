package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"kudos/pkg/config"
	"kudos/pkg/email"
	"kudos/pkg/history"
	"kudos/pkg/ledger"
	"kudos/pkg/pipeline"
	"kudos/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file"`
	Listen string `short:"l" long:"listen" env:"LISTEN" description:"listen address, overrides config"`
	Scan   bool   `short:"s" long:"scan" description:"run one extraction pass, print the open set and exit"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug)

	log.Printf("[INFO] starting kudos version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, opts); err != nil {
		cancel()
		log.Printf("[ERROR] kudos failed: %v", err)
		os.Exit(1)
	}

	cancel()
	log.Print("[INFO] shutdown complete")
}

// run wires the pipeline and either serves the review API or does a single
// scan in CLI mode
func run(ctx context.Context, opts Opts) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}

	led := ledger.New(cfg.Ledger.Path)

	var hist pipeline.HistoryRecorder
	if cfg.Ledger.HistoryDSN != "" {
		h, err := history.New(history.Config{DSN: cfg.Ledger.HistoryDSN})
		if err != nil {
			return fmt.Errorf("open decision history: %w", err)
		}
		defer func() {
			if cerr := h.Close(); cerr != nil {
				log.Printf("[WARN] failed to close decision history: %v", cerr)
			}
		}()
		hist = h
	}

	drafter := email.New(cfg.GetEmailConfig(), cfg.Recipients)

	pipe := pipeline.New(pipeline.Config{
		ImportsDir: cfg.Imports.Dir,
		Accounts:   cfg.Accounts,
		MaxWorkers: cfg.Imports.MaxWorkers,
	}, led, hist, drafter)

	if opts.Scan {
		return scanOnce(ctx, pipe)
	}

	if cfg.Imports.ScanInterval > 0 {
		go pipe.RunPeriodic(ctx, cfg.Imports.ScanInterval)
	}

	srv := server.New(cfg, pipe, revision, opts.Debug)
	return srv.Run(ctx)
}

// scanOnce prints the open feedback set as JSON to stdout
func scanOnce(ctx context.Context, pipe *pipeline.Pipeline) error {
	open, err := pipe.Run(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	return printJSON(os.Stdout, open)
}

// printJSON writes indented JSON to w
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
