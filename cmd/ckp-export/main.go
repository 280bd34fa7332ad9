// Command ckp-export exports the objects and access rules of a Check Point
// management server as one JSON document.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/ckp-export/internal/config"
	"github.com/Sternrassler/ckp-export/internal/exporter"
	"github.com/Sternrassler/ckp-export/pkg/archive"
	"github.com/Sternrassler/ckp-export/pkg/logging"
	"github.com/Sternrassler/ckp-export/pkg/metrics"
)

// Exit codes.
const (
	exitOK    = 0
	exitRun   = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type flags struct {
	configFile  string
	outputDir   string
	debug       bool
	outFile     string
	metricsAddr string
	pretty      bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	fs := flag.NewFlagSet("ckp-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: ckp-export -c <config file> [-o <output dir>] [-D] [-out <file>] [-metrics-addr <addr>] [-pretty]")
		fs.PrintDefaults()
	}

	f := &flags{}
	fs.StringVar(&f.configFile, "c", "", "configuration file (JSON or YAML), mandatory")
	fs.StringVar(&f.outputDir, "o", "", "directory receiving every page plus objects.json and rules.json")
	fs.BoolVar(&f.debug, "D", false, "debug output")
	fs.StringVar(&f.outFile, "out", "", "write the document to this file instead of stdout")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	fs.BoolVar(&f.pretty, "pretty", false, "human-readable log output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.configFile == "" {
		fs.Usage()
		return nil, errors.New("-c <config file> is mandatory")
	}
	return f, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	logCfg := logging.DebugConfig(f.debug, f.pretty)
	logCfg.Output = stderr
	logging.Setup(logCfg)
	logger := logging.NewLogger(logging.ComponentExporter)

	cfg, err := config.Load(f.configFile)
	if err != nil {
		logger.Error().Err(err).Str("file", f.configFile).Msg("Invalid configuration")
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	client, err := exporter.NewClient(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid transport configuration")
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	if f.metricsAddr != "" {
		srv, err := metrics.Serve(ctx, f.metricsAddr)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to serve metrics")
			return exitUsage
		}
		defer srv.Shutdown(context.WithoutCancel(ctx))
	}

	opts := exporter.Options{Debug: f.debug, Progress: stderr}
	if f.outputDir != "" {
		files, err := archive.NewFileSink(f.outputDir)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create output directory")
			return exitUsage
		}
		opts.Files = files
	}

	sinks, closeSinks, err := exporter.OpenSinks(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open archive")
		return exitRun
	}
	defer closeSinks()
	opts.Sinks = sinks

	fmt.Fprintln(stderr, "Running...")
	res, err := exporter.New(client, cfg, opts).Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Export failed")
		fmt.Fprintln(stderr, err)
		return exitRun
	}
	for _, t := range res.Failed {
		logger.Warn().Err(t.Err).Str("task", t.String()).Msg("Page missing from export")
	}

	out := stdout
	if f.outFile != "" {
		file, err := os.Create(f.outFile)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create output file")
			return exitRun
		}
		defer file.Close()
		out = file
	}
	if err := exporter.WriteDocument(out, res.Dataset); err != nil {
		logger.Error().Err(err).Msg("Failed to write document")
		return exitRun
	}
	return exitOK
}
