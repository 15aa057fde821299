package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"serving-probe/internal/app"
	"serving-probe/internal/benchmark"
	"serving-probe/internal/config"
	"serving-probe/internal/report"
)

func main() {
	fs := pflag.NewFlagSet("serving-probe", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	debug := fs.Bool("debug", false, "Enable debug output (including fx logs)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(app.ExitOK)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(app.ExitConfigError)
	}

	configPath, _ := fs.GetString("config")

	cfg, err := config.LoadConfig(configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(app.ExitConfigError)
	}

	logger := newLogger(cfg.Log, *debug)
	status := app.NewExitStatus()

	fxApp := fx.New(
		fx.Supply(cfg),
		fx.Supply(logger),
		fx.Supply(status),
		fx.WithLogger(func() fxevent.Logger {
			if *debug {
				return app.NewFxEventLogger(logger)
			}
			return fxevent.NopLogger
		}),
		app.Module,
		fx.Invoke(runApp),
	)

	if err := fxApp.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize probe: %v\n", err)
		os.Exit(app.ExitConfigError)
	}

	os.Exit(app.Execute(fxApp, status, app.StopTimeout(cfg), logger))
}

func newLogger(cfg config.LogConfig, debug bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}

	var logger zerolog.Logger
	if !cfg.JSON && isatty.IsTerminal(os.Stderr.Fd()) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(level).With().Timestamp().Logger()
}

func runApp(lifecycle fx.Lifecycle, session *benchmark.Session, runID app.RunID, cfg *config.Config, status *app.ExitStatus, log zerolog.Logger, shutdown fx.Shutdowner) {
	app.RegisterRun(lifecycle, shutdown, status, log, func(ctx context.Context) int {
		// stdout carries only the JSON summary when it is requested
		out := os.Stdout
		if cfg.Output.JSON {
			out = os.Stderr
		}
		console := report.NewConsoleReporter(out)
		console.PrintHeader(cfg, string(runID))

		result, err := session.Run(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Probe failed: %v\n", err)
		} else {
			printResult(console, cfg, result)
		}

		return app.ExitCode(result, err, cfg.SLO.Assert)
	})
}

func printResult(console *report.ConsoleReporter, cfg *config.Config, result *benchmark.Result) {
	console.PrintSummary(result.Summary)
	if cfg.Metrics.Sink != config.SinkNone {
		console.PrintMetrics(result.Metrics)
	}

	if cfg.Output.JSON {
		if err := report.WriteJSON(os.Stdout, result.Summary, result.Verdict); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write JSON summary: %v\n", err)
		}
	}

	if cfg.Output.ReportFile != "" {
		md := report.NewMarkdownReporter(cfg)
		if err := md.SaveToFile(md.Generate(result), cfg.Output.ReportFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save report: %v\n", err)
		} else {
			console.PrintReportSaved(cfg.Output.ReportFile)
		}
	}

	console.PrintVerdict(result.Verdict, cfg.SLO.Assert)
}
