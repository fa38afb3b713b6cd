// Package main provides the terminal entry point for the alert triage console
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"alert-triage/internal/app"
	"alert-triage/internal/config"
	triageerrors "alert-triage/internal/errors"
	"alert-triage/internal/logging"
	"alert-triage/internal/startup"
	"alert-triage/internal/tui"
)

var (
	version = "dev"
)

func main() {
	var (
		showVersion bool
		diagnose    bool
		apiURL      string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit (shorthand)")
	flag.BoolVar(&diagnose, "diagnose", false, "Run startup diagnostics and exit")
	flag.StringVar(&apiURL, "api", "", "Classification API base URL (overrides config)")
	flag.StringVar(&apiURL, "a", "", "Classification API base URL (shorthand)")
	flag.Parse()

	if showVersion {
		fmt.Printf("triage %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(diagnose, apiURL))
}

func run(diagnose bool, apiURL string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return 1
	}
	triageerrors.ShowDetail(cfg.API.ShowErrorDetail)
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	// The console owns the terminal, so logs go to a file unless diagnosing.
	logOpts := logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File}
	if logOpts.File == "" && !diagnose {
		logOpts.File = "triage.log"
	}
	if diagnose {
		logOpts.File = ""
		logOpts.Format = "text"
	}
	logger, closer, err := logging.New(logOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start console", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		logger.Info("console stopped")
	}()

	if diagnose {
		fmt.Print(startup.Banner(version))
		report := startup.New(cfg, logger).WithAPI(a.Client).Run(ctx)
		if report.Failed() {
			return 1
		}
		return 0
	}

	if _, restored, err := a.Console.Restore(ctx); err != nil {
		logger.Warn("stored session not restored", "error", err)
	} else if restored {
		logger.Info("session restored")
	}

	logger.Info("starting console", "version", version, "api", cfg.API.BaseURL)
	if err := tui.Run(a.Console); err != nil {
		logger.Error("console error", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
