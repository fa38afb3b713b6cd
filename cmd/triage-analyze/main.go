// Package main provides a CLI for submitting logs to the classification API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"alert-triage/internal/app"
	"alert-triage/internal/config"
	"alert-triage/internal/encryption"
	triageerrors "alert-triage/internal/errors"
	"alert-triage/internal/logging"
	"alert-triage/internal/schema"
	"alert-triage/internal/triage"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "file":
		os.Exit(runFileCmd(os.Args[2:]))
	case "text":
		os.Exit(runTextCmd(os.Args[2:]))
	case "search":
		os.Exit(runSearchCmd(os.Args[2:]))
	case "keygen":
		os.Exit(runKeygenCmd())
	case "-version", "--version", "-v":
		fmt.Printf("triage-analyze %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: triage-analyze <command> [flags] [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  file    Classify a log file (use - for stdin)\n")
	fmt.Fprintf(os.Stderr, "  text    Classify a single log line\n")
	fmt.Fprintf(os.Stderr, "  search  List stored records matching a query, e.g. 'severity>=high time>now-1h'\n")
	fmt.Fprintf(os.Stderr, "  keygen  Print a new key for session.encryption_key\n\n")
	fmt.Fprintf(os.Stderr, "Credentials are read from -email/-password or TRIAGE_EMAIL/TRIAGE_PASSWORD.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fmt.Fprintf(os.Stderr, "  -version  Show version and exit\n")
}

func runKeygenCmd() int {
	key, err := encryption.GenerateKeyBase64()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(key)
	return 0
}

type credentials struct {
	email    string
	password string
	verbose  bool
}

func (c *credentials) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.email, "email", os.Getenv("TRIAGE_EMAIL"), "Account email")
	fs.StringVar(&c.password, "password", "", "Account password (prefer TRIAGE_PASSWORD)")
	fs.BoolVar(&c.verbose, "verbose", false, "Log to stderr at debug level")
}

func runFileCmd(args []string) int {
	fs := flag.NewFlagSet("file", flag.ExitOnError)
	var creds credentials
	creds.bind(fs)
	export := fs.Bool("export", false, "Export the full report to the configured bucket")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: exactly one file is required\n")
		fmt.Fprintf(os.Stderr, "Usage: triage-analyze file [-export] [-email addr] <path>\n")
		return 1
	}
	path := fs.Arg(0)

	return withConsole(creds, func(ctx context.Context, console *triage.Console) int {
		var (
			r    io.Reader
			name string
		)
		if path == "-" {
			r, name = os.Stdin, "stdin.log"
		} else {
			f, err := os.Open(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			defer f.Close()
			r, name = f, filepath.Base(path)
		}

		res, err := console.AnalyzeFile(ctx, name, r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", triageerrors.Display(err))
			return 1
		}
		printBatch(os.Stdout, res)

		if *export {
			key, err := console.ExportReport(ctx, res)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", triageerrors.Display(err))
				return 1
			}
			fmt.Printf("\nReport exported: %s\n", key)
		}
		return 0
	})
}

func runTextCmd(args []string) int {
	fs := flag.NewFlagSet("text", flag.ExitOnError)
	var creds credentials
	creds.bind(fs)
	fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		fmt.Fprintf(os.Stderr, "Error: log text is required\n")
		fmt.Fprintf(os.Stderr, "Usage: triage-analyze text [-email addr] <log line>\n")
		return 1
	}

	return withConsole(creds, func(ctx context.Context, console *triage.Console) int {
		res, err := console.AnalyzeText(ctx, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", triageerrors.Display(err))
			return 1
		}
		printText(os.Stdout, res)
		return 0
	})
}

func runSearchCmd(args []string) int {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	var creds credentials
	creds.bind(fs)
	fs.Parse(args)

	query := strings.Join(fs.Args(), " ")

	return withConsole(creds, func(ctx context.Context, console *triage.Console) int {
		views, err := console.Search(ctx, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", triageerrors.Display(err))
			return 1
		}
		printRecords(os.Stdout, views)
		return 0
	})
}

// withConsole builds the console, signs in, runs fn and signs out again.
func withConsole(creds credentials, fn func(context.Context, *triage.Console) int) int {
	if creds.password == "" {
		creds.password = os.Getenv("TRIAGE_PASSWORD")
	}
	if creds.email == "" || creds.password == "" {
		fmt.Fprintf(os.Stderr, "Error: email and password are required\n")
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return 1
	}
	triageerrors.ShowDetail(cfg.API.ShowErrorDetail)
	// A one-shot run must not replace the console's stored session.
	cfg.Session.Store = "memory"

	level := "warn"
	if creds.verbose {
		level = "debug"
	}
	logger, closer, err := logging.New(logging.Options{Level: level, Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	s, err := a.Console.Login(ctx, creds.email, creds.password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", triageerrors.Display(err))
		return 1
	}
	defer a.Console.Logout(context.Background())

	if s.RequirePasswordReset {
		fmt.Fprintf(os.Stderr, "Error: this account must reset its password in the console first\n")
		return 1
	}

	return fn(ctx, a.Console)
}

func printText(w io.Writer, res *triage.TextAnalysis) {
	r := res.Record
	fmt.Fprintf(w, "Prediction: %s\n", strings.ToUpper(string(r.Prediction)))
	fmt.Fprintf(w, "Score:      %.4f\n", r.Score)
	if r.Prediction.IsAlert() {
		fmt.Fprintf(w, "Severity:   %s\n", strings.ToUpper(string(res.Severity)))
	}
	for _, p := range schema.Predictions {
		if v, ok := r.Probabilities[string(p)]; ok {
			fmt.Fprintf(w, "  %-11s %.4f\n", string(p)+":", v)
		}
	}
	if len(res.Actions) > 0 {
		fmt.Fprintf(w, "\nRecommended actions:\n")
		for i, act := range res.Actions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, act)
		}
	}
}

func printRecords(w io.Writer, views []triage.RecordView) {
	fmt.Fprintf(w, "%d records\n", len(views))
	if len(views) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%-10s %-10s %-8s %-6s  %s\n", "AGE", "LABEL", "SEVERITY", "SCORE", "EVENT")
	for _, v := range views {
		r := v.Record
		sev := "-"
		if v.Alert {
			sev = v.Label
		}
		fmt.Fprintf(w, "%-10s %-10s %-8s %.4f  %s\n", v.Age, r.Prediction, sev, r.Score, truncate(r.Event, 80))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

func printBatch(w io.Writer, res *triage.BatchAnalysis) {
	b := res.Result
	fmt.Fprintf(w, "%s: %d records\n", res.Filename, b.TotalCount)
	fmt.Fprintf(w, "  normal:     %d\n", b.Count(schema.PredictionNormal))
	fmt.Fprintf(w, "  suspicious: %d\n", b.Count(schema.PredictionSuspicious))
	fmt.Fprintf(w, "  malicious:  %d\n", b.Count(schema.PredictionMalicious))
	if res.Mismatch {
		fmt.Fprintf(w, "Warning: the server's totals disagreed with its records; counts above are from the records.\n")
	}

	if len(res.Preview.Records) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%-10s %-6s  %s\n", "LABEL", "SCORE", "LOG")
	for _, r := range res.Preview.Records {
		fmt.Fprintf(w, "%-10s %.4f  %s\n", r.Prediction, r.Score, truncate(r.Original, 100))
	}
	if res.Preview.Truncated() {
		fmt.Fprintf(w, "%s\n", res.Preview.Notice)
	}
}
