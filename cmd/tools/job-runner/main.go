// Package main implements the job-runner CLI: run one named background job
// once against the configured database and AWS resources, outside the
// long-running scheduler.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --list
//	go run ./cmd/tools/job-runner --job=cleanup
//	go run ./cmd/tools/job-runner --job=event_reminders --timeout=2m
//	go run ./cmd/tools/job-runner --job=cleanup --secrets-file=secrets.json
//
// Configuration is read exactly as the scheduler reads it (environment,
// .env file, SSM pointers). --secrets-file resolves the SSM pointers from a
// JSON object of path to value instead of calling AWS. The run goes through the engine's registry, so
// it reports the same Result and is not retried on failure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"clubhouse/internal/app"
	"clubhouse/internal/config"
	"clubhouse/internal/scheduler"
)

func main() {
	jobFlag := flag.String("job", "", "Job to execute (e.g., cleanup)")
	listFlag := flag.Bool("list", false, "List all available jobs and exit")
	timeoutFlag := flag.Duration("timeout", 30*time.Minute, "Abort the run after this long")
	secretsFlag := flag.String("secrets-file", "", "JSON file of SSM parameter values, used instead of AWS")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run one Clubhouse background job once.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available jobs.\n")
	}
	flag.Parse()

	if *listFlag {
		printJobs(os.Stdout)
		return
	}

	if *jobFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --job is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	name, err := parseJob(*jobFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		printJobs(os.Stderr)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeoutFlag)
	defer cancelTimeout()

	provider, err := secretProvider(*secretsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if code := run(ctx, name, provider); code != 0 {
		os.Exit(code)
	}
}

// secretProvider returns nil without a file so app.LoadConfig falls back to SSM.
func secretProvider(path string) (config.SecretProvider, error) {
	if path == "" {
		return nil, nil
	}
	return config.LoadStaticProvider(path)
}

func run(ctx context.Context, name scheduler.JobName, provider config.SecretProvider) int {
	cfg, err := app.LoadConfig(ctx, provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg.LogLevel)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.ErrorContext(ctx, "wiring failed", "error", err)
		return 1
	}
	defer a.Close(context.Background())

	res, runErr := a.Engine.ExecuteJobManually(ctx, name)
	if err := printResult(os.Stdout, res, runErr); err != nil {
		logger.ErrorContext(ctx, "failed to print result", "error", err)
	}
	if runErr != nil {
		logger.ErrorContext(ctx, "job execution failed", "job", string(name), "error", runErr)
		return 1
	}
	logger.InfoContext(ctx, "job execution succeeded",
		"job", string(name),
		"processed", res.TotalProcessed,
		"error_count", len(res.Errors),
	)
	return 0
}

func parseJob(s string) (scheduler.JobName, error) {
	name := scheduler.JobName(s)
	if _, ok := scheduler.JobDescriptions[name]; !ok {
		return "", fmt.Errorf("unknown job %q", s)
	}
	return name, nil
}

// runOutput is the JSON document printed after a run.
type runOutput struct {
	Result     scheduler.Result `json:"result"`
	DurationMs int64            `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
}

func printResult(w io.Writer, res scheduler.Result, runErr error) error {
	out := runOutput{Result: res, DurationMs: res.Duration.Milliseconds()}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printJobs(w io.Writer) {
	names := make([]string, 0, len(scheduler.JobDescriptions))
	for name := range scheduler.JobDescriptions {
		names = append(names, string(name))
	}
	sort.Strings(names)

	fmt.Fprintf(w, "Available jobs:\n\n")
	for _, name := range names {
		fmt.Fprintf(w, "  %-20s %s\n", name, scheduler.JobDescriptions[scheduler.JobName(name)])
	}
}
