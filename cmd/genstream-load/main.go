// Package main implements genstream-load, a stream load generator.
// Burst mode fires a fixed number of concurrent sessions and reports
// latency percentiles. Sustained mode keeps the workers busy until the
// duration elapses so autoscaling can be observed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// Config holds command-line configurations.
type Config struct {
	BaseURL        string
	Requests       int
	Concurrency    int
	Features       int
	Sustained      bool
	Duration       time.Duration
	Timeout        time.Duration
	ReportPath     string
	MinSuccessRate float64
	SkipHealth     bool
}

// Report is the JSON output of one run.
type Report struct {
	RunID     string    `json:"run_id"`
	Mode      string    `json:"mode"`
	BaseURL   string    `json:"base_url"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Summary   Summary   `json:"summary"`
	Results   []Result  `json:"results,omitempty"`
}

func main() {
	cfg := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := NewStreamClient(cfg.BaseURL, cfg.Timeout, max(cfg.Concurrency, cfg.Requests))
	if !cfg.SkipHealth {
		if err := precheck(ctx, client, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Server not reachable at %s: %v\n", cfg.BaseURL, err)
			os.Exit(1)
		}
	}

	report := run(ctx, cfg, client, os.Stdout)
	report.Summary.Print(os.Stdout)

	if cfg.ReportPath != "" {
		if err := writeReport(cfg.ReportPath, report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Report written to %s\n", cfg.ReportPath)
	}

	if cfg.MinSuccessRate > 0 && report.Summary.SuccessRate() < cfg.MinSuccessRate {
		fmt.Fprintf(os.Stderr, "Success rate %.1f%% below required %.1f%%\n",
			report.Summary.SuccessRate()*100, cfg.MinSuccessRate*100)
		os.Exit(1)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8000", "genstream gateway endpoint")
	flag.IntVar(&cfg.Requests, "requests", 10, "Number of stream requests in burst mode")
	flag.IntVar(&cfg.Concurrency, "concurrency", 0, "Max in-flight requests (0=requests in burst mode, 5 in sustained mode)")
	flag.IntVar(&cfg.Features, "features", 3, "Number of distinct feature ids to spread load over")
	flag.BoolVar(&cfg.Sustained, "sustained", false, "Loop requests until -duration elapses")
	flag.DurationVar(&cfg.Duration, "duration", 5*time.Minute, "Sustained mode duration")
	flag.DurationVar(&cfg.Timeout, "timeout", 90*time.Second, "Per-stream timeout")
	flag.StringVar(&cfg.ReportPath, "report", "", "Write a JSON report to this path")
	flag.Float64Var(&cfg.MinSuccessRate, "min-success-rate", 0, "Exit non-zero below this success rate (0..1)")
	flag.BoolVar(&cfg.SkipHealth, "skip-health", false, "Skip the /health precheck")

	flag.Parse()
	return cfg.normalize()
}

func (cfg Config) normalize() Config {
	cfg.Requests = max(cfg.Requests, 1)
	cfg.Features = max(cfg.Features, 1)
	if cfg.Concurrency <= 0 {
		if cfg.Sustained {
			cfg.Concurrency = 5
		} else {
			cfg.Concurrency = cfg.Requests
		}
	}
	return cfg
}

func precheck(ctx context.Context, client *StreamClient, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Server health: %v (feature %v)\n", health["status"], health["feature_id"])
	return nil
}

// run drives the load and aggregates the results. Cancelling ctx stops
// sustained mode early; requests in flight are abandoned.
func run(ctx context.Context, cfg Config, client *StreamClient, out io.Writer) Report {
	report := Report{
		RunID:     ulid.Make().String(),
		Mode:      "burst",
		BaseURL:   cfg.BaseURL,
		StartedAt: time.Now(),
	}
	if cfg.Sustained {
		report.Mode = "sustained"
	}

	var (
		mu      sync.Mutex
		results []Result
	)
	record := func(r Result) {
		mu.Lock()
		results = append(results, r)
		n := len(results)
		mu.Unlock()
		if n%10 == 0 {
			fmt.Fprintf(out, "Progress: %d requests completed\n", n)
		}
	}

	if cfg.Sustained {
		fmt.Fprintf(out, "Sustained load: %d workers over %d features for %s\n", cfg.Concurrency, cfg.Features, cfg.Duration)
		runSustained(ctx, cfg, client, report.RunID, record)
	} else {
		fmt.Fprintf(out, "Burst load: %d requests, %d in flight, %d features\n", cfg.Requests, cfg.Concurrency, cfg.Features)
		runBurst(ctx, cfg, client, record)
	}

	report.EndedAt = time.Now()
	report.Results = results
	report.Summary = summarize(results, report.EndedAt.Sub(report.StartedAt))
	return report
}

func runBurst(ctx context.Context, cfg Config, client *StreamClient, record func(Result)) {
	g := new(errgroup.Group)
	g.SetLimit(cfg.Concurrency)
	for i := range cfg.Requests {
		g.Go(func() error {
			record(client.Stream(ctx, featureFor(i, cfg.Features), fmt.Sprintf("chat-%d", i)))
			return nil
		})
	}
	_ = g.Wait()
}

// runSustained issues a fresh chat id per request so every request starts
// a new generation instead of replaying a finished log.
func runSustained(ctx context.Context, cfg Config, client *StreamClient, runID string, record func(Result)) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var seq atomic.Int64
	g := new(errgroup.Group)
	for range cfg.Concurrency {
		g.Go(func() error {
			for ctx.Err() == nil {
				i := int(seq.Add(1) - 1)
				r := client.Stream(ctx, featureFor(i, cfg.Features), fmt.Sprintf("chat-%s-%d", runID, i))
				if ctx.Err() != nil && !r.Success {
					return nil
				}
				record(r)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func featureFor(i, features int) string {
	return fmt.Sprintf("feature-%d", i%features)
}

func writeReport(path string, report Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
