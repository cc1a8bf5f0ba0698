package main

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"time"
)

// Distribution summarises a set of durations.
type Distribution struct {
	Min  time.Duration `json:"min_ns"`
	Max  time.Duration `json:"max_ns"`
	Mean time.Duration `json:"mean_ns"`
	P50  time.Duration `json:"p50_ns"`
	P95  time.Duration `json:"p95_ns"`
	P99  time.Duration `json:"p99_ns"`
}

func distribution(ds []time.Duration) Distribution {
	if len(ds) == 0 {
		return Distribution{}
	}
	sorted := slices.Clone(ds)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return Distribution{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: sum / time.Duration(len(sorted)),
		P50:  percentile(sorted, 0.50),
		P95:  percentile(sorted, 0.95),
		P99:  percentile(sorted, 0.99),
	}
}

// percentile uses the nearest-rank-below index on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// FeatureSummary is the per-feature breakdown.
type FeatureSummary struct {
	Requests    int           `json:"requests"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
}

// Summary aggregates a run.
type Summary struct {
	Total      int                       `json:"total"`
	Succeeded  int                       `json:"succeeded"`
	Failed     int                       `json:"failed"`
	Errors     map[string]int            `json:"errors,omitempty"`
	Elapsed    time.Duration             `json:"elapsed_ns"`
	RPS        float64                   `json:"requests_per_second"`
	Duration   Distribution              `json:"duration"`
	TTFB       Distribution              `json:"ttfb"`
	Streaming  Distribution              `json:"streaming"`
	Messages   int                       `json:"messages"`
	PerFeature map[string]FeatureSummary `json:"per_feature,omitempty"`
}

// SuccessRate is the share of successful requests in [0, 1].
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total)
}

func summarize(results []Result, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), Elapsed: elapsed, Errors: map[string]int{}, PerFeature: map[string]FeatureSummary{}}
	if elapsed > 0 {
		s.RPS = float64(len(results)) / elapsed.Seconds()
	}

	var durations, ttfbs, streaming []time.Duration
	featureTotals := map[string]time.Duration{}
	for _, r := range results {
		if !r.Success {
			s.Failed++
			s.Errors[r.Error]++
			continue
		}
		s.Succeeded++
		s.Messages += r.Messages
		durations = append(durations, r.Duration)
		ttfbs = append(ttfbs, r.TTFB)
		streaming = append(streaming, r.Streaming)

		fs := s.PerFeature[r.FeatureID]
		fs.Requests++
		s.PerFeature[r.FeatureID] = fs
		featureTotals[r.FeatureID] += r.Duration
	}
	for id, fs := range s.PerFeature {
		fs.AvgDuration = featureTotals[id] / time.Duration(fs.Requests)
		s.PerFeature[id] = fs
	}

	s.Duration = distribution(durations)
	s.TTFB = distribution(ttfbs)
	s.Streaming = distribution(streaming)
	return s
}

// Print renders the human-readable report.
func (s Summary) Print(w io.Writer) {
	rule := strings.Repeat("=", 70)
	sub := strings.Repeat("-", 70)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "LOAD TEST RESULTS")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Success Rate: %d/%d (%.1f%%)\n", s.Succeeded, s.Total, s.SuccessRate()*100)

	if s.Failed > 0 {
		fmt.Fprintf(w, "\nFailed Requests: %d\nError Breakdown:\n", s.Failed)
		keys := make([]string, 0, len(s.Errors))
		for k := range s.Errors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  - %s: %d\n", k, s.Errors[k])
		}
	}
	if s.Succeeded == 0 {
		fmt.Fprintln(w, "\nNo successful requests to analyze")
		return
	}

	fmt.Fprintf(w, "\n%s\nPERFORMANCE METRICS\n%s\n", sub, sub)
	fmt.Fprintf(w, "Total Duration: %.2fs\n", s.Elapsed.Seconds())
	fmt.Fprintf(w, "Requests per second: %.2f\n", s.RPS)
	printDistribution(w, "Request Duration", s.Duration)
	printDistribution(w, "Time to First Byte (TTFB)", s.TTFB)
	printDistribution(w, "Streaming Time", s.Streaming)
	fmt.Fprintf(w, "\nMessages Received:\n  Total:   %d\n  Average: %.1f per request\n",
		s.Messages, float64(s.Messages)/float64(s.Succeeded))

	if len(s.PerFeature) > 1 {
		fmt.Fprintf(w, "\n%s\nPER-FEATURE BREAKDOWN\n%s\n", sub, sub)
		ids := make([]string, 0, len(s.PerFeature))
		for id := range s.PerFeature {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fs := s.PerFeature[id]
			fmt.Fprintf(w, "%s: %d requests, avg %.2fs\n", id, fs.Requests, fs.AvgDuration.Seconds())
		}
	}

	fmt.Fprintf(w, "\n%s\nLATENCY PERCENTILES\n%s\n", sub, sub)
	fmt.Fprintf(w, "P50: %.2fs\nP95: %.2fs\nP99: %.2fs\n", s.Duration.P50.Seconds(), s.Duration.P95.Seconds(), s.Duration.P99.Seconds())
	fmt.Fprintln(w, rule)
}

func printDistribution(w io.Writer, title string, d Distribution) {
	fmt.Fprintf(w, "\n%s:\n  Min:     %.3fs\n  Max:     %.3fs\n  Average: %.3fs\n",
		title, d.Min.Seconds(), d.Max.Seconds(), d.Mean.Seconds())
}
