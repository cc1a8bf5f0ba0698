// Package main - SSE client for genstream load runs.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const doneSentinel = "[DONE]"

// StreamClient opens genstream event streams.
type StreamClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewStreamClient creates a client. timeout bounds one whole stream.
func NewStreamClient(baseURL string, timeout time.Duration, maxConns int) *StreamClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = maxConns
	return &StreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Result captures one stream request.
type Result struct {
	FeatureID string        `json:"feature_id"`
	ChatID    string        `json:"chat_id"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Messages  int           `json:"messages"`
	Duration  time.Duration `json:"duration_ns"`
	// TTFB is the time until the first non-empty line arrived.
	TTFB time.Duration `json:"ttfb_ns"`
	// Streaming is the time from the first line to the completion marker.
	Streaming time.Duration `json:"streaming_ns"`
}

// Health fetches /health and returns the raw payload.
func (c *StreamClient) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return out, nil
}

// Stream requests one session and consumes it until the completion marker.
func (c *StreamClient) Stream(ctx context.Context, featureID, chatID string) (res Result) {
	res = Result{FeatureID: featureID, ChatID: chatID}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	q := url.Values{"feature_id": {featureID}, "chat_id": {chatID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stream?"+q.Encode(), nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		res.Error = classifyTransportError(err)
		return res
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return res
	}

	return consume(resp.Body, res, start)
}

// consume reads SSE frames from body. An error event or a stream that ends
// without the marker fails the result.
func consume(body io.Reader, res Result, start time.Time) Result {
	var firstByte time.Time
	inError := false

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			inError = false
			continue
		}
		if firstByte.IsZero() {
			firstByte = time.Now()
			res.TTFB = firstByte.Sub(start)
		}

		if line == "event: error" {
			inError = true
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if inError {
			res.Error = "stream error: " + errorCode(data)
			return res
		}
		if data == doneSentinel {
			res.Streaming = time.Since(firstByte)
			res.Success = true
			return res
		}
		if json.Valid([]byte(data)) {
			res.Messages++
		}
	}
	if err := sc.Err(); err != nil {
		res.Error = classifyTransportError(err)
		return res
	}
	res.Error = "stream ended without completion marker"
	return res
}

func errorCode(data string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Error == "" {
		return "unknown"
	}
	return payload.Error
}

func classifyTransportError(err error) string {
	switch {
	case strings.Contains(err.Error(), "Client.Timeout"), strings.Contains(err.Error(), "deadline exceeded"):
		return "timeout"
	case strings.Contains(err.Error(), "connection refused"):
		return "connection refused"
	case strings.Contains(err.Error(), "context canceled"):
		return "canceled"
	default:
		return err.Error()
	}
}
