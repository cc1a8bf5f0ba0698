// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"fmt"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/genstream/internal/eventlog"
	"github.com/ManuGH/genstream/internal/gateway"
	"github.com/ManuGH/genstream/internal/health"
	"github.com/ManuGH/genstream/internal/session"
	"github.com/ManuGH/genstream/internal/taskqueue"
	"github.com/ManuGH/genstream/internal/worker"
)

type fixture struct {
	store *eventlog.MemoryStore
	queue *taskqueue.MemoryQueue
	ts    *httptest.Server
}

func newFixture(t *testing.T, readTimeout time.Duration, withWorkers bool) *fixture {
	t.Helper()
	store := eventlog.NewMemoryStore(time.Minute)
	queue := taskqueue.NewMemoryQueue()

	if withWorkers {
		w := worker.New(store, queue, worker.Config{ProducerID: "api-test", FeatureID: "default", EventCount: 20, EventInterval: time.Millisecond})
		p := worker.NewPool(w, queue, worker.PoolConfig{Replicas: 1, PollInterval: 2 * time.Millisecond})
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	gw := gateway.New(store, queue, gateway.Config{ReadTimeout: readTimeout})
	hm := health.NewManager("test", "default")
	hm.RegisterChecker(health.NewStaticChecker("eventlog", health.CheckResult{Status: health.StatusHealthy}))
	srv := New(gw, hm, Config{FeatureID: "default", Version: "test"})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{store: store, queue: queue, ts: ts}
}

type sseFrame struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body io.Reader) []sseFrame {
	t.Helper()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	var frames []sseFrame
	for _, block := range strings.Split(string(raw), "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
			}
		}
		frames = append(frames, f)
	}
	return frames
}

func eventIDs(t *testing.T, frames []sseFrame) []uint64 {
	t.Helper()
	var ids []uint64
	for _, f := range frames {
		if f.data == session.DoneSentinel || f.event != "" {
			continue
		}
		var ev session.Event
		require.NoError(t, json.Unmarshal([]byte(f.data), &ev))
		ids = append(ids, ev.ID)
	}
	return ids
}

func seq(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i)
	}
	return out
}

func decodeError(t *testing.T, r io.Reader) apiError {
	t.Helper()
	var e apiError
	require.NoError(t, json.NewDecoder(r).Decode(&e))
	return e
}

func TestStream_SSE_TwentyEventsThenDone(t *testing.T) {
	f := newFixture(t, 2*time.Second, true)

	resp, err := http.Get(f.ts.URL + "/stream?feature_id=feature1&chat_id=chat1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "chat1", resp.Header.Get(HeaderChatID))

	frames := parseSSE(t, resp.Body)
	require.NotEmpty(t, frames)
	assert.Equal(t, session.DoneSentinel, frames[len(frames)-1].data)
	if diff := cmp.Diff(seq(20), eventIDs(t, frames)); diff != "" {
		t.Fatalf("event ids mismatch (-want +got):\n%s", diff)
	}

	var first session.Event
	require.NoError(t, json.Unmarshal([]byte(frames[0].data), &first))
	assert.Equal(t, "feature1", first.FeatureID)
	assert.Equal(t, "chat1", first.ChatID)
	assert.Equal(t, "api-test", first.ContainerID)
	assert.Equal(t, "Message 0 from feature feature1, chat chat1", first.Message)
}

func TestStream_SSE_PostJSONBody(t *testing.T) {
	f := newFixture(t, 2*time.Second, true)

	resp, err := http.Post(f.ts.URL+"/stream", "application/json", strings.NewReader(`{"feature_id":"search","chat_id":"c42"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	frames := parseSSE(t, resp.Body)
	assert.Equal(t, seq(20), eventIDs(t, frames))
	assert.Equal(t, "c42", resp.Header.Get(HeaderChatID))
}

func TestStream_SSE_DefaultsFeatureAndGeneratesChat(t *testing.T) {
	f := newFixture(t, 2*time.Second, true)

	resp, err := http.Get(f.ts.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	chatID := resp.Header.Get(HeaderChatID)
	assert.Len(t, chatID, 36)

	frames := parseSSE(t, resp.Body)
	var first session.Event
	require.NoError(t, json.Unmarshal([]byte(frames[0].data), &first))
	assert.Equal(t, "default", first.FeatureID)
	assert.Equal(t, chatID, first.ChatID)
}

func TestStream_InvalidKeyIs400(t *testing.T) {
	f := newFixture(t, time.Second, false)

	resp, err := http.Get(f.ts.URL + "/stream?feature_id=f&chat_id=a:b")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	e := decodeError(t, resp.Body)
	assert.Equal(t, codeInvalidRequest, e.Error)
	assert.NotEmpty(t, e.RequestID)
}

func TestStream_MalformedBodyIs400(t *testing.T) {
	f := newFixture(t, time.Second, false)

	resp, err := http.Post(f.ts.URL+"/stream", "application/json", strings.NewReader(`{"feature_id":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStream_StoreUnavailableIs503(t *testing.T) {
	f := newFixture(t, time.Second, false)
	require.NoError(t, f.store.Close())

	resp, err := http.Get(f.ts.URL + "/stream?feature_id=f&chat_id=c")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, codeUnavailable, decodeError(t, resp.Body).Error)
}

func TestStream_NoProducerIs504(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond, false)

	resp, err := http.Get(f.ts.URL + "/stream?feature_id=f&chat_id=c")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, codeTimeout, decodeError(t, resp.Body).Error)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending, "task stays queued for a later worker")
}

func TestStream_MidStreamErrorIsSSEErrorEvent(t *testing.T) {
	f := newFixture(t, time.Second, false)
	key := session.MustKey("f", "gap")
	ctx := context.Background()
	require.NoError(t, f.store.Append(ctx, key, session.EventEntry(session.Event{ID: 0, FeatureID: "f", ChatID: "gap"})))
	require.NoError(t, f.store.Append(ctx, key, session.EventEntry(session.Event{ID: 2, FeatureID: "f", ChatID: "gap"})))

	resp, err := http.Get(f.ts.URL + "/stream?feature_id=f&chat_id=gap")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := parseSSE(t, resp.Body)
	require.Len(t, frames, 2)
	assert.Equal(t, []uint64{0}, eventIDs(t, frames))
	assert.Equal(t, "error", frames[1].event)

	var e apiError
	require.NoError(t, json.Unmarshal([]byte(frames[1].data), &e))
	assert.Equal(t, codeSequenceGap, e.Error)
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestWS_RelaysEventsAndClosesNormally(t *testing.T) {
	f := newFixture(t, 2*time.Second, true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(f.ts, "/ws?feature_id=feature1&chat_id=ws1"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	var ids []uint64
	for {
		typ, b, err := conn.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, websocket.MessageText, typ)
		if string(b) == session.DoneSentinel {
			break
		}
		var ev session.Event
		require.NoError(t, json.Unmarshal(b, &ev))
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, seq(20), ids)

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestWS_TimeoutSendsErrorFrame(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(f.ts, "/ws?feature_id=f&chat_id=c"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	_, b, err := conn.Read(ctx)
	require.NoError(t, err)
	var e apiError
	require.NoError(t, json.Unmarshal(b, &e))
	assert.Equal(t, codeTimeout, e.Error)

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusTryAgainLater, websocket.CloseStatus(err))
}

func TestWS_InvalidKeyRejectedBeforeUpgrade(t *testing.T) {
	f := newFixture(t, time.Second, false)

	resp, err := http.Get(f.ts.URL + "/ws?feature_id=bad%20feature&chat_id=c")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndInfo(t *testing.T) {
	f := newFixture(t, time.Second, false)

	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	var h health.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	resp.Body.Close()
	assert.Equal(t, health.StatusHealthy, h.Status)
	assert.Equal(t, "default", h.FeatureID)

	resp, err = http.Get(f.ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	resp.Body.Close()
	assert.Contains(t, h.Checks, "eventlog")

	resp, err = http.Get(f.ts.URL + "/")
	require.NoError(t, err)
	var info infoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, "genstream", info.Service)
	assert.Equal(t, "default", info.FeatureID)
	assert.Contains(t, info.Endpoints, "/stream")
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	f := newFixture(t, time.Second, false)

	resp, err := http.Get(f.ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, resp.Body).Error)

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/stream", nil)
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestMetricsHandler(t *testing.T) {
	f := newFixture(t, 2*time.Second, true)
	resp, err := http.Get(f.ts.URL + "/stream?feature_id=m&chat_id=m1")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "genstream_http_request_duration_seconds")
	assert.Contains(t, body, `path="/stream"`)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{session.ErrInvalidKey, http.StatusBadRequest, codeInvalidRequest},
		{eventlog.ErrReadTimeout, http.StatusGatewayTimeout, codeTimeout},
		{eventlog.ErrLogUnavailable, http.StatusServiceUnavailable, codeUnavailable},
		{taskqueue.ErrQueueUnavailable, http.StatusServiceUnavailable, codeUnavailable},
		{fmt.Errorf("%w: dial tcp: %w", eventlog.ErrLogUnavailable, context.DeadlineExceeded), http.StatusServiceUnavailable, codeUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, codeTimeout},
		{gateway.ErrSequenceGap, http.StatusBadGateway, codeSequenceGap},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
