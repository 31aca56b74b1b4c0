package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aramnhammer/mqtt-to-influxdb/internal/deadletter"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/config"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/logging"
)

// fakeChecker returns a fixed health result.
type fakeChecker struct {
	err error
}

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

// fakeDeadLetters serves a fixed set of entries.
type fakeDeadLetters struct {
	entries  []deadletter.Entry
	err      error
	gotLimit int
}

func (f *fakeDeadLetters) GetByID(_ context.Context, id string) (*deadletter.Entry, error) {
	for i := range f.entries {
		if f.entries[i].ID == id {
			return &f.entries[i], nil
		}
	}
	return nil, deadletter.ErrNotFound
}

func (f *fakeDeadLetters) List(_ context.Context, limit int) ([]deadletter.Entry, error) {
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeDeadLetters) Count(context.Context) (int, error) {
	return len(f.entries), f.err
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server whose dependencies are all healthy fakes.
func testServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:   testLogger(),
		MQTT:     fakeChecker{},
		InfluxDB: fakeChecker{},
		Database: fakeChecker{},
		Version:  "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func doRequest(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_RequiresLoggerAndMQTT(t *testing.T) {
	if _, err := New(Deps{MQTT: fakeChecker{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without MQTT checker should fail")
	}
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Deps)
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all healthy",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "mqtt down",
			mutate:     func(d *Deps) { d.MQTT = fakeChecker{err: errors.New("mqtt: client not connected")} },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unavailable",
		},
		{
			name:       "influxdb down",
			mutate:     func(d *Deps) { d.InfluxDB = fakeChecker{err: errors.New("connection refused")} },
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name: "mqtt and database down",
			mutate: func(d *Deps) {
				d.MQTT = fakeChecker{err: errors.New("down")}
				d.Database = fakeChecker{err: errors.New("locked")}
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, testServer(t, tt.mutate), "/health")

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}

			var resp HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != "test" {
				t.Errorf("version = %q", resp.Version)
			}
			if len(resp.Components) != 3 {
				t.Errorf("components = %v, want mqtt, influxdb, database", resp.Components)
			}
		})
	}
}

func TestHealth_OptionalComponentsOmitted(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.InfluxDB = nil
		d.Database = nil
		d.QueueDepth = func() int { return 7 }
	})

	rec := doRequest(t, srv, "/health")

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if _, ok := resp.Components["mqtt"]; !ok || len(resp.Components) != 1 {
		t.Errorf("components = %v, want only mqtt", resp.Components)
	}
	if resp.QueueDepth == nil || *resp.QueueDepth != 7 {
		t.Errorf("queue_depth = %v, want 7", resp.QueueDepth)
	}
}

func TestHealth_ReportsProbeError(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.InfluxDB = fakeChecker{err: errors.New("influxdb: ping failed")} })

	rec := doRequest(t, srv, "/health")
	if !strings.Contains(rec.Body.String(), "influxdb: ping failed") {
		t.Errorf("body = %s, want probe error", rec.Body.String())
	}
}

// =============================================================================
// Metrics Tests
// =============================================================================

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt2influx_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	srv := testServer(t, func(d *Deps) { d.Gatherer = reg })
	rec := doRequest(t, srv, "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mqtt2influx_test_total 3") {
		t.Errorf("body missing counter:\n%s", rec.Body.String())
	}
}

func TestMetrics_NotMountedWithoutGatherer(t *testing.T) {
	rec := doRequest(t, testServer(t, nil), "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", rec.Code)
	}
}

// =============================================================================
// Dead Letter Tests
// =============================================================================

func sampleEntries() []deadletter.Entry {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []deadletter.Entry{
		{ID: "dl-2", Topic: "bucket/f/temp.reading", Payload: `{"reading": 1}`, Stage: deadletter.StageDecode, Reason: "missing value", ReceivedAt: base, RecordedAt: base.Add(time.Second)},
		{ID: "dl-1", Topic: "bucket/f/hum.pct", Payload: `{"value": 1}`, Stage: deadletter.StageDeliver, Reason: "HTTP 401: unauthorized", ReceivedAt: base, RecordedAt: base},
	}
}

func TestListDeadLetters(t *testing.T) {
	store := &fakeDeadLetters{entries: sampleEntries()}
	srv := testServer(t, func(d *Deps) { d.DeadLetters = store })

	rec := doRequest(t, srv, "/api/v1/dead-letters")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, body = %s", rec.Code, rec.Body.String())
	}
	if store.gotLimit != deadletter.DefaultLimit {
		t.Errorf("limit = %d, want default %d", store.gotLimit, deadletter.DefaultLimit)
	}

	var resp DeadLetterList
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 2 || resp.Total != 2 || resp.DeadLetters[0].ID != "dl-2" {
		t.Errorf("response = %+v", resp)
	}
}

func TestListDeadLetters_Limit(t *testing.T) {
	store := &fakeDeadLetters{entries: sampleEntries()}
	srv := testServer(t, func(d *Deps) { d.DeadLetters = store })

	rec := doRequest(t, srv, "/api/v1/dead-letters?limit=1")

	var resp DeadLetterList
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if store.gotLimit != 1 || resp.Count != 1 || resp.Total != 2 {
		t.Errorf("limit=%d response = %+v", store.gotLimit, resp)
	}
}

func TestListDeadLetters_BadLimit(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.DeadLetters = &fakeDeadLetters{} })

	for _, q := range []string{"abc", "0", "-5"} {
		rec := doRequest(t, srv, "/api/v1/dead-letters?limit="+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status code = %d, want 400", q, rec.Code)
		}
	}
}

func TestListDeadLetters_StoreError(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.DeadLetters = &fakeDeadLetters{err: errors.New("disk I/O error")} })

	rec := doRequest(t, srv, "/api/v1/dead-letters")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk I/O") {
		t.Error("internal error details leaked to client")
	}
}

func TestDeadLetters_NotEnabled(t *testing.T) {
	srv := testServer(t, nil)

	for _, path := range []string{"/api/v1/dead-letters", "/api/v1/dead-letters/dl-1"} {
		rec := doRequest(t, srv, path)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status code = %d, want 503", path, rec.Code)
		}
	}
}

func TestGetDeadLetter(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.DeadLetters = &fakeDeadLetters{entries: sampleEntries()} })

	rec := doRequest(t, srv, "/api/v1/dead-letters/dl-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var e deadletter.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if e.Topic != "bucket/f/hum.pct" || e.Stage != deadletter.StageDeliver {
		t.Errorf("entry = %+v", e)
	}

	rec = doRequest(t, srv, "/api/v1/dead-letters/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing: status code = %d, want 404", rec.Code)
	}
}

// =============================================================================
// Middleware Tests
// =============================================================================

func TestRequestID(t *testing.T) {
	srv := testServer(t, nil)

	rec := doRequest(t, srv, "/health")
	if len(rec.Header().Get("X-Request-ID")) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", rec.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Errorf("X-Request-ID = %q, want client value", rec.Header().Get("X-Request-ID"))
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer(t, nil)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want 500", rec.Code)
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestStartClose(t *testing.T) {
	srv := testServer(t, nil)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close() //nolint:errcheck // Test cleanup
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status code = %d, body = %s", resp.StatusCode, body)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStart_AppliesConfiguredTimeouts(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Config.Timeouts = config.APITimeoutConfig{Read: 7, Write: 11, Idle: 13}
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Close() //nolint:errcheck // Test cleanup

	srv.mu.Lock()
	hs := srv.server
	srv.mu.Unlock()

	if hs.ReadTimeout != 7*time.Second || hs.ReadHeaderTimeout != 7*time.Second {
		t.Errorf("read timeouts = %v/%v, want 7s", hs.ReadTimeout, hs.ReadHeaderTimeout)
	}
	if hs.WriteTimeout != 11*time.Second {
		t.Errorf("WriteTimeout = %v, want 11s", hs.WriteTimeout)
	}
	if hs.IdleTimeout != 13*time.Second {
		t.Errorf("IdleTimeout = %v, want 13s", hs.IdleTimeout)
	}
}

func TestStart_PortInUse(t *testing.T) {
	first := testServer(t, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Close() //nolint:errcheck // Test cleanup

	_, portStr, err := net.SplitHostPort(first.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi() error = %v", err)
	}
	second := testServer(t, func(d *Deps) { d.Config.Port = port })
	if err := second.Start(context.Background()); err == nil {
		second.Close() //nolint:errcheck // Test cleanup
		t.Error("Start() on a bound port should fail")
	}
}
