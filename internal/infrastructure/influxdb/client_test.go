package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CovCube/server/internal/infrastructure/config"
	"github.com/CovCube/server/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	status int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
		status := f.status
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "covcube",
		Bucket:        "telemetry",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func waitForLines(t *testing.T, f *fakeInflux, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if lines := f.written(); len(lines) >= n {
			return lines
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines, got %v", n, f.written())
	return nil
}

func TestConnect_Disabled(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := influxdb.Connect(testConfig(srv.URL))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteReadings(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client.WriteNumeric("cube-1", "temp", 21.5, ts)
	client.WriteText("cube-1", "nfcID", "04A224", ts)
	client.Flush()

	lines := waitForLines(t, fake, 2)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "cube_telemetry,cube_id=cube-1,sensor_type=temp value=21.5") {
		t.Errorf("numeric point missing from %q", joined)
	}
	if !strings.Contains(joined, `cube_telemetry,cube_id=cube-1,sensor_type=nfcID text="04A224"`) {
		t.Errorf("text point missing from %q", joined)
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	fake := &fakeInflux{status: http.StatusBadRequest}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WriteNumeric("cube-1", "temp", 1, time.Now())
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error was not reported")
	}
}

func TestClose(t *testing.T) {
	srv := httptest.NewServer(&fakeInflux{})
	defer srv.Close()

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() after Close() = true")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close() = %v", err)
	}

	// Writes after close are dropped.
	client.WriteNumeric("cube-1", "temp", 1, time.Now())
	client.Flush()
}
