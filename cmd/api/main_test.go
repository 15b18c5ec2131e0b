// Package main contains integration tests for the API server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/onnwee/feedrank/internal/api"
	"github.com/onnwee/feedrank/internal/auth"
	"github.com/onnwee/feedrank/internal/config"
)

const testSecret = "supersecret32characterlongvalue!"

func testConfig() *config.Config {
	return &config.Config{
		Port:                   8080,
		Env:                    "development",
		LogLevel:               "info",
		CandidateLimit:         config.DefaultCandidateLimit,
		DefaultPageSize:        config.DefaultPageSize,
		MaxPageSize:            config.DefaultMaxPageSize,
		ProfileCacheTTLSeconds: config.DefaultProfileCacheTTLSeconds,
		ScoringWorkers:         2,
		MetricsEnabled:         true,
		TracingExporter:        config.DefaultTracingExporter,
	}
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	var logBuf bytes.Buffer
	a, err := newApp(context.Background(), cfg, testLogger(&logBuf))
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	srv := httptest.NewServer(a.handler)
	t.Cleanup(func() {
		srv.Close()
		a.close(context.Background())
	})
	return srv
}

func get(t *testing.T, url, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request to %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp, body
}

func TestNewApp_Routes(t *testing.T) {
	srv := newTestServer(t, testConfig())

	t.Run("root", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), serviceName) {
			t.Errorf("expected service name in body, got %s", body)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header")
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/nope", "")
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", resp.StatusCode)
		}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			t.Fatalf("failed to decode error: %v", err)
		}
		if errResp.Error.Code != api.ErrCodeNotFound {
			t.Errorf("expected code %s, got %s", api.ErrCodeNotFound, errResp.Error.Code)
		}
	})

	t.Run("anonymous feed", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/feed", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var feed api.FeedResponse
		if err := json.Unmarshal(body, &feed); err != nil {
			t.Fatalf("failed to decode feed: %v", err)
		}
		if feed.Strategy != "fallback" || feed.FallbackReason != "anonymous" || feed.Degraded {
			t.Errorf("unexpected feed metadata: %+v", feed)
		}
		if feed.Items == nil || len(feed.Items) != 0 {
			t.Errorf("expected empty item list, got %v", feed.Items)
		}
		if feed.PageSize != config.DefaultPageSize {
			t.Errorf("expected default page size, got %d", feed.PageSize)
		}
	})

	t.Run("ready without database", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/ready", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var health api.HealthResponse
		if err := json.Unmarshal(body, &health); err != nil {
			t.Fatalf("failed to decode health: %v", err)
		}
		if health.Checks["database"] != api.CheckNotConfigured || health.Checks["redis"] != api.CheckNotConfigured {
			t.Errorf("unexpected checks: %v", health.Checks)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/metrics", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		for _, name := range []string{"feedrank_http_requests_total", "feedrank_ranking_requests_total", "go_goroutines"} {
			if !strings.Contains(string(body), name) {
				t.Errorf("expected %s in metrics output", name)
			}
		}
	})
}

func TestNewApp_BearerAuth(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = testSecret
	srv := newTestServer(t, cfg)

	token, err := auth.NewJWTService(testSecret).GenerateAccessToken("viewer-1")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	resp, body := get(t, srv.URL+"/feed?page_size=5", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var feed api.FeedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		t.Fatalf("failed to decode feed: %v", err)
	}
	// The in-memory profile store has no such viewer.
	if feed.FallbackReason != "viewer_not_found" || !feed.Degraded || feed.PageSize != 5 {
		t.Errorf("unexpected feed metadata: %+v", feed)
	}

	resp, _ = get(t, srv.URL+"/feed", "not-a-jwt")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", resp.StatusCode)
	}
}

func TestNewApp_RotatedSecret(t *testing.T) {
	const previous = "previoussecret32characterslong!!"
	cfg := testConfig()
	cfg.JWTSecret = testSecret
	cfg.JWTPreviousSecret = previous
	srv := newTestServer(t, cfg)

	token, err := auth.NewJWTService(previous).GenerateAccessToken("viewer-1")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if resp, body := get(t, srv.URL+"/feed", token); resp.StatusCode != http.StatusOK {
		t.Errorf("expected token signed with previous secret to be accepted, got %d: %s", resp.StatusCode, body)
	}
}

func TestNewApp_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	srv := newTestServer(t, cfg)

	if resp, _ := get(t, srv.URL+"/metrics", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 with metrics disabled, got %d", resp.StatusCode)
	}
}

func TestNewApp_Errors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"invalid redis url", func(c *config.Config) { c.RedisURL = "://bad" }},
		{"missing calibration file", func(c *config.Config) { c.RankingCalibrationPath = missing }},
		{"invalid tracing exporter", func(c *config.Config) {
			c.TracingEnabled = true
			c.TracingExporter = "jaeger"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			var logBuf bytes.Buffer
			if _, err := newApp(context.Background(), cfg, testLogger(&logBuf)); err == nil {
				t.Error("expected newApp to fail")
			}
		})
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestRun_GracefulShutdown starts the real server and cancels its context.
func TestRun_GracefulShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Port = freePort(t)

	var logBuf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, testLogger(&logBuf)) }()

	url := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)) + "/health"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server did not become healthy: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned error: %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down in time")
	}

	if !strings.Contains(logBuf.String(), "shutting down server") {
		t.Errorf("expected shutdown log, got %s", logBuf.String())
	}
}

// TestRun_PortInUse verifies a listen failure is returned rather than hanging.
func TestRun_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	var logBuf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := run(ctx, cfg, testLogger(&logBuf)); err == nil {
		t.Error("expected error when port is in use")
	}
}

// TestSignalNotifyContext_SIGTERM verifies the shutdown context is cancelled
// by SIGTERM.
func TestSignalNotifyContext_SIGTERM(t *testing.T) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Error("did not receive SIGTERM in time")
	}
}
