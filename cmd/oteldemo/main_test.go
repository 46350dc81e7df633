package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/oteldemo/pkg/config"
)

var envKeys = []string{
	"PORT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LOG_LEVEL", "LOG_FORMAT",
	"SERVICE_NAME", "SERVICE_VERSION", "SERVICE_NAMESPACE", "ENVIRONMENT",
	"OTEL_EXPORTER", "OTLP_URL", "OTLP_INSECURE", "OTLP_CA_FILE", "SAMPLE_RATE",
	"METRICS_PROMETHEUS", "DATABASE_URL", "DATA_DIR", "TARGET_URL", "REDIS_URL",
	"CACHE_TTL", "DEMO_SERVICE_URL", "WORKER_COUNT", "OTELDEMO_CONFIG",
}

func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Setenv("OTEL_EXPORTER", "none")
}

func mockServer(t *testing.T, err error) **config.Config {
	t.Helper()
	var got *config.Config
	orig := startServer
	startServer = func(_ context.Context, cfg *config.Config, _ io.Writer) error {
		got = cfg
		return err
	}
	t.Cleanup(func() { startServer = orig })
	return &got
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 0, Run([]string{"oteldemo", "help"}, &out, io.Discard))
	assert.Contains(t, out.String(), "loadgen")
	assert.Contains(t, out.String(), "provision")
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 0, Run([]string{"oteldemo", "version"}, &out, io.Discard))
	assert.Equal(t, "oteldemo "+Version+"\n", out.String())
}

func TestRun_UnknownCommand(t *testing.T) {
	var errOut bytes.Buffer
	assert.Equal(t, 2, Run([]string{"oteldemo", "frobnicate"}, io.Discard, &errOut))
	assert.Contains(t, errOut.String(), "Unknown command: frobnicate")
}

func TestRun_DefaultsToServe(t *testing.T) {
	cleanEnv(t)
	got := mockServer(t, nil)

	assert.Equal(t, 0, Run([]string{"oteldemo"}, io.Discard, io.Discard))
	require.NotNil(t, *got)
	assert.Equal(t, "8080", (*got).Port)
}

func TestRun_ServeFlags(t *testing.T) {
	cleanEnv(t)
	got := mockServer(t, nil)

	path := filepath.Join(t.TempDir(), "cycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cycle:\n  windows:\n    - {kind: fail, lo: 0, hi: 1, message: x}\n"), 0600))

	assert.Equal(t, 0, Run([]string{"oteldemo", "-p", "9191", "--config", path}, io.Discard, io.Discard))
	require.NotNil(t, *got)
	assert.Equal(t, "9191", (*got).Port)
	require.NotNil(t, (*got).File)
	assert.Len(t, (*got).File.Cycle.Windows, 1)
}

func TestRun_ServeRejectsInvalidConfig(t *testing.T) {
	cleanEnv(t)
	t.Setenv("SERVICE_VERSION", "latest")
	got := mockServer(t, nil)

	var errOut bytes.Buffer
	assert.Equal(t, 2, Run([]string{"oteldemo", "serve"}, io.Discard, &errOut))
	assert.Nil(t, *got, "server must not start")
	assert.Contains(t, errOut.String(), "SERVICE_VERSION")
}

func TestRun_ServeFailure(t *testing.T) {
	cleanEnv(t)
	mockServer(t, errors.New("address already in use"))

	var errOut bytes.Buffer
	assert.Equal(t, 1, Run([]string{"oteldemo", "serve"}, io.Discard, &errOut))
	assert.Contains(t, errOut.String(), "address already in use")
}

func TestRun_Provision(t *testing.T) {
	cleanEnv(t)
	dir := t.TempDir()

	var out bytes.Buffer
	require.Equal(t, 0, Run([]string{"oteldemo", "provision", "--data-dir", dir}, &out, io.Discard))
	assert.Equal(t, "provisioned sqlite table \"oteldemo\" with 2 rows\n", out.String())

	// Provisioning again keeps the seed rows.
	out.Reset()
	require.Equal(t, 0, Run([]string{"oteldemo", "provision", "--data-dir", dir}, &out, io.Discard))
	assert.Contains(t, out.String(), "with 2 rows")
}

func TestRun_Loadgen(t *testing.T) {
	cleanEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var out bytes.Buffer
	code := Run([]string{"oteldemo", "loadgen", "--url", srv.URL, "-n", "3", "--max-pause", "0s"}, &out, io.Discard)
	require.Equal(t, 0, code)
	assert.Equal(t, "sent=3 failed=0\n", out.String())
}

func TestRun_LoadgenRejectsBadFlags(t *testing.T) {
	cleanEnv(t)
	assert.Equal(t, 2, Run([]string{"oteldemo", "loadgen", "--workers", "0"}, io.Discard, io.Discard))
	assert.Equal(t, 2, Run([]string{"oteldemo", "loadgen", "--bogus"}, io.Discard, io.Discard))
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	return port
}

// TestServe_EndToEnd boots the real server in lite mode against a local
// target and drives one request through the pipeline.
func TestServe_EndToEnd(t *testing.T) {
	cleanEnv(t)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	port := freePort(t)
	t.Setenv("PORT", port)
	t.Setenv("TARGET_URL", target.URL)
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, io.Discard) }()

	base := "http://127.0.0.1:" + port
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	// The first request falls in the delay window and still succeeds.
	resp, err := http.Get(base + "/otel-demo")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	metrics, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.True(t, strings.Contains(string(metrics), "arbitrary_count"), "counter exported")
	assert.True(t, strings.Contains(string(metrics), "oteldemo_requests_total"), "RED metrics exported")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
