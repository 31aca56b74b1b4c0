package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/aramnhammer/mqtt-to-influxdb/internal/deadletter"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/config"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/logging"
)

// isolateEnv points the config and env-file lookups at test files and hides
// any overrides present in the developer's environment.
func isolateEnv(t *testing.T, configPath, envFilePath string) {
	t.Helper()

	t.Setenv(config.EnvConfigPath, configPath)
	t.Setenv(config.EnvEnvFile, envFilePath)
	for _, key := range []string{
		config.EnvInfluxURL, config.EnvInfluxToken, config.EnvInfluxOrg, config.EnvInfluxBucket,
		config.EnvMQTTHost, config.EnvMQTTPort, config.EnvMQTTUsername, config.EnvMQTTPassword,
		config.EnvDatabasePath, config.EnvLogLevel,
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	isolateEnv(t, "/nonexistent/path/config.yaml", "/nonexistent/server.env")

	err := run(context.Background())
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want config load failure", err)
	}
}

// TestRun_MalformedEnvFile verifies a broken env file stops startup.
func TestRun_MalformedEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := writeFile(t, dir, "server.env", "DB_ORG=acme\nthis line has no equals sign\n")
	isolateEnv(t, filepath.Join(dir, "config.yaml"), envPath)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("run() error = %v, want env file line 2 error", err)
	}
}

// TestRun_MissingCredentials verifies validation runs after the env file layer.
func TestRun_MissingCredentials(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", "logging:\n  level: error\n")
	envPath := writeFile(t, dir, "server.env", "DB_SERVER_HOST=http://localhost:8086\nDB_ORG=acme\n")
	isolateEnv(t, configPath, envPath)

	err := run(context.Background())
	if err == nil {
		t.Fatal("run() should fail without a token and bucket")
	}
	for _, want := range []string{"influxdb.token", "influxdb.bucket"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("run() error = %v, want mention of %s", err, want)
		}
	}
	if strings.Contains(err.Error(), "influxdb.url") {
		t.Errorf("run() error = %v, url should come from the env file", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv(config.EnvConfigPath, expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestOpenDeadLetters verifies migrations run and old entries are pruned on open.
func TestOpenDeadLetters(t *testing.T) {
	ctx := context.Background()
	cfg := config.DatabaseConfig{
		Enabled:       true,
		Path:          filepath.Join(t.TempDir(), "deadletter.db"),
		WALMode:       true,
		BusyTimeout:   5,
		RetentionDays: 7,
	}

	db, repo, err := openDeadLetters(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("openDeadLetters() error = %v", err)
	}
	for _, age := range []time.Duration{30 * 24 * time.Hour, time.Hour} {
		e := &deadletter.Entry{
			Topic:      "bucket/f/temp.reading",
			Payload:    "{}",
			Stage:      deadletter.StageDecode,
			Reason:     "test",
			RecordedAt: time.Now().Add(-age),
		}
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	db.Close() //nolint:errcheck // Reopened below

	db, repo, err = openDeadLetters(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d after prune, want 1", n)
	}
}

// TestRun_EndToEnd publishes a reading and waits for it at a fake InfluxDB.
// Requires MQTT broker at 127.0.0.1:1883.
func TestRun_EndToEnd(t *testing.T) {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	conn.Close() //nolint:errcheck // probe only

	var (
		mu    sync.Mutex
		lines []string
	)
	influx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			lines = append(lines, string(body))
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer influx.Close()

	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", `
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "mqtt2influx-e2e"
  qos: 1
  subscribe_topic: "mqtt2influx-e2e/#"
  status_topic: "mqtt2influx-e2e-status"
database:
  enabled: true
  path: "`+filepath.Join(dir, "deadletter.db")+`"
logging:
  level: error
  format: text
  output: stdout
`)
	envPath := writeFile(t, dir, "server.env",
		"DB_SERVER_HOST="+influx.URL+"\nDB_SERVER_TOKEN=t\nDB_ORG=acme\nDB_BUCKET=sensors\n")
	isolateEnv(t, configPath, envPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	pub := pahomqtt.NewClient(pahomqtt.NewClientOptions().
		AddBroker("tcp://127.0.0.1:1883").
		SetClientID("mqtt2influx-e2e-pub"))
	if token := pub.Connect(); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("publisher connect failed: %v", token.Error())
	}
	defer pub.Disconnect(250)

	// The bridge subscribes asynchronously, so publish until a write arrives.
	deadline := time.Now().Add(10 * time.Second)
	var got string
	for got == "" && time.Now().Before(deadline) {
		token := pub.Publish("mqtt2influx-e2e/f/temp.reading", 1, false, `{"value": 72.5}`)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			t.Fatalf("publish failed: %v", token.Error())
		}
		time.Sleep(200 * time.Millisecond)
		mu.Lock()
		if len(lines) > 0 {
			got = lines[0]
		}
		mu.Unlock()
	}

	if !strings.HasPrefix(got, "temp reading=72.5 ") {
		t.Errorf("InfluxDB received %q, want temp reading=72.5 <ts>", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}
