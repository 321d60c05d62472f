package meta

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfigReferenceDocument(t *testing.T) {
	cfg, err := parseConfig([]byte(`{"host": "127.0.0.1", "port": 9090}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if addr := cfg.ListenAddress(); addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected listen address: %s", addr)
	}

	servers := cfg.UpstreamServers()
	if len(servers) != 1 || servers[0].Address != "127.0.0.1:9090" {
		t.Fatalf("unexpected upstream servers: %+v", servers)
	}

	if servers[0].ConnectTimeout != DefaultConnectTimeout || servers[0].ReadTimeout != DefaultIOTimeout {
		t.Fatalf("default timeouts not applied: %+v", servers[0])
	}
}

func TestParseConfigFullDocument(t *testing.T) {
	doc := `
application:
  sentry_dsn: https://key@sentry.example.com/1
metrics:
  statsd:
    addr: localhost:8125
    sample_rate: 0.5
listener:
  host: 0.0.0.0
  port: 7070
  read_timeout: 2s
upstream:
  load_balancing_policy: failover
  scan_offset: 16
  servers:
    - addr: 10.0.0.1:7070
      connect_timeout: 1s
    - addr: 10.0.0.2:7070
journal:
  path: /tmp/tagrelay.db
`

	cfg, err := parseConfig([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Metrics.Statsd.SampleRate != 0.5 {
		t.Fatalf("unexpected sample rate: %f", cfg.Metrics.Statsd.SampleRate)
	}

	listener := cfg.ListenerSettings()
	if listener.ReadTimeout != 2*time.Second || listener.WriteTimeout != DefaultIOTimeout {
		t.Fatalf("unexpected listener timeouts: %+v", listener)
	}

	if addr := cfg.ListenAddress(); addr != "0.0.0.0:7070" {
		t.Fatalf("unexpected listen address: %s", addr)
	}

	servers := cfg.UpstreamServers()
	if len(servers) != 2 {
		t.Fatalf("expected two upstream servers: %+v", servers)
	}

	if servers[0].ConnectTimeout != time.Second || servers[1].ConnectTimeout != DefaultConnectTimeout {
		t.Fatalf("unexpected connect timeouts: %+v", servers)
	}

	if cfg.Upstream.ScanOffset != 16 || cfg.Journal.Path != "/tmp/tagrelay.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty document", ``, "empty config"},
		{"statsd without address", "metrics:\n  statsd:\n    sample_rate: 1", "statsd address"},
		{"statsd sample rate", "metrics:\n  statsd:\n    addr: x:1\n    sample_rate: 2", "sample rate"},
		{"port range", `{"port": 70000}`, "port out of range"},
		{"listener port range", "listener:\n  port: -1", "port out of range"},
		{"lb policy", "upstream:\n  load_balancing_policy: fastest", "load balancing policy"},
		{"upstream address", "upstream:\n  servers:\n    - read_timeout: 1s", "upstream server address"},
		{"scan offset", "upstream:\n  scan_offset: -4", "scan offset"},
		{"journal path", "journal: {}", "journal path"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseConfigFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"host": "localhost", "port": 9090}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Fatalf("unexpected port: %d", cfg.Port)
	}

	if _, err := ParseConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestNegativeTimeoutsDisableDeadlines(t *testing.T) {
	doc := `
listener:
  port: 7070
  read_timeout: -1s
  write_timeout: 3s
upstream:
  servers:
    - addr: 10.0.0.1:7070
      connect_timeout: -1s
      read_timeout: -1s
`

	cfg, err := parseConfig([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listener := cfg.ListenerSettings()
	if listener.ReadTimeout != 0 || listener.WriteTimeout != 3*time.Second {
		t.Fatalf("unexpected listener timeouts: %+v", listener)
	}

	server := cfg.UpstreamServers()[0]
	if server.ConnectTimeout != 0 || server.ReadTimeout != 0 || server.WriteTimeout != DefaultIOTimeout {
		t.Fatalf("unexpected upstream timeouts: %+v", server)
	}
}
