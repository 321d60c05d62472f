package meta

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"tagrelay/internal/network"
)

// ApplicationConfig is a top-level block for application-level meta configuration.
type ApplicationConfig struct {
	SentryDSN string `yaml:"sentry_dsn"`
}

// MetricsConfig is a top-level block for metrics configuration.
type MetricsConfig struct {
	Statsd *struct {
		Address    string  `yaml:"addr"`
		SampleRate float32 `yaml:"sample_rate"`
	} `yaml:"statsd"`
}

// ListenerConfig is a top-level block for relay server listener configuration.
type ListenerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// UpstreamServer describes parameters for a single relay server, as seen by the relay client.
type UpstreamServer struct {
	Address        string        `yaml:"addr"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// UpstreamConfig is a top-level block for relay client configuration.
type UpstreamConfig struct {
	LoadBalancingPolicy string           `yaml:"load_balancing_policy"`
	ScanOffset          int              `yaml:"scan_offset"`
	Servers             []UpstreamServer `yaml:"servers"`
}

// JournalConfig is a top-level block for the resolution journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Config describes all application configuration options. The bare host and port keys accept the
// minimal {"host": ..., "port": ...} document; the listener block takes precedence over them.
type Config struct {
	Host        string             `yaml:"host"`
	Port        int                `yaml:"port"`
	Application *ApplicationConfig `yaml:"application"`
	Metrics     *MetricsConfig     `yaml:"metrics"`
	Listener    *ListenerConfig    `yaml:"listener"`
	Upstream    *UpstreamConfig    `yaml:"upstream"`
	Journal     *JournalConfig     `yaml:"journal"`
}

// Default timeouts applied when the configuration leaves them unset. A negative timeout in the
// configuration disables the deadline.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultIOTimeout      = 10 * time.Second
)

// ParseConfig parses a Config struct instance from a file specified as a path on disk. JSON
// documents are accepted, as JSON is a subset of YAML.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: error reading config: %w", err)
	}

	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg *Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing config: %w", err)
	}

	if cfg == nil {
		return nil, fmt.Errorf("config: empty config document")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ListenerSettings returns the effective listener block for the relay server, with default
// timeouts filled in.
func (c *Config) ListenerSettings() ListenerConfig {
	listener := ListenerConfig{Host: c.Host, Port: c.Port}
	if c.Listener != nil {
		listener = *c.Listener
	}

	listener.ReadTimeout = effectiveTimeout(listener.ReadTimeout, DefaultIOTimeout)
	listener.WriteTimeout = effectiveTimeout(listener.WriteTimeout, DefaultIOTimeout)

	return listener
}

// ListenAddress returns the host:port the relay server binds to.
func (c *Config) ListenAddress() string {
	listener := c.ListenerSettings()

	return net.JoinHostPort(listener.Host, strconv.Itoa(listener.Port))
}

// UpstreamServers returns the relay servers the client should use, with default timeouts filled
// in. Without an upstream block, the document's own host and port designate a single server.
func (c *Config) UpstreamServers() []UpstreamServer {
	var servers []UpstreamServer

	if c.Upstream != nil && len(c.Upstream.Servers) > 0 {
		servers = append(servers, c.Upstream.Servers...)
	} else {
		host := c.Host
		if host == "" {
			host = "127.0.0.1"
		}

		servers = append(servers, UpstreamServer{Address: net.JoinHostPort(host, strconv.Itoa(c.Port))})
	}

	for idx := range servers {
		servers[idx].ConnectTimeout = effectiveTimeout(servers[idx].ConnectTimeout, DefaultConnectTimeout)
		servers[idx].ReadTimeout = effectiveTimeout(servers[idx].ReadTimeout, DefaultIOTimeout)
		servers[idx].WriteTimeout = effectiveTimeout(servers[idx].WriteTimeout, DefaultIOTimeout)
	}

	return servers
}

// validate the contents of the configuration. Returns an error if validation failed; nil otherwise.
func (c *Config) validate() error {
	/* Metrics */

	// Users can omit the metrics block entirely to disable metrics reporting.
	if c.Metrics != nil && c.Metrics.Statsd != nil {
		if c.Metrics.Statsd.Address == "" {
			return fmt.Errorf("config: missing metrics statsd address")
		}

		if c.Metrics.Statsd.SampleRate < 0 || c.Metrics.Statsd.SampleRate > 1 {
			return fmt.Errorf("config: statsd sample rate must be in range [0.0, 1.0]")
		}
	}

	/* Listener */

	if err := validatePort(c.Port); err != nil {
		return err
	}

	if c.Listener != nil {
		if err := validatePort(c.Listener.Port); err != nil {
			return err
		}
	}

	/* Upstream */

	if c.Upstream != nil {
		if _, ok := network.ParseLoadBalancingPolicy(c.Upstream.LoadBalancingPolicy); !ok {
			return fmt.Errorf(
				"config: unknown load balancing policy: policy=%s",
				c.Upstream.LoadBalancingPolicy,
			)
		}

		if c.Upstream.ScanOffset < 0 {
			return fmt.Errorf("config: negative scan offset: offset=%d", c.Upstream.ScanOffset)
		}

		for idx, server := range c.Upstream.Servers {
			if server.Address == "" {
				return fmt.Errorf("config: missing upstream server address: idx=%d", idx)
			}
		}
	}

	/* Journal */

	if c.Journal != nil && c.Journal.Path == "" {
		return fmt.Errorf("config: missing journal path")
	}

	return nil
}

// effectiveTimeout resolves a configured timeout: zero selects the default and a negative value
// yields zero, which disables the deadline.
func effectiveTimeout(configured time.Duration, fallback time.Duration) time.Duration {
	switch {
	case configured == 0:
		return fallback
	case configured < 0:
		return 0
	default:
		return configured
	}
}

func validatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("config: port out of range: port=%d", port)
	}

	return nil
}
