package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/getsentry/raven-go"

	"tagrelay/internal/capture"
	"tagrelay/internal/log"
	"tagrelay/internal/meta"
	"tagrelay/internal/metrics"
	"tagrelay/internal/network"
	"tagrelay/internal/protocol"
)

// Relay server used when no configuration file is supplied.
const (
	defaultServerHost = "127.0.0.1"
	defaultServerPort = 9090
)

func main() {
	configPath := flag.String(
		"config",
		os.Getenv("TAGRELAY_CONFIG"),
		"path to the client configuration file on disk; defaults to a single local relay server",
	)
	inPath := flag.String(
		"in",
		"dns_query_with_header.pcap",
		"path to the tagged capture to relay",
	)
	version := flag.Bool(
		"version",
		false,
		"print the compiled tagrelay version SHA",
	)
	verbosity := flag.String(
		"verbosity",
		"error",
		"desired logging verbosity: one of error, warn, info, debug",
	)
	flag.Parse()

	// Report the compiled version and exit
	if *version {
		fmt.Printf("tagrelay/%s\n", meta.VersionSHA)
		return
	}

	// Logging configuration; default to log.Error verbosity
	level, _ := log.ParseLevel(*verbosity)
	logger := log.NewConsoleLogger(level)
	logger.Debug("main: initialized logger: level=%v", level)

	// Parse application configuration
	config := &meta.Config{Host: defaultServerHost, Port: defaultServerPort}
	if *configPath != "" {
		logger.Debug("main: reading and parsing config: path=%s", *configPath)

		var err error
		if config, err = meta.ParseConfig(*configPath); err != nil {
			panic(err)
		}
	}

	// Configure error reporting
	if config.Application != nil && config.Application.SentryDSN != "" {
		raven.SetDSN(config.Application.SentryDSN)
		raven.SetRelease(meta.VersionSHA)
	}

	// Configure metrics reporting
	cxLifecycleHook := metrics.NewNoopConnectionLifecycleHook()
	cxIOHook := metrics.NewNoopConnectionIOHook()
	relayHook := metrics.NewNoopRelayHook()

	if config.Metrics != nil && config.Metrics.Statsd != nil {
		logger.Info(
			"main: configuring statsd metrics reporting: addr=%s sample_rate=%f",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
		)

		var err error

		if cxLifecycleHook, err = metrics.NewAsyncStatsdConnectionLifecycleHook(
			"upstream",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}

		if cxIOHook, err = metrics.NewAsyncStatsdConnectionIOHook(
			"upstream",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}

		if relayHook, err = metrics.NewAsyncStatsdRelayHook(
			"client",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}
	} else {
		logger.Debug("main: no metrics output engine specified; disabling metrics")
	}

	// Configure upstreams
	var servers []network.Client
	for _, server := range config.UpstreamServers() {
		logger.Info("main: configuring relay server: addr=%s", server.Address)

		servers = append(servers, network.NewTCPClient(
			server.Address,
			cxLifecycleHook,
			network.TCPClientOpts{
				ConnectTimeout: server.ConnectTimeout,
				ReadTimeout:    server.ReadTimeout,
				WriteTimeout:   server.WriteTimeout,
			},
		))
	}

	// Create sharded client for all upstreams
	var policyName string
	var scanOffset int
	if config.Upstream != nil {
		policyName = config.Upstream.LoadBalancingPolicy
		scanOffset = config.Upstream.ScanOffset
	}

	lbPolicy, _ := network.ParseLoadBalancingPolicy(policyName)
	logger.Debug("main: using load balancing policy for request sharding: policy=%s", lbPolicy)

	upstream, err := network.NewShardedClient(servers, lbPolicy)
	if err != nil {
		panic(err)
	}

	// Read the tagged capture
	in, err := os.Open(*inPath)
	if err != nil {
		panic(err)
	}

	frames, err := capture.ReadFrames(in)
	in.Close()
	if err != nil {
		panic(err)
	}

	logger.Info("main: read tagged capture: path=%s frames=%d", *inPath, len(frames))

	client := &protocol.RelayClient{
		Upstream:  upstream,
		CxIOHook:  cxIOHook,
		RelayHook: relayHook,
		Logger:    logger,
		Opts:      protocol.RelayClientOpts{ScanOffset: scanOffset},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	failed := client.RelayAll(ctx, frames, func(r protocol.Report) {
		writeReport(os.Stdout, r)
	})
	if failed > 0 {
		logger.Warn("main: relay batch finished with failures: failed=%d total=%d", failed, len(frames))
		cancel()
		os.Exit(1)
	}
}

// writeReport prints one query in the report format. The address field carries the reply after the
// tag; a reply without an address is shown as the bytes the server echoed. Exchange errors are
// logged by the relay client, not printed here.
func writeReport(w io.Writer, r protocol.Report) {
	address := r.Address
	if address == "" {
		address = r.EchoedTag
	}

	fmt.Fprintf(w, "Query %d:\n", r.Index)
	fmt.Fprintf(w, "  Custom header value (HHMMSSID): %s\n", r.Tag)
	fmt.Fprintf(w, "  Domain name: %s\n", r.Domain)
	fmt.Fprintf(w, "  Resolved IP address: %s\n", address)
}
