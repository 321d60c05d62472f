package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/getsentry/raven-go"

	"tagrelay/internal/journal"
	"tagrelay/internal/log"
	"tagrelay/internal/meta"
	"tagrelay/internal/metrics"
	"tagrelay/internal/network"
	"tagrelay/internal/protocol"
)

func main() {
	configPath := flag.String(
		"config",
		os.Getenv("TAGRELAY_CONFIG"),
		"path to the server configuration file on disk",
	)
	rulesPath := flag.String(
		"rules",
		os.Getenv("TAGRELAY_RULES"),
		"path to the resolution rules file on disk",
	)
	recent := flag.Int(
		"recent",
		0,
		"print the given number of most recent journaled resolutions and exit",
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
	logger.Debug("main: reading and parsing config: path=%s", *configPath)
	config, err := meta.ParseConfig(*configPath)
	if err != nil {
		panic(err)
	}

	// Open the resolution journal, if configured
	var store *journal.SQLiteJournal
	if config.Journal != nil {
		logger.Info("main: opening resolution journal: path=%s", config.Journal.Path)

		if store, err = journal.Open(config.Journal.Path); err != nil {
			panic(err)
		}
		defer store.Close()
	}

	if *recent > 0 {
		printRecent(store, *recent)
		return
	}

	// Load and validate resolution rules
	logger.Debug("main: reading and parsing rules: path=%s", *rulesPath)
	engine, err := meta.LoadEngine(*rulesPath)
	if err != nil {
		panic(err)
	}

	logger.Info(
		"main: loaded resolution rules: buckets=%d bucket_size=%d pool_size=%d",
		len(engine.Buckets()),
		engine.BucketSize(),
		engine.PoolSize(),
	)

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

		if cxLifecycleHook, err = metrics.NewAsyncStatsdConnectionLifecycleHook(
			"client",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}

		if cxIOHook, err = metrics.NewAsyncStatsdConnectionIOHook(
			"client",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}

		if relayHook, err = metrics.NewAsyncStatsdRelayHook(
			"server",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}
	} else {
		logger.Warn("main: no metrics output engine specified; disabling metrics")
	}

	h := &protocol.RelayHandler{
		Engine:    engine,
		CxIOHook:  cxIOHook,
		RelayHook: relayHook,
		Logger:    logger,
	}

	// A nil *SQLiteJournal must not be stored in the interface field
	if store != nil {
		h.Journal = store
	}

	// Configure the server listener
	listener := config.ListenerSettings()
	logger.Info(
		"main: configuring TCP server listener: addr=%s read_timeout=%v write_timeout=%v",
		config.ListenAddress(),
		listener.ReadTimeout,
		listener.WriteTimeout,
	)

	server := network.NewTCPServer(
		config.ListenAddress(),
		cxLifecycleHook,
		network.TCPServerOpts{
			ReadTimeout:  listener.ReadTimeout,
			WriteTimeout: listener.WriteTimeout,
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Serve until interrupted
	logger.Info("main: serving until interrupted")
	if err := server.ListenAndServe(ctx, h); err != nil {
		panic(err)
	}

	logger.Info("main: shutting down")
}

func printRecent(store *journal.SQLiteJournal, limit int) {
	if store == nil {
		fmt.Fprintln(os.Stderr, "no journal configured")
		os.Exit(1)
	}

	entries, err := store.Recent(context.Background(), limit)
	if err != nil {
		panic(err)
	}

	for _, entry := range entries {
		fmt.Printf(
			"%s %s tag=%s bucket=%s index=%d address=%s\n",
			entry.ReceivedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			entry.RemoteAddr,
			entry.Tag,
			entry.Bucket,
			entry.PoolIndex,
			entry.Address,
		)
	}
}
