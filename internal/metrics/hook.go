package metrics

import (
	"fmt"
	"net"
	"os"
	"time"
)

// ConnectionLifecycleHook is a metrics hook interface for reporting events that occur during a
// relay connection lifecycle.
type ConnectionLifecycleHook interface {
	// EmitConnectionOpen reports the event that a connection was successfully opened.
	EmitConnectionOpen(latency time.Duration, addr net.Addr)

	// EmitConnectionClose reports the event that a connection was closed.
	EmitConnectionClose(addr net.Addr)

	// EmitConnectionError reports occurrence of an error establishing a connection.
	EmitConnectionError()
}

// ConnectionIOHook is a metrics hook interface for reporting I/O on an established connection.
type ConnectionIOHook interface {
	// EmitRead reports a successful read and its latency.
	EmitRead(latency time.Duration, addr net.Addr)

	// EmitWrite reports a successful write and its latency.
	EmitWrite(latency time.Duration, addr net.Addr)

	// EmitReadError reports the event that a connection read failed.
	EmitReadError(addr net.Addr)

	// EmitWriteError reports the event that a connection write failed.
	EmitWriteError(addr net.Addr)
}

// RelayHook is a metrics hook interface for reporting events and latencies of whole relay
// exchanges.
type RelayHook interface {
	// EmitResolve reports that a tag was resolved through the named bucket.
	EmitResolve(bucket string)

	// EmitMalformedTag reports an exchange whose tag could not be decoded.
	EmitMalformedTag(addr net.Addr)

	// EmitRequestSize reports the size of the tagged request on the wire.
	EmitRequestSize(bytes int64, addr net.Addr)

	// EmitRTT reports the end-to-end latency of one exchange, from connection to reply.
	EmitRTT(latency time.Duration, addr net.Addr)

	// EmitError reports an exchange that failed.
	EmitError()
}

// AsyncStatsdConnectionLifecycleHook is an implementation of ConnectionLifecycleHook that outputs
// metrics asynchronously to statsd.
type AsyncStatsdConnectionLifecycleHook struct {
	client *StatsdClient
	source string
}

// AsyncStatsdConnectionIOHook is an implementation of ConnectionIOHook that outputs metrics
// asynchronously to statsd.
type AsyncStatsdConnectionIOHook struct {
	client *StatsdClient
	source string
}

// AsyncStatsdRelayHook is an implementation of RelayHook that outputs metrics asynchronously to
// statsd.
type AsyncStatsdRelayHook struct {
	client *StatsdClient
	source string
}

// NoopConnectionLifecycleHook implements the ConnectionLifecycleHook interface but noops on all
// emissions.
type NoopConnectionLifecycleHook struct{}

// NoopConnectionIOHook implements the ConnectionIOHook interface but noops on all emissions.
type NoopConnectionIOHook struct{}

// NoopRelayHook implements the RelayHook interface but noops on all emissions.
type NoopRelayHook struct{}

// NewAsyncStatsdConnectionLifecycleHook creates a new hook with the specified source, statsd
// address, statsd sample rate, and version. The source denotes the relay role whose connections
// are being tracked, e.g. client or server.
func NewAsyncStatsdConnectionLifecycleHook(source string, addr string, sampleRate float32, version string) (ConnectionLifecycleHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdConnectionLifecycleHook{
		client: client,
		source: source,
	}, nil
}

// EmitConnectionOpen statsd implementation
func (h *AsyncStatsdConnectionLifecycleHook) EmitConnectionOpen(latency time.Duration, addr net.Addr) {
	go func() {
		tags := map[string]string{"addr": ipFromAddr(addr)}

		h.client.Count(fmt.Sprintf("event.%s.cx_open", h.source), 1, tags)

		if latency > 0 {
			h.client.Timing(fmt.Sprintf("latency.%s.cx_open", h.source), latency, tags)
		}
	}()
}

// EmitConnectionClose statsd implementation
func (h *AsyncStatsdConnectionLifecycleHook) EmitConnectionClose(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.cx_close", h.source), 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitConnectionError statsd implementation
func (h *AsyncStatsdConnectionLifecycleHook) EmitConnectionError() {
	go h.client.Count(fmt.Sprintf("event.%s.cx_error", h.source), 1, nil)
}

// NewNoopConnectionLifecycleHook creates a noop implementation of ConnectionLifecycleHook.
func NewNoopConnectionLifecycleHook() ConnectionLifecycleHook {
	return &NoopConnectionLifecycleHook{}
}

// EmitConnectionOpen noops.
func (h *NoopConnectionLifecycleHook) EmitConnectionOpen(latency time.Duration, addr net.Addr) {}

// EmitConnectionClose noops.
func (h *NoopConnectionLifecycleHook) EmitConnectionClose(addr net.Addr) {}

// EmitConnectionError noops.
func (h *NoopConnectionLifecycleHook) EmitConnectionError() {}

// NewAsyncStatsdConnectionIOHook creates a new hook with the specified source, statsd address,
// statsd sample rate, and version.
func NewAsyncStatsdConnectionIOHook(source string, addr string, sampleRate float32, version string) (ConnectionIOHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdConnectionIOHook{
		client: client,
		source: source,
	}, nil
}

// EmitRead statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitRead(latency time.Duration, addr net.Addr) {
	go h.client.Timing(fmt.Sprintf("latency.%s.read", h.source), latency, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitWrite statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitWrite(latency time.Duration, addr net.Addr) {
	go h.client.Timing(fmt.Sprintf("latency.%s.write", h.source), latency, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitReadError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitReadError(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.read_error", h.source), 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitWriteError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitWriteError(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.write_error", h.source), 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// NewNoopConnectionIOHook creates a noop implementation of ConnectionIOHook.
func NewNoopConnectionIOHook() ConnectionIOHook {
	return &NoopConnectionIOHook{}
}

// EmitRead noops.
func (h *NoopConnectionIOHook) EmitRead(latency time.Duration, addr net.Addr) {}

// EmitWrite noops.
func (h *NoopConnectionIOHook) EmitWrite(latency time.Duration, addr net.Addr) {}

// EmitReadError noops.
func (h *NoopConnectionIOHook) EmitReadError(addr net.Addr) {}

// EmitWriteError noops.
func (h *NoopConnectionIOHook) EmitWriteError(addr net.Addr) {}

// NewAsyncStatsdRelayHook creates a new hook with the specified source, statsd address, sample
// rate, and version.
func NewAsyncStatsdRelayHook(source string, addr string, sampleRate float32, version string) (RelayHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdRelayHook{client: client, source: source}, nil
}

// EmitResolve statsd implementation
func (h *AsyncStatsdRelayHook) EmitResolve(bucket string) {
	go h.client.Count(fmt.Sprintf("event.%s.resolve", h.source), 1, map[string]string{
		"bucket": bucket,
	})
}

// EmitMalformedTag statsd implementation
func (h *AsyncStatsdRelayHook) EmitMalformedTag(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.malformed_tag", h.source), 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitRequestSize statsd implementation
func (h *AsyncStatsdRelayHook) EmitRequestSize(bytes int64, addr net.Addr) {
	go h.client.Size(fmt.Sprintf("size.%s.request", h.source), bytes, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitRTT statsd implementation
func (h *AsyncStatsdRelayHook) EmitRTT(latency time.Duration, addr net.Addr) {
	go h.client.Timing(fmt.Sprintf("latency.%s.tx_rtt", h.source), latency, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitError statsd implementation
func (h *AsyncStatsdRelayHook) EmitError() {
	go h.client.Count(fmt.Sprintf("event.%s.error", h.source), 1, nil)
}

// NewNoopRelayHook creates a noop implementation of RelayHook.
func NewNoopRelayHook() RelayHook {
	return &NoopRelayHook{}
}

// EmitResolve noops.
func (h *NoopRelayHook) EmitResolve(bucket string) {}

// EmitMalformedTag noops.
func (h *NoopRelayHook) EmitMalformedTag(addr net.Addr) {}

// EmitRequestSize noops.
func (h *NoopRelayHook) EmitRequestSize(bytes int64, addr net.Addr) {}

// EmitRTT noops.
func (h *NoopRelayHook) EmitRTT(latency time.Duration, addr net.Addr) {}

// EmitError noops.
func (h *NoopRelayHook) EmitError() {}

// statsdClientFactory creates a configured StatsdClient with reasonable defaults for the given
// statsd server address, sample rate, and application version.
func statsdClientFactory(addr string, sampleRate float32, version string) (*StatsdClient, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	defaultTags := map[string]string{
		"host": hostname,
	}

	if version != "" {
		defaultTags["version"] = version
	}

	return NewStatsdClient(addr, "tagrelay", defaultTags, sampleRate)
}

// ipFromAddr returns the IP address from a full net.Addr, or null if unavailable.
func ipFromAddr(addr net.Addr) string {
	switch networkAddr := addr.(type) {
	case *net.TCPAddr:
		return networkAddr.IP.String()
	case *net.UDPAddr:
		return networkAddr.IP.String()
	default:
		return "null"
	}
}
