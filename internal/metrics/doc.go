// Package metrics contains abstractions for emission of metrics generated by relay exchanges.
// Currently, the only supported metrics output engine is statsd.
//
// Metrics are structured around hooks: a hook interface defines methods that the relay client and
// server invoke at lifecycle points of an exchange (connection open, read, resolve, reply). Hook
// implementations decide where the metrics go; a noop implementation is used when metrics are
// disabled.
package metrics
