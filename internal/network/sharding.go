//go:generate go run golang.org/x/tools/cmd/stringer -type=LoadBalancingPolicy

package network

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"
)

// LoadBalancingPolicy formalizes how exchanges are spread over several relay servers by a sharded
// client.
type LoadBalancingPolicy int

// ShardedClientFactory is a type alias for a unary constructor function that returns a single
// Client that abstracts operations among several child Clients.
type ShardedClientFactory func([]Client) Client

// RoundRobinShardedClient shards exchanges among clients fairly in round-robin order.
type RoundRobinShardedClient struct {
	clients []Client

	// Current round robin index (not async-safe; the relay client is sequential)
	rrIdx int
}

// RandomShardedClient shards exchanges among clients randomly.
type RandomShardedClient struct {
	clients []Client
}

// HistoricalConnectionsShardedClient directs exchanges to the client that has, up until the time
// of invocation, provided the fewest successful connections.
type HistoricalConnectionsShardedClient struct {
	clients []Client
}

// AvailabilityShardedClient provides connections by dynamically adjusting its active client pool to
// exclude clients that recently failed to connect. A failed client is held out for an exponentially
// increasing duration while it keeps failing.
type AvailabilityShardedClient struct {
	clients     []Client
	lastError   map[Client]time.Time
	errorExpiry map[Client]time.Duration
	mutex       sync.RWMutex
}

// FailoverShardedClient provides connections in priority order, serially failing over to the next
// client(s) in the list when the primary is not successful in providing a connection.
type FailoverShardedClient struct {
	clients []Client
}

const (
	// RoundRobin statefully iterates through each client on every connection request.
	RoundRobin LoadBalancingPolicy = iota
	// Random selects a client at random to provide the connection.
	Random
	// HistoricalConnections selects the client that has, up until the time of request,
	// provided the fewest connections.
	HistoricalConnections
	// Availability randomly selects a client to provide the connection, failing over to another
	// client in the event that it fails to do so. The failed client is temporarily pulled out
	// of the availability pool to prevent subsequent requests from being directed to the failed
	// client.
	Availability
	// Failover provides connections from multiple clients in serial order, only failing over to
	// secondary clients when the primary fails.
	Failover
)

// ErrNoClients is returned when a sharded client is created without any child clients.
var ErrNoClients = errors.New("sharding: no clients specified")

// ErrNoAvailableClients is returned when every client of an availability sharded client is held
// out after recent failures.
var ErrNoAvailableClients = errors.New("sharding: no available clients")

const (
	// failedClientExpiry is the time after a client's last failure beyond which its backoff is
	// reset.
	failedClientExpiry = 30 * time.Second
	// initialErrorExpiry is the first backoff applied to a failing client.
	initialErrorExpiry = 100 * time.Millisecond
)

// NewShardedClient creates a single Client that provides connections from several other Clients
// governed by a load balancing policy. A single child client is returned unwrapped.
func NewShardedClient(clients []Client, lbPolicy LoadBalancingPolicy) (Client, error) {
	if len(clients) == 0 {
		return nil, ErrNoClients
	}

	if len(clients) == 1 {
		return clients[0], nil
	}

	factories := map[LoadBalancingPolicy]ShardedClientFactory{
		RoundRobin:            NewRoundRobinShardedClient,
		Random:                NewRandomShardedClient,
		HistoricalConnections: NewHistoricalConnectionsShardedClient,
		Availability:          NewAvailabilityShardedClient,
		Failover:              NewFailoverShardedClient,
	}

	factory, ok := factories[lbPolicy]
	if !ok {
		return nil, fmt.Errorf(
			"sharding: no factory configured for load balancing policy: policy=%s",
			lbPolicy,
		)
	}

	return factory(clients), nil
}

// NewRoundRobinShardedClient is a client factory for the round robin load balancing policy.
func NewRoundRobinShardedClient(clients []Client) Client {
	return &RoundRobinShardedClient{clients: clients}
}

// Conn retrieves a connection from the next client in the round robin index.
func (c *RoundRobinShardedClient) Conn(ctx context.Context) (net.Conn, error) {
	defer func() {
		c.rrIdx = (c.rrIdx + 1) % len(c.clients)
	}()

	return c.clients[c.rrIdx].Conn(ctx)
}

// Stats aggregates stats from all child clients.
func (c *RoundRobinShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

// NewRandomShardedClient is a client factory for the random load balancing policy.
func NewRandomShardedClient(clients []Client) Client {
	return &RandomShardedClient{clients}
}

// Conn selects a client at random to provide the connection.
func (c *RandomShardedClient) Conn(ctx context.Context) (net.Conn, error) {
	return c.clients[rand.Intn(len(c.clients))].Conn(ctx)
}

// Stats aggregates stats from all child clients.
func (c *RandomShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

// NewHistoricalConnectionsShardedClient is a client factory for the historical connections load
// balancing policy.
func NewHistoricalConnectionsShardedClient(clients []Client) Client {
	return &HistoricalConnectionsShardedClient{clients}
}

// Conn selects the client that has, up until the time of invocation, provided the fewest
// successful connections. Ties go to the earliest client.
func (c *HistoricalConnectionsShardedClient) Conn(ctx context.Context) (net.Conn, error) {
	client := c.clients[0]

	for _, candidate := range c.clients[1:] {
		if candidate.Stats().SuccessfulConnections < client.Stats().SuccessfulConnections {
			client = candidate
		}
	}

	return client.Conn(ctx)
}

// Stats aggregates stats from all child clients.
func (c *HistoricalConnectionsShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

// NewAvailabilityShardedClient is a client factory for the availability load balancing policy.
func NewAvailabilityShardedClient(clients []Client) Client {
	lastError := make(map[Client]time.Time)
	errorExpiry := make(map[Client]time.Duration)

	for _, client := range clients {
		lastError[client] = time.Time{}
		errorExpiry[client] = 0
	}

	return &AvailabilityShardedClient{
		clients:     clients,
		lastError:   lastError,
		errorExpiry: errorExpiry,
	}
}

// Conn picks an eligible client at random and retries with another eligible client on failure. It
// errors once no client is eligible or the context is done.
func (c *AvailabilityShardedClient) Conn(ctx context.Context) (net.Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		client, err := c.selectAvailable()
		if err != nil {
			return nil, err
		}

		conn, err := client.Conn(ctx)
		if err == nil {
			return conn, nil
		}

		c.markFailed(client)
	}
}

// Stats aggregates stats from all child clients.
func (c *AvailabilityShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

// markFailed starts or doubles the client's backoff.
func (c *AvailabilityShardedClient) markFailed(client Client) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.lastError[client].IsZero() || time.Since(c.lastError[client]) > failedClientExpiry {
		c.errorExpiry[client] = initialErrorExpiry
	} else {
		c.errorExpiry[client] *= 2
	}

	c.lastError[client] = time.Now()
}

// selectAvailable picks an eligible client at random. A client is eligible if it has never failed
// or its backoff has elapsed.
func (c *AvailabilityShardedClient) selectAvailable() (Client, error) {
	var eligibleClients []Client

	c.mutex.RLock()
	for _, candidate := range c.clients {
		lastError := c.lastError[candidate]
		if lastError.IsZero() || time.Since(lastError) > c.errorExpiry[candidate] {
			eligibleClients = append(eligibleClients, candidate)
		}
	}
	c.mutex.RUnlock()

	if len(eligibleClients) == 0 {
		return nil, ErrNoAvailableClients
	}

	return eligibleClients[rand.Intn(len(eligibleClients))], nil
}

// NewFailoverShardedClient is a client factory for the failover load balancing policy.
func NewFailoverShardedClient(clients []Client) Client {
	return &FailoverShardedClient{clients}
}

// Conn attempts to provide connections from clients in serial order, failing over to the next
// client on error. The last error is returned when every client fails.
func (c *FailoverShardedClient) Conn(ctx context.Context) (net.Conn, error) {
	var lastErr error

	for _, client := range c.clients {
		conn, err := client.Conn(ctx)
		if err == nil {
			return conn, nil
		}

		lastErr = err
	}

	return nil, fmt.Errorf("sharding: all clients failed to provide a connection: %w", lastErr)
}

// Stats aggregates stats from all child clients.
func (c *FailoverShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

// ParseLoadBalancingPolicy parses a LoadBalancingPolicy constant from its stringified
// representation in a case-insensitive manner. An empty string selects RoundRobin.
func ParseLoadBalancingPolicy(lbPolicy string) (LoadBalancingPolicy, bool) {
	if lbPolicy == "" {
		return RoundRobin, true
	}

	knownLbPolicies := []LoadBalancingPolicy{
		RoundRobin,
		Random,
		HistoricalConnections,
		Availability,
		Failover,
	}

	for _, knownLbPolicy := range knownLbPolicies {
		if strings.EqualFold(lbPolicy, knownLbPolicy.String()) {
			return knownLbPolicy, true
		}
	}

	return RoundRobin, false
}

// aggregateClientsStats creates a single Stats struct from those in multiple Clients.
func aggregateClientsStats(clients []Client) Stats {
	var aggregatedStats Stats

	for _, client := range clients {
		stats := client.Stats()
		aggregatedStats.SuccessfulConnections += stats.SuccessfulConnections
		aggregatedStats.FailedConnections += stats.FailedConnections
	}

	return aggregatedStats
}
