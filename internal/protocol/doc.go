// Package protocol implements the tagged relay protocol. It contains the 8-byte time/sequence tag
// codec, the best-effort domain name scan over raw captured packets, and both ends of a relay
// exchange: the client that ships one tagged packet per connection and the server handler that
// answers it with a pool address chosen by the resolver.
package protocol
