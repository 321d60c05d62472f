// Package network contains the stream transport used by the relay. It provides connections with
// per-operation read and write deadlines, a client that dials a fresh connection for every
// exchange, a strictly sequential accept/handle/close server loop, and sharded clients that spread
// exchanges over several relay servers.
package network
