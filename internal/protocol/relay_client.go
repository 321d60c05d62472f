package protocol

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/getsentry/raven-go"
	"lib.kevinlin.info/aperture/lib"

	"tagrelay/internal/log"
	"tagrelay/internal/metrics"
	"tagrelay/internal/network"
)

// DefaultScanOffset is the first payload offset probed for a domain name: a scan origin of 0 plus
// the 12-byte DNS header that precedes the question section.
const DefaultScanOffset = 12

// RelayClient is the client side of the relay. Every frame is relayed over its own connection;
// connections are never reused or pipelined.
type RelayClient struct {
	Upstream  network.Client
	CxIOHook  metrics.ConnectionIOHook
	RelayHook metrics.RelayHook
	Logger    log.Logger
	Opts      RelayClientOpts
}

// RelayClientOpts formalizes configuration options for the relay client.
type RelayClientOpts struct {
	// ScanOffset is the first payload offset probed when extracting the domain name reported
	// for each frame. Zero selects DefaultScanOffset.
	ScanOffset int
}

// Report describes the outcome of relaying one frame.
type Report struct {
	// Index is the 1-based position of the frame in its batch.
	Index int
	// Tag is the tag as sent, verbatim.
	Tag string
	// Domain is the domain name found in the payload, or Unknown.
	Domain string
	// Address is the resolved address, empty when the exchange failed.
	Address string
	// EchoedTag is the tag echoed back by the server, possibly truncated.
	EchoedTag string
	// TagErr is set when the frame's own tag does not decode.
	TagErr error
	// Err is set when the exchange failed.
	Err error
}

// Exchange relays a single frame: connect, send the tagged packet, half-close, await one bounded
// reply, and close. Any failure is terminal for this exchange.
func (c *RelayClient) Exchange(ctx context.Context, frame Frame) (Reply, error) {
	rttTimer := lib.NewStopwatch()

	/* Connected */

	conn, err := c.Upstream.Conn(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("relay: error opening connection: %w", err)
	}
	defer conn.Close()

	c.Logger.Debug("relay: created connection: conn=%v", conn)

	/* Sent */

	req := frame.Bytes()
	if err := c.write(conn, req); err != nil {
		return Reply{}, err
	}

	c.RelayHook.EmitRequestSize(int64(len(req)), conn.RemoteAddr())

	if closer, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := closer.CloseWrite(); err != nil {
			c.Logger.Debug("relay: failed to half-close connection: err=%v", err)
		}
	}

	/* Awaiting reply */

	resp, err := c.read(conn)
	if err != nil {
		return Reply{}, err
	}

	/* Done */

	c.RelayHook.EmitRTT(rttTimer.Elapsed(), conn.RemoteAddr())
	c.Logger.Debug(
		"relay: completed exchange: request_bytes=%d response_bytes=%d rtt=%v",
		len(req),
		len(resp),
		rttTimer.Elapsed(),
	)

	return ParseReply(resp)
}

// RelayAll relays frames sequentially, invoking report after each exchange. A failed exchange is
// reported and the batch moves on to the next frame. It returns the number of failed exchanges.
// Frames left unsent because the context was canceled are reported with the context's error.
func (c *RelayClient) RelayAll(ctx context.Context, frames []Frame, report func(Report)) int {
	scanOffset := c.Opts.ScanOffset
	if scanOffset <= 0 {
		scanOffset = DefaultScanOffset
	}

	failed := 0

	for i, frame := range frames {
		r := Report{
			Index:  i + 1,
			Tag:    string(frame.Tag),
			Domain: ExtractDomain(frame.Payload, scanOffset),
		}

		if _, err := DecodeTag(frame.Tag); err != nil {
			r.TagErr = err
			c.Logger.Warn("relay: relaying frame with malformed tag: index=%d err=%v", r.Index, err)
		}

		if err := ctx.Err(); err != nil {
			r.Err = err
		} else {
			reply, err := c.Exchange(ctx, frame)
			r.Address, r.EchoedTag, r.Err = reply.Address, string(reply.Tag), err
		}

		if r.Err != nil {
			failed++
			c.consumeError(r)
		}

		report(r)
	}

	return failed
}

// write sends the request in a single write.
func (c *RelayClient) write(conn net.Conn, req []byte) error {
	writeTimer := lib.NewStopwatch()

	n, err := conn.Write(req)
	if err == nil && n != len(req) {
		err = io.ErrShortWrite
	}

	if err != nil {
		c.CxIOHook.EmitWriteError(conn.RemoteAddr())
		return fmt.Errorf("relay: error writing request: bytes=%d: %w", n, err)
	}

	c.CxIOHook.EmitWrite(writeTimer.Elapsed(), conn.RemoteAddr())

	return nil
}

// read reads the reply until the server closes its side, up to MaxMessageSize bytes.
func (c *RelayClient) read(conn net.Conn) ([]byte, error) {
	readTimer := lib.NewStopwatch()

	resp, err := io.ReadAll(io.LimitReader(conn, MaxMessageSize))
	if err != nil {
		c.CxIOHook.EmitReadError(conn.RemoteAddr())
		return nil, fmt.Errorf("relay: error reading reply: bytes=%d: %w", len(resp), err)
	}

	c.CxIOHook.EmitRead(readTimer.Elapsed(), conn.RemoteAddr())

	return resp, nil
}

// consumeError logs and reports a failed exchange.
func (c *RelayClient) consumeError(r Report) {
	c.Logger.Error("relay: exchange failed: index=%d tag=%q err=%v", r.Index, r.Tag, r.Err)
	c.RelayHook.EmitError()

	raven.CaptureError(r.Err, map[string]string{
		"role": "client",
		"tag":  r.Tag,
	})
}
