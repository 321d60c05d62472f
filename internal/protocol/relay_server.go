package protocol

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/getsentry/raven-go"
	"lib.kevinlin.info/aperture/lib"

	"tagrelay/internal/journal"
	"tagrelay/internal/log"
	"tagrelay/internal/metrics"
	"tagrelay/internal/network"
	"tagrelay/internal/resolver"
)

// Journal records resolutions made by the relay server.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// RelayHandler is the server side of a relay exchange. It reads one tagged request, resolves the
// tag against the engine, and answers with the echoed tag followed by the chosen address. The
// packet payload after the tag is never interpreted.
type RelayHandler struct {
	Engine    *resolver.Engine
	Journal   Journal
	CxIOHook  metrics.ConnectionIOHook
	RelayHook metrics.RelayHook
	Logger    log.Logger
}

// ConsumeError logs the relay error and reports it.
func (h *RelayHandler) ConsumeError(ctx context.Context, err error) {
	h.Logger.Error("%v", err)
	h.RelayHook.EmitError()

	raven.CaptureError(err, map[string]string{
		"role":     "server",
		"exchange": exchangeID(ctx),
	})
}

// Handle serves a single exchange. A request whose tag cannot be decoded is still answered: the
// reply echoes the received tag bytes without an address.
func (h *RelayHandler) Handle(ctx context.Context, conn net.Conn) error {
	rttTimer := lib.NewStopwatch()

	/* Read the tagged request */

	req, err := h.read(conn)
	if err != nil {
		return err
	}

	h.RelayHook.EmitRequestSize(int64(len(req)), conn.RemoteAddr())
	h.Logger.Debug(
		"relay: read request: exchange=%s request_bytes=%d",
		exchangeID(ctx),
		len(req),
	)

	/* Resolve */

	frame := SplitFrame(req)

	var reply []byte
	tag, err := DecodeTag(frame.Tag)
	if err != nil {
		h.RelayHook.EmitMalformedTag(conn.RemoteAddr())
		h.Logger.Warn(
			"relay: replying without address: exchange=%s err=%v",
			exchangeID(ctx),
			err,
		)

		reply = EncodeReply(frame.Tag, "")
	} else {
		res := h.Engine.Resolve(tag.Hour, tag.SequenceID)

		h.RelayHook.EmitResolve(res.Bucket)
		h.Logger.Info(
			"relay: query received: tag=%s bucket=%s index=%d address=%s",
			tag,
			res.Bucket,
			res.Index,
			res.Address,
		)

		h.record(ctx, conn, tag, res)
		reply = EncodeReply(tag.Bytes(), res.Address)
	}

	/* Reply */

	if err := h.write(conn, reply); err != nil {
		return err
	}

	h.drain(conn)

	h.RelayHook.EmitRTT(rttTimer.Elapsed(), conn.RemoteAddr())
	h.Logger.Debug(
		"relay: completed exchange: exchange=%s rtt=%v",
		exchangeID(ctx),
		rttTimer.Elapsed(),
	)

	return nil
}

// read takes the first chunk the client sends as the whole request. A request shorter than a tag
// is not waited on; it is answered through the malformed tag path.
func (h *RelayHandler) read(conn net.Conn) ([]byte, error) {
	readTimer := lib.NewStopwatch()
	buf := make([]byte, MaxMessageSize)

	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.ErrNoProgress
		}

		h.CxIOHook.EmitReadError(conn.RemoteAddr())
		return nil, fmt.Errorf("relay: error reading request from client: %w", err)
	}

	h.CxIOHook.EmitRead(readTimer.Elapsed(), conn.RemoteAddr())

	return buf[:n], nil
}

// write writes the reply back to the client.
func (h *RelayHandler) write(conn net.Conn, reply []byte) error {
	writeTimer := lib.NewStopwatch()

	n, err := conn.Write(reply)
	if err != nil {
		h.CxIOHook.EmitWriteError(conn.RemoteAddr())
		return fmt.Errorf("relay: error writing reply to client: %w", err)
	}

	if n != len(reply) {
		h.CxIOHook.EmitWriteError(conn.RemoteAddr())
		return fmt.Errorf(
			"relay: failed writing reply bytes to client: expected=%d actual=%d",
			len(reply),
			n,
		)
	}

	h.CxIOHook.EmitWrite(writeTimer.Elapsed(), conn.RemoteAddr())

	return nil
}

// drain half-closes the connection and discards any unread request bytes until the client hangs
// up, so that closing the socket does not reset the connection before the reply is delivered.
func (h *RelayHandler) drain(conn net.Conn) {
	if closer, ok := conn.(interface{ CloseWrite() error }); ok {
		closer.CloseWrite()
	}

	io.Copy(io.Discard, conn)
}

// record journals a resolution. Journal failures are logged and never fail the exchange.
func (h *RelayHandler) record(ctx context.Context, conn net.Conn, tag Tag, res resolver.Resolution) {
	if h.Journal == nil {
		return
	}

	entry := journal.Entry{
		ReceivedAt: time.Now(),
		RemoteAddr: conn.RemoteAddr().String(),
		Tag:        tag.String(),
		Bucket:     res.Bucket,
		PoolIndex:  res.Index,
		Address:    res.Address,
	}

	if err := h.Journal.Record(ctx, entry); err != nil {
		h.Logger.Warn("relay: failed to journal resolution: tag=%s err=%v", tag, err)
	}
}

// exchangeID formats the server-assigned exchange number carried by the context, if any.
func exchangeID(ctx context.Context) string {
	if id, ok := ctx.Value(network.ExchangeContextKey).(uint64); ok {
		return strconv.FormatUint(id, 10)
	}

	return "none"
}
