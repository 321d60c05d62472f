package protocol

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"tagrelay/internal/journal"
	"tagrelay/internal/log"
	"tagrelay/internal/metrics"
	"tagrelay/internal/network"
	"tagrelay/internal/resolver"
)

type memoryJournal struct {
	mutex   sync.Mutex
	entries []journal.Entry
}

func (j *memoryJournal) Record(ctx context.Context, entry journal.Entry) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	j.entries = append(j.entries, entry)

	return nil
}

func testEngine(t *testing.T) *resolver.Engine {
	t.Helper()

	engine, err := resolver.NewEngine(
		resolver.RuleSet{
			Buckets: []resolver.Bucket{
				{Name: "morning", Low: 6, High: 11, Start: 0},
				{Name: "afternoon", Low: 12, High: 17, Start: 5},
			},
			BucketSize: 5,
		},
		resolver.Pool{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"},
	)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	return engine
}

func startRelay(t *testing.T, j Journal) (string, func()) {
	t.Helper()

	handler := &RelayHandler{
		Engine:    testEngine(t),
		Journal:   j,
		CxIOHook:  metrics.NewNoopConnectionIOHook(),
		RelayHook: metrics.NewNoopRelayHook(),
		Logger:    log.NewNopLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := network.NewTCPServer(
		"127.0.0.1:0",
		metrics.NewNoopConnectionLifecycleHook(),
		network.TCPServerOpts{ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second},
	)

	if err := server.Listen(ctx); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx, handler)
	}()

	return server.Addr().String(), func() {
		cancel()
		<-done
	}
}

func testClient(addr string) *RelayClient {
	return &RelayClient{
		Upstream: network.NewTCPClient(addr, metrics.NewNoopConnectionLifecycleHook(), network.TCPClientOpts{
			ConnectTimeout: 2 * time.Second,
			ReadTimeout:    2 * time.Second,
			WriteTimeout:   2 * time.Second,
		}),
		CxIOHook:  metrics.NewNoopConnectionIOHook(),
		RelayHook: metrics.NewNoopRelayHook(),
		Logger:    log.NewNopLogger(),
	}
}

func queryFrame(t *testing.T, tag string, name string) Frame {
	t.Helper()

	msg := dnsmessage.Message{
		Questions: []dnsmessage.Question{
			{Name: dnsmessage.MustNewName(name), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET},
		},
	}

	packed, err := msg.Pack()
	if err != nil {
		t.Fatalf("failed to pack query: %v", err)
	}

	return Frame{Tag: []byte(tag), Payload: append(make([]byte, 42), packed...)}
}

func TestRelayExchange(t *testing.T) {
	j := &memoryJournal{}
	addr, stop := startRelay(t, j)
	defer stop()

	client := testClient(addr)

	reply, err := client.Exchange(context.Background(), queryFrame(t, "09150003", "www.abc.com."))
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	if string(reply.Tag) != "09150003" || reply.Address != "D" {
		t.Fatalf("unexpected reply: tag=%q address=%q", reply.Tag, reply.Address)
	}

	j.mutex.Lock()
	defer j.mutex.Unlock()

	if len(j.entries) != 1 || j.entries[0].Bucket != "morning" || j.entries[0].PoolIndex != 3 {
		t.Fatalf("unexpected journal entries: %+v", j.entries)
	}
}

func TestRelayAll(t *testing.T) {
	addr, stop := startRelay(t, nil)
	defer stop()

	frames := []Frame{
		queryFrame(t, "09150003", "www.abc.com."),
		queryFrame(t, "13000207", "api.example.org."),
		queryFrame(t, "ab12", "www.abc.com."),
		{Tag: []byte("22000001"), Payload: []byte{0, 0, 0}},
	}

	var reports []Report
	failed := testClient(addr).RelayAll(context.Background(), frames, func(r Report) {
		reports = append(reports, r)
	})

	if failed != 1 || len(reports) != len(frames) {
		t.Fatalf("unexpected batch outcome: failed=%d reports=%d", failed, len(reports))
	}

	want := []struct {
		domain  string
		address string
		tagErr  bool
	}{
		{"www.abc.com", "D", false},
		// id 07 lands at offset 2 of the afternoon window.
		{"api.example.org", "H", false},
		{"www.abc.com", "", true},
		// 22:00 is outside every bucket; the default window starts at index 0.
		{Unknown, "B", false},
	}

	for i, r := range reports {
		if r.Index != i+1 {
			t.Errorf("report %d has index %d", i, r.Index)
		}

		if r.Domain != want[i].domain || r.Address != want[i].address || (r.TagErr != nil) != want[i].tagErr {
			t.Errorf("report %d: got domain=%q address=%q tagErr=%v", i, r.Domain, r.Address, r.TagErr)
		}
	}

	if reports[0].EchoedTag != "09150003" || reports[2].EchoedTag != "ab12\x00\x00\x00\x00" {
		t.Errorf("unexpected echoed tags: %q %q", reports[0].EchoedTag, reports[2].EchoedTag)
	}

	if !errors.Is(reports[2].Err, ErrShortReply) || !errors.Is(reports[2].TagErr, ErrMalformedTag) {
		t.Errorf("malformed tag should be reported with sentinel fields: err=%v tagErr=%v", reports[2].Err, reports[2].TagErr)
	}
}

func TestRelayAllSurvivesTransportErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	frames := []Frame{
		queryFrame(t, "09150003", "www.abc.com."),
		queryFrame(t, "09150004", "www.abc.com."),
	}

	var reports []Report
	failed := testClient(addr).RelayAll(context.Background(), frames, func(r Report) {
		reports = append(reports, r)
	})

	if failed != 2 || len(reports) != 2 {
		t.Fatalf("every frame should be attempted and reported: failed=%d reports=%d", failed, len(reports))
	}

	for _, r := range reports {
		if r.Err == nil || r.Address != "" || r.Domain != "www.abc.com" {
			t.Errorf("unexpected report for a refused exchange: %+v", r)
		}
	}
}

func TestRelayAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := testClient("127.0.0.1:1")

	var reports []Report
	failed := client.RelayAll(ctx, []Frame{queryFrame(t, "09150003", "www.abc.com.")}, func(r Report) {
		reports = append(reports, r)
	})

	if failed != 1 || !errors.Is(reports[0].Err, context.Canceled) {
		t.Fatalf("canceled batch should report the context error: failed=%d reports=%+v", failed, reports)
	}
}

func TestRelayHandlerShortRequest(t *testing.T) {
	addr, stop := startRelay(t, nil)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(5 * time.Second))
	conn.Write([]byte("0915"))
	conn.(*net.TCPConn).CloseWrite()

	buf := make([]byte, 64)
	n, _ := conn.Read(buf)
	if string(buf[:n]) != "0915" {
		t.Fatalf("short request should be answered with the echoed bytes only, got %q", buf[:n])
	}
}

func TestRelayHandlerShortRequestWithoutHalfClose(t *testing.T) {
	addr, stop := startRelay(t, nil)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	start := time.Now()
	conn.SetDeadline(start.Add(time.Second))
	conn.Write([]byte("0915"))

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil || string(buf[:n]) != "0915" {
		t.Fatalf("short request should be echoed without waiting for more bytes: reply=%q err=%v", buf[:n], err)
	}

	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Fatalf("echo took too long: %v", elapsed)
	}

	conn.Close()

	reply, err := testClient(addr).Exchange(context.Background(), queryFrame(t, "14000007", "www.abc.com."))
	if err != nil {
		t.Fatalf("server should serve the next exchange: %v", err)
	}

	if reply.Address != "H" {
		t.Fatalf("unexpected address: %q", reply.Address)
	}
}
