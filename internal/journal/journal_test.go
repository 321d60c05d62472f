package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndRecent(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

	entries := []Entry{
		{ReceivedAt: base, RemoteAddr: "127.0.0.1", Tag: "09150000", Bucket: "morning", PoolIndex: 0, Address: "192.168.1.1"},
		{ReceivedAt: base.Add(time.Second), RemoteAddr: "127.0.0.1", Tag: "09150101", Bucket: "morning", PoolIndex: 1, Address: "192.168.1.2"},
		{ReceivedAt: base.Add(2 * time.Second), RemoteAddr: "127.0.0.1", Tag: "13000202", Bucket: "afternoon", PoolIndex: 7, Address: "192.168.1.8"},
	}

	for _, entry := range entries {
		if err := j.Record(ctx, entry); err != nil {
			t.Fatalf("failed to record entry: %v", err)
		}
	}

	recent, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}

	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}

	if recent[0].Tag != "13000202" || recent[0].Bucket != "afternoon" || recent[0].PoolIndex != 7 {
		t.Fatalf("unexpected newest entry: %+v", recent[0])
	}

	if !recent[0].ReceivedAt.Equal(entries[2].ReceivedAt) {
		t.Fatalf("timestamp not preserved: got %v, want %v", recent[0].ReceivedAt, entries[2].ReceivedAt)
	}

	if recent[1].Address != "192.168.1.2" {
		t.Fatalf("unexpected second entry: %+v", recent[1])
	}
}

func TestOpenExistingJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}

	if err := first.Record(context.Background(), Entry{ReceivedAt: time.Now(), Tag: "00000000", Bucket: "default", Address: "a"}); err != nil {
		t.Fatalf("failed to record entry: %v", err)
	}
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen journal: %v", err)
	}
	defer second.Close()

	recent, err := second.Recent(context.Background(), 10)
	if err != nil || len(recent) != 1 {
		t.Fatalf("expected the entry to survive a reopen: entries=%d err=%v", len(recent), err)
	}
}
