// Package journal persists every resolution made by the relay server into a SQLite database, so
// that the choices made for a capture can be audited after the run.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

var initQueries = []string{
	`PRAGMA journal_mode=WAL`,
	`PRAGMA synchronous=NORMAL`,
	`CREATE TABLE IF NOT EXISTS resolution (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  received_at INTEGER NOT NULL,
  remote_addr TEXT NOT NULL,
  tag TEXT NOT NULL,
  bucket TEXT NOT NULL,
  pool_index INTEGER NOT NULL,
  address TEXT NOT NULL
 ) STRICT`,
	`CREATE INDEX IF NOT EXISTS resolution_received_idx ON resolution (received_at DESC)`,
}

// Entry is a single journaled resolution.
type Entry struct {
	ReceivedAt time.Time
	RemoteAddr string
	Tag        string
	Bucket     string
	PoolIndex  int
	Address    string
}

// SQLiteJournal is a resolution journal backed by a SQLite database file.
type SQLiteJournal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*SQLiteJournal, error) {
	dbURL := url.URL{
		Scheme:   "file",
		Path:     path,
		OmitHost: true,
	}

	db, err := sql.Open("sqlite", dbURL.String())
	if err != nil {
		return nil, fmt.Errorf("journal: can't open database: %w", err)
	}

	// The relay server is sequential; a single connection avoids SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping failed: %w", err)
	}

	for _, query := range initQueries {
		if _, err := db.Exec(query); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: setup command (%q) error: %w", query, err)
		}
	}

	return &SQLiteJournal{db: db}, nil
}

// Record appends an entry to the journal.
func (j *SQLiteJournal) Record(ctx context.Context, entry Entry) error {
	_, err := j.db.ExecContext(
		ctx,
		`INSERT INTO resolution (received_at, remote_addr, tag, bucket, pool_index, address)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ReceivedAt.UnixNano(),
		entry.RemoteAddr,
		entry.Tag,
		entry.Bucket,
		entry.PoolIndex,
		entry.Address,
	)
	if err != nil {
		return fmt.Errorf("journal: insert error: %w", err)
	}

	return nil
}

// Recent returns up to limit of the most recently recorded entries, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT received_at, remote_addr, tag, bucket, pool_index, address
		FROM resolution ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query error: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			receivedAt int64
		)

		if err := rows.Scan(
			&receivedAt,
			&entry.RemoteAddr,
			&entry.Tag,
			&entry.Bucket,
			&entry.PoolIndex,
			&entry.Address,
		); err != nil {
			return nil, fmt.Errorf("journal: scan error: %w", err)
		}

		entry.ReceivedAt = time.Unix(0, receivedAt)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iteration error: %w", err)
	}

	return entries, nil
}

// Close closes the underlying database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
