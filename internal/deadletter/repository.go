package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// List limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Repository defines the interface for dead-letter storage.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
	Count(ctx context.Context) (int, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores dead letters in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new dead-letter repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts an entry. ID, RecordedAt and ReceivedAt are filled in if empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = r.now().UTC()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = e.RecordedAt
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, topic, payload, stage, reason, received_at, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Topic, strings.ToValidUTF8(e.Payload, "�"), e.Stage, e.Reason,
		formatTime(e.ReceivedAt), formatTime(e.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}

	return nil
}

// GetByID returns a single entry.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, topic, payload, stage, reason, received_at, recorded_at
		 FROM dead_letters WHERE id = ?`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns up to limit entries, newest first. A limit <= 0 means
// DefaultLimit; larger values are clamped to MaxLimit.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, topic, payload, stage, reason, received_at, recorded_at
		 FROM dead_letters ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}

	return entries, nil
}

// Count returns the number of stored entries.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letters").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting dead letters: %w", err)
	}
	return n, nil
}

// Prune deletes entries recorded before the cutoff and returns how many were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM dead_letters WHERE recorded_at < ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning dead letters: %w", err)
	}
	return n, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var receivedAt, recordedAt string

	if err := s.Scan(&e.ID, &e.Topic, &e.Payload, &e.Stage, &e.Reason, &receivedAt, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning dead letter: %w", err)
	}

	var err error
	if e.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, err
	}
	if e.RecordedAt, err = parseTime(recordedAt); err != nil {
		return nil, err
	}

	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing dead letter timestamp %q: %w", s, err)
		}
	}
	return t, nil
}

var _ Repository = (*SQLiteRepository)(nil)
