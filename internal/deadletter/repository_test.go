package deadletter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/config"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/database"
	"github.com/aramnhammer/mqtt-to-influxdb/migrations"
)

// setupTestRepo opens a temporary database with the real migrations applied.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "deadletter.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return NewSQLiteRepository(db.DB)
}

// =============================================================================
// Record / GetByID
// =============================================================================

func TestRecord_FillsDefaults(t *testing.T) {
	repo := setupTestRepo(t)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	repo.now = func() time.Time { return fixed }

	e := &Entry{
		Topic:   "bucket/f/temp.reading",
		Payload: `{"reading": 1}`,
		Stage:   StageDecode,
		Reason:  `payload has no "value" key`,
	}
	if err := repo.Record(context.Background(), e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if e.ID == "" {
		t.Error("Record() did not assign an ID")
	}
	if !e.RecordedAt.Equal(fixed) {
		t.Errorf("RecordedAt = %v, want %v", e.RecordedAt, fixed)
	}
	if !e.ReceivedAt.Equal(fixed) {
		t.Errorf("ReceivedAt = %v, want RecordedAt when unset", e.ReceivedAt)
	}

	got, err := repo.GetByID(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Topic != e.Topic || got.Payload != e.Payload || got.Stage != e.Stage || got.Reason != e.Reason {
		t.Errorf("GetByID() = %+v, want %+v", got, e)
	}
	if !got.RecordedAt.Equal(fixed) {
		t.Errorf("stored RecordedAt = %v, want %v (nanoseconds preserved)", got.RecordedAt, fixed)
	}
}

func TestRecord_KeepsGivenFields(t *testing.T) {
	repo := setupTestRepo(t)
	received := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	e := &Entry{
		ID:         "dl-fixed",
		Topic:      "a/b/c",
		Payload:    "x",
		Stage:      StageDeliver,
		Reason:     "influxdb: write failed",
		ReceivedAt: received,
	}
	if err := repo.Record(context.Background(), e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := repo.GetByID(context.Background(), "dl-fixed")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.ReceivedAt.Equal(received) {
		t.Errorf("ReceivedAt = %v, want %v", got.ReceivedAt, received)
	}
}

func TestRecord_RejectsUnknownStage(t *testing.T) {
	repo := setupTestRepo(t)

	err := repo.Record(context.Background(), &Entry{Topic: "t", Payload: "p", Stage: "parse", Reason: "r"})
	if err == nil {
		t.Error("Record() with unknown stage should fail the CHECK constraint")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// List / Count / Prune
// =============================================================================

func TestList_NewestFirst(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, topic := range []string{"first", "second", "third"} {
		e := &Entry{
			Topic:      topic,
			Payload:    "p",
			Stage:      StageDecode,
			Reason:     "r",
			RecordedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s) error = %v", topic, err)
		}
	}

	entries, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(entries))
	}
	want := []string{"third", "second", "first"}
	for i, e := range entries {
		if e.Topic != want[i] {
			t.Errorf("entries[%d].Topic = %q, want %q", i, e.Topic, want[i])
		}
	}

	limited, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("List(2) error = %v", err)
	}
	if len(limited) != 2 || limited[0].Topic != "third" {
		t.Errorf("List(2) = %+v", limited)
	}
}

func TestList_Empty(t *testing.T) {
	repo := setupTestRepo(t)

	entries, err := repo.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("List() = %#v, want empty non-nil slice", entries)
	}
}

func TestCountAndPrune(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	old := []time.Time{cutoff.Add(-48 * time.Hour), cutoff.Add(-time.Nanosecond)}
	fresh := []time.Time{cutoff, cutoff.Add(time.Hour)}
	for _, ts := range append(old, fresh...) {
		if err := repo.Record(ctx, &Entry{Topic: "t", Payload: "p", Stage: StageDeliver, Reason: "r", RecordedAt: ts}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 4 {
		t.Fatalf("Count() = %d, want 4", n)
	}

	removed, err := repo.Prune(ctx, cutoff)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != int64(len(old)) {
		t.Errorf("Prune() removed %d, want %d", removed, len(old))
	}

	n, err = repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != len(fresh) {
		t.Errorf("Count() after prune = %d, want %d", n, len(fresh))
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "fixed layout", input: "2026-03-01T09:00:00.000000000Z"},
		{name: "rfc3339", input: "2026-03-01T09:00:00Z"},
		{name: "garbage", input: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTime(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
