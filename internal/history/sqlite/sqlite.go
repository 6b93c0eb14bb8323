package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/loykin/applauncher/internal/history"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sqlx.DB
}

type row struct {
	ID         string `db:"id"`
	Type       string `db:"type"`
	OccurredAt int64  `db:"occurred_at"`
	history.Record
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	// Handle sqlite:// prefix
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if strings.Contains(dsn, ":memory:") {
		// every pooled connection would otherwise get its own database
		db.SetMaxOpenConns(1)
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS launch_history(
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		profile TEXT NOT NULL,
		entry TEXT NOT NULL,
		path TEXT NOT NULL,
		pid INTEGER NOT NULL,
		exit_err TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS launch_history_occurred ON launch_history(occurred_at);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := row{
		ID:         e.ID.String(),
		Type:       string(e.Type),
		OccurredAt: e.OccurredAt.UTC().UnixNano(),
		Record:     e.Record,
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO launch_history(id, type, occurred_at, profile, entry, path, pid, exit_err)
		VALUES(:id, :type, :occurred_at, :profile, :entry, :path, :pid, :exit_err);`, r)
	return err
}

// Recent returns up to limit events, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, type, occurred_at, profile, entry, path, pid, exit_err
		FROM launch_history ORDER BY occurred_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]history.Event, 0, len(rows))
	for _, r := range rows {
		id, _ := uuid.Parse(r.ID)
		out = append(out, history.Event{
			ID:         id,
			Type:       history.EventType(r.Type),
			OccurredAt: time.Unix(0, r.OccurredAt).UTC(),
			Record:     r.Record,
		})
	}
	return out, nil
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
