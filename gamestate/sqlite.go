package gamestate

import (
	"bytes"
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wippyai/entity-scripting/errors"
)

// SQLStore keeps named save slots in a SQLite database. Each slot holds one
// compressed snapshot.
type SQLStore struct {
	db *sql.DB
}

// Slot describes a saved slot.
type Slot struct {
	Name    string
	Keys    int
	SavedAt time.Time
}

// OpenSQL opens or creates the save database at path. Use ":memory:" for a
// throwaway database.
func OpenSQL(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.InvalidInput(errors.PhaseStorage, "empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(errors.PhaseStorage, errors.KindInvalidInput, err, "create db dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStorage, errors.KindInvalidInput, err, "open "+path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS slots (
			name TEXT PRIMARY KEY,
			keys INTEGER NOT NULL,
			saved_at INTEGER NOT NULL,
			data BLOB NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "init schema")
		}
	}
	return &SQLStore{db: db}, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Save writes the store into slot, replacing any earlier save.
func (s *SQLStore) Save(ctx context.Context, slot string, st *Store) error {
	if slot == "" {
		return errors.InvalidInput(errors.PhaseStorage, "empty slot name")
	}
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, st); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slots (name, keys, saved_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET keys = excluded.keys, saved_at = excluded.saved_at, data = excluded.data`,
		slot, st.Len(), time.Now().UnixMilli(), buf.Bytes())
	if err != nil {
		return errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "save slot "+slot)
	}
	Logger().Debug("game state saved", zap.String("slot", slot), zap.Int("bytes", buf.Len()))
	return nil
}

// Load replaces the contents of st with the save in slot.
func (s *SQLStore) Load(ctx context.Context, slot string, st *Store) error {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM slots WHERE name = ?`, slot).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(errors.PhaseStorage, "slot", slot)
	}
	if err != nil {
		return errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "load slot "+slot)
	}
	return ReadSnapshot(bytes.NewReader(data), st)
}

// Slots lists saved slots, most recent first.
func (s *SQLStore) Slots(ctx context.Context) ([]Slot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, keys, saved_at FROM slots ORDER BY saved_at DESC, name`)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "list slots")
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		var sl Slot
		var savedAt int64
		if err := rows.Scan(&sl.Name, &sl.Keys, &savedAt); err != nil {
			return nil, errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "scan slot")
		}
		sl.SavedAt = time.UnixMilli(savedAt)
		out = append(out, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "list slots")
	}
	return out, nil
}
