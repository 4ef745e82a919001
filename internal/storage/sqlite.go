package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore keeps save states in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) SaveState(ctx context.Context, state *SaveState) error {
	state.fillDefaults()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO save_states (id, session_id, module_id, name, educational_encounter,
			timestamp_ms, capabilities_configuration, recorded_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, state.ID.String(), state.SessionID, string(state.ModuleID), state.Name, state.EducationalEncounter,
		state.Timestamp, state.CapabilitiesConfiguration, state.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert save state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSaveState(ctx context.Context, id uuid.UUID) (*SaveState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, module_id, name, educational_encounter,
			timestamp_ms, capabilities_configuration, recorded_at_ms
		FROM save_states
		WHERE id = ?
	`, id.String())

	state, err := scanSQLiteSaveState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load save state: %w", err)
	}
	return state, nil
}

func (s *SQLiteStore) ListSaveStates(ctx context.Context, filter ListFilter) ([]SaveState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, module_id, name, educational_encounter,
			timestamp_ms, capabilities_configuration, recorded_at_ms
		FROM save_states
		WHERE (?1 = '' OR module_id = ?1)
		  AND (?2 = '' OR session_id = ?2)
		ORDER BY recorded_at_ms DESC, rowid DESC
		LIMIT ?3
	`, string(filter.ModuleID), filter.SessionID, listLimit(filter))
	if err != nil {
		return nil, fmt.Errorf("failed to query save states: %w", err)
	}
	defer rows.Close()

	var states []SaveState
	for rows.Next() {
		state, err := scanSQLiteSaveState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan save state: %w", err)
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSaveState(row rowScanner) (*SaveState, error) {
	var (
		state      SaveState
		id         string
		moduleID   string
		recordedAt int64
	)
	err := row.Scan(
		&id,
		&state.SessionID,
		&moduleID,
		&state.Name,
		&state.EducationalEncounter,
		&state.Timestamp,
		&state.CapabilitiesConfiguration,
		&recordedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid save state id %q: %w", id, err)
	}
	state.ID = parsed
	state.ModuleID = amm.ModuleID(moduleID)
	state.RecordedAt = time.UnixMilli(recordedAt).UTC()
	return &state, nil
}
