package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/config"
)

//go:embed postgres_schema.sql
var postgresSchema string

type PostgresClient struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresClient)(nil)

func NewPostgresClient(ctx context.Context, cfg config.SaveStateConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

// SaveState inserts state, filling ID and RecordedAt when unset.
func (p *PostgresClient) SaveState(ctx context.Context, state *SaveState) error {
	state.fillDefaults()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO save_states (id, session_id, module_id, name, educational_encounter,
			timestamp_ms, capabilities_configuration, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, state.ID, state.SessionID, string(state.ModuleID), state.Name, state.EducationalEncounter,
		state.Timestamp, state.CapabilitiesConfiguration, state.RecordedAt)

	if err != nil {
		return fmt.Errorf("failed to insert save state: %w", err)
	}
	return nil
}

func (p *PostgresClient) GetSaveState(ctx context.Context, id uuid.UUID) (*SaveState, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, session_id, module_id, name, educational_encounter,
			timestamp_ms, capabilities_configuration, recorded_at
		FROM save_states
		WHERE id = $1
	`, id)

	state, err := scanSaveState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load save state: %w", err)
	}
	return state, nil
}

func (p *PostgresClient) ListSaveStates(ctx context.Context, filter ListFilter) ([]SaveState, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, module_id, name, educational_encounter,
			timestamp_ms, capabilities_configuration, recorded_at
		FROM save_states
		WHERE ($1 = '' OR module_id = $1)
		  AND ($2 = '' OR session_id = $2)
		ORDER BY recorded_at DESC
		LIMIT $3
	`, string(filter.ModuleID), filter.SessionID, listLimit(filter))
	if err != nil {
		return nil, fmt.Errorf("failed to query save states: %w", err)
	}
	defer rows.Close()

	var states []SaveState
	for rows.Next() {
		state, err := scanSaveState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan save state: %w", err)
		}
		states = append(states, *state)
	}

	return states, rows.Err()
}

func scanSaveState(row pgx.Row) (*SaveState, error) {
	var state SaveState
	var moduleID string
	err := row.Scan(
		&state.ID,
		&state.SessionID,
		&moduleID,
		&state.Name,
		&state.EducationalEncounter,
		&state.Timestamp,
		&state.CapabilitiesConfiguration,
		&state.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	state.ModuleID = amm.ModuleID(moduleID)
	return &state, nil
}
