package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arkilian/framekit/internal/transform"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS framekit_pipelines (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	steps       JSONB NOT NULL,
	version     INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`

// PostgresConfig configures the PostgreSQL catalog connection pool.
type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// PostgresCatalog implements Catalog on a shared PostgreSQL database, for
// deployments where several framekit servers share one set of pipelines.
type PostgresCatalog struct {
	pool     *pgxpool.Pool
	registry *transform.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewPostgresCatalog connects to cfg.URL and creates the schema if needed.
func NewPostgresCatalog(ctx context.Context, cfg PostgresConfig, registry *transform.Registry, logger *zap.Logger) (*PostgresCatalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	return &PostgresCatalog{
		pool:     pool,
		registry: registry,
		logger:   logger.Named("catalog"),
		now:      time.Now,
	}, nil
}

// Save creates or updates a pipeline. The current row is locked for the
// duration of the transaction; concurrent creates race on the primary key
// and the loser gets a write conflict.
func (c *PostgresCatalog) Save(ctx context.Context, def PipelineDefinition, expectedVersion int) (*PipelineRecord, error) {
	def, stepsJSON, err := prepare(c.registry, def)
	if err != nil {
		return nil, err
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	var current int
	var createdAt time.Time
	err = tx.QueryRow(ctx,
		"SELECT version, created_at FROM framekit_pipelines WHERE name = $1 FOR UPDATE", def.Name,
	).Scan(&current, &createdAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("catalog: failed to read pipeline: %w", err)
	}

	if expectedVersion != AnyVersion && expectedVersion != current {
		return nil, versionConflict(def.Name, current, expectedVersion)
	}

	now := c.now().UTC()
	record := &PipelineRecord{
		PipelineDefinition: def,
		Version:            current + 1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if current == 0 {
		tag, err := tx.Exec(ctx,
			`INSERT INTO framekit_pipelines (name, description, steps, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (name) DO NOTHING`,
			def.Name, def.Description, string(stepsJSON), record.Version, now, now)
		if err != nil {
			return nil, fmt.Errorf("catalog: failed to write pipeline: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, versionConflict(def.Name, 1, expectedVersion)
		}
	} else {
		record.CreatedAt = createdAt
		_, err := tx.Exec(ctx,
			`UPDATE framekit_pipelines SET description = $1, steps = $2, version = $3, updated_at = $4
			 WHERE name = $5`,
			def.Description, string(stepsJSON), record.Version, now, def.Name)
		if err != nil {
			return nil, fmt.Errorf("catalog: failed to write pipeline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("catalog: failed to commit: %w", err)
	}

	c.logger.Info("pipeline saved",
		zap.String("pipeline", def.Name),
		zap.Int("version", record.Version),
		zap.Int("steps", len(def.Steps)))
	return record, nil
}

// Get retrieves a pipeline by name.
func (c *PostgresCatalog) Get(ctx context.Context, name string) (*PipelineRecord, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT name, description, steps, version, created_at, updated_at
		 FROM framekit_pipelines WHERE name = $1`, name)
	record, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get pipeline: %w", err)
	}
	return record, nil
}

// List returns all pipelines ordered by name.
func (c *PostgresCatalog) List(ctx context.Context) ([]*PipelineRecord, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT name, description, steps, version, created_at, updated_at
		 FROM framekit_pipelines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list pipelines: %w", err)
	}
	defer rows.Close()

	records := []*PipelineRecord{}
	for rows.Next() {
		record, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: failed to scan pipeline: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Delete removes a pipeline.
func (c *PostgresCatalog) Delete(ctx context.Context, name string) error {
	tag, err := c.pool.Exec(ctx, "DELETE FROM framekit_pipelines WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("catalog: failed to delete pipeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(name)
	}
	c.logger.Info("pipeline deleted", zap.String("pipeline", name))
	return nil
}

// Close closes the connection pool.
func (c *PostgresCatalog) Close() error {
	c.pool.Close()
	return nil
}

func scanPostgresRecord(row pgx.Row) (*PipelineRecord, error) {
	var (
		record    PipelineRecord
		steps     []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&record.Name, &record.Description, &steps, &record.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &record.Steps); err != nil {
		return nil, fmt.Errorf("corrupt steps for %q: %w", record.Name, err)
	}
	record.CreatedAt = createdAt
	record.UpdatedAt = updatedAt
	return &record, nil
}
