// Package catalog stores named transformation pipelines in SQLite or PostgreSQL.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	fkerrors "github.com/arkilian/framekit/internal/errors"
	"github.com/arkilian/framekit/internal/transform"
)

// AnyVersion disables the optimistic concurrency check in Save.
const AnyVersion = -1

// Catalog manages saved pipelines.
type Catalog interface {
	// Save creates or updates a pipeline. The stored version (0 when the
	// pipeline does not exist) must equal expectedVersion unless
	// expectedVersion is AnyVersion.
	Save(ctx context.Context, def PipelineDefinition, expectedVersion int) (*PipelineRecord, error)

	// Get retrieves a pipeline by name.
	Get(ctx context.Context, name string) (*PipelineRecord, error)

	// List returns all pipelines ordered by name.
	List(ctx context.Context) ([]*PipelineRecord, error)

	// Delete removes a pipeline.
	Delete(ctx context.Context, name string) error

	// Close closes the catalog database connection.
	Close() error
}

// PipelineDefinition is the caller-supplied part of a pipeline.
type PipelineDefinition struct {
	Name        string             `json:"name" yaml:"name" toml:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Steps       []transform.Config `json:"steps" yaml:"steps" toml:"steps"`
}

// PipelineRecord is a stored pipeline.
type PipelineRecord struct {
	PipelineDefinition
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pipelines (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	steps_json  TEXT NOT NULL,
	version     INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
)`

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db       *sql.DB
	registry *transform.Registry
	logger   *zap.Logger
	mu       sync.Mutex // serialises writers
	now      func() time.Time
}

// NewSQLiteCatalog opens (or creates) the catalog at dbPath. When registry
// is non-nil, pipeline steps are compiled against it before they are saved.
func NewSQLiteCatalog(dbPath string, registry *transform.Registry, logger *zap.Logger) (*SQLiteCatalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{
		db:       db,
		registry: registry,
		logger:   logger.Named("catalog"),
		now:      time.Now,
	}, nil
}

// Save creates or updates a pipeline.
func (c *SQLiteCatalog) Save(ctx context.Context, def PipelineDefinition, expectedVersion int) (*PipelineRecord, error) {
	def, stepsJSON, err := prepare(c.registry, def)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	var createdAtMs int64
	err = tx.QueryRowContext(ctx,
		"SELECT version, created_at FROM pipelines WHERE name = ?", def.Name,
	).Scan(&current, &createdAtMs)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("catalog: failed to read pipeline: %w", err)
	}

	if expectedVersion != AnyVersion && expectedVersion != current {
		return nil, versionConflict(def.Name, current, expectedVersion)
	}

	now := c.now()
	record := &PipelineRecord{
		PipelineDefinition: def,
		Version:            current + 1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if current == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pipelines (name, description, steps_json, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			def.Name, def.Description, string(stepsJSON), record.Version, now.UnixMilli(), now.UnixMilli())
	} else {
		record.CreatedAt = time.UnixMilli(createdAtMs)
		_, err = tx.ExecContext(ctx,
			`UPDATE pipelines SET description = ?, steps_json = ?, version = ?, updated_at = ?
			 WHERE name = ? AND version = ?`,
			def.Description, string(stepsJSON), record.Version, now.UnixMilli(), def.Name, current)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to write pipeline: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("catalog: failed to commit: %w", err)
	}

	c.logger.Info("pipeline saved",
		zap.String("pipeline", def.Name),
		zap.Int("version", record.Version),
		zap.Int("steps", len(def.Steps)))
	return record, nil
}

// Get retrieves a pipeline by name.
func (c *SQLiteCatalog) Get(ctx context.Context, name string) (*PipelineRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT name, description, steps_json, version, created_at, updated_at
		 FROM pipelines WHERE name = ?`, name)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get pipeline: %w", err)
	}
	return record, nil
}

// List returns all pipelines ordered by name.
func (c *SQLiteCatalog) List(ctx context.Context) ([]*PipelineRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, description, steps_json, version, created_at, updated_at
		 FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list pipelines: %w", err)
	}
	defer rows.Close()

	records := []*PipelineRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: failed to scan pipeline: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Delete removes a pipeline.
func (c *SQLiteCatalog) Delete(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, "DELETE FROM pipelines WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("catalog: failed to delete pipeline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: failed to delete pipeline: %w", err)
	}
	if n == 0 {
		return notFound(name)
	}
	c.logger.Info("pipeline deleted", zap.String("pipeline", name))
	return nil
}

// Close closes the catalog database connection.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*PipelineRecord, error) {
	var (
		record               PipelineRecord
		stepsJSON            string
		createdAt, updatedAt int64
	)
	if err := s.Scan(&record.Name, &record.Description, &stepsJSON, &record.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stepsJSON), &record.Steps); err != nil {
		return nil, fmt.Errorf("corrupt steps for %q: %w", record.Name, err)
	}
	record.CreatedAt = time.UnixMilli(createdAt)
	record.UpdatedAt = time.UnixMilli(updatedAt)
	return &record, nil
}

// prepare validates def and returns it with its serialized steps.
func prepare(registry *transform.Registry, def PipelineDefinition) (PipelineDefinition, []byte, error) {
	if def.Name == "" {
		return def, nil, fkerrors.NewValidationError(fkerrors.CodeInvalidName, "pipeline name is required")
	}
	if registry != nil {
		if _, err := transform.Compile(registry, def.Steps); err != nil {
			return def, nil, err
		}
	}
	if def.Steps == nil {
		def.Steps = []transform.Config{}
	}
	stepsJSON, err := json.Marshal(def.Steps)
	if err != nil {
		return def, nil, fkerrors.NewValidationError(fkerrors.CodeInvalidOptions, fmt.Sprintf("steps are not serializable: %v", err))
	}
	return def, stepsJSON, nil
}

func versionConflict(name string, current, expected int) error {
	return fkerrors.NewCatalogError(fkerrors.CodeWriteConflict,
		fmt.Sprintf("pipeline %q is at version %d, expected %d", name, current, expected), nil)
}

func notFound(name string) error {
	return fkerrors.NewCatalogError(fkerrors.CodePipelineNotFound, fmt.Sprintf("pipeline %q not found", name), nil)
}
