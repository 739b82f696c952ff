package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pocsync/pocsync/internal/pipeline"
)

// Store is a SQLite-backed pipeline directory. Pattern and steps are
// stored as JSON text columns; the row is the unit of replacement.
type Store struct {
	db *sql.DB
}

var _ Directory = (*Store)(nil)

// NewStore opens (or creates) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pipelines (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			pattern TEXT NOT NULL,
			steps TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipelines_status ON pipelines(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// SavePipeline inserts or replaces a pipeline definition.
func (s *Store) SavePipeline(ctx context.Context, p pipeline.Pipeline) error {
	pattern, err := json.Marshal(p.Pattern)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `INSERT INTO pipelines (id, name, description, pattern, steps, status, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	              name=excluded.name, description=excluded.description,
	              pattern=excluded.pattern, steps=excluded.steps,
	              status=excluded.status, updated_at=excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Description, string(pattern), string(steps),
		string(p.Status), p.CreatedAt.UTC().Format(time.RFC3339Nano), p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save pipeline: %w", err)
	}
	return nil
}

// GetPipeline returns one pipeline by id.
func (s *Store) GetPipeline(ctx context.Context, id string) (pipeline.Pipeline, error) {
	query := `SELECT id, name, description, pattern, steps, status, created_at, updated_at
	          FROM pipelines WHERE id = ?`

	p, err := scanPipeline(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return pipeline.Pipeline{}, fmt.Errorf("pipeline %s not found", id)
	}
	if err != nil {
		return pipeline.Pipeline{}, fmt.Errorf("failed to get pipeline: %w", err)
	}
	return p, nil
}

// ListPipelines returns every stored pipeline ordered by name.
func (s *Store) ListPipelines(ctx context.Context) ([]pipeline.Pipeline, error) {
	query := `SELECT id, name, description, pattern, steps, status, created_at, updated_at
	          FROM pipelines ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []pipeline.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// DeletePipeline removes a pipeline by id.
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pipeline %s not found", id)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipeline(row rowScanner) (pipeline.Pipeline, error) {
	var p pipeline.Pipeline
	var description sql.NullString
	var patternJSON, stepsJSON, status, createdAt, updatedAt string

	if err := row.Scan(&p.ID, &p.Name, &description, &patternJSON, &stepsJSON,
		&status, &createdAt, &updatedAt); err != nil {
		return pipeline.Pipeline{}, err
	}

	if description.Valid {
		p.Description = description.String
	}
	p.Status = pipeline.Status(status)
	if err := json.Unmarshal([]byte(patternJSON), &p.Pattern); err != nil {
		return pipeline.Pipeline{}, fmt.Errorf("failed to unmarshal pattern: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return pipeline.Pipeline{}, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return pipeline.Pipeline{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return pipeline.Pipeline{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return p, nil
}
