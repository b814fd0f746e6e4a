package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// PGStore is a Provider backed by a Postgres JSONB document table.
type PGStore struct {
	db *sql.DB
}

// NewPGStore opens the question table, creating it when missing.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	ddl := `CREATE TABLE IF NOT EXISTS questions (
		id   TEXT PRIMARY KEY,
		data JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create questions table: %w", err)
	}

	log.Info().Msg("question store ready")
	return &PGStore{db: db}, nil
}

// Get reads one question record.
func (s *PGStore) Get(ctx context.Context, id string) (*Question, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM questions WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("read question %q: %w", id, err)
	}
	var q Question
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("decode question %q: %w", id, err)
	}
	if q.ID == "" {
		q.ID = id
	}
	return &q, nil
}

// Put upserts one question record. Used by seeding and the admin importer,
// which lives outside this module.
func (s *PGStore) Put(ctx context.Context, q *Question) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode question %q: %w", q.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO questions (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		q.ID, data,
	)
	if err != nil {
		return fmt.Errorf("write question %q: %w", q.ID, err)
	}
	return nil
}

// Close releases the database handle.
func (s *PGStore) Close() error {
	return s.db.Close()
}
