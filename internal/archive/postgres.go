package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore writes transcripts to PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_archive (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			sentiment_overall TEXT NOT NULL DEFAULT '',
			sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			sentiment_details TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_archive_turns (
			archive_id TEXT NOT NULL REFERENCES conversation_archive (id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (archive_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_archive_session ON conversation_archive (session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_archive
			 (id, session_id, started_at, ended_at, summary, sentiment_overall, sentiment_score, sentiment_details, pii_redacted)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			record.ID,
			record.SessionID,
			record.StartedAt,
			record.EndedAt,
			record.Summary,
			record.Sentiment.Overall,
			record.Sentiment.Score,
			record.Sentiment.Details,
			record.PIIRedacted,
		); err != nil {
			return fmt.Errorf("save archive: %w", err)
		}

		batch := &pgx.Batch{}
		for i, t := range record.Turns {
			batch.Queue(
				`INSERT INTO conversation_archive_turns (archive_id, seq, role, content, language, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				record.ID, i, t.Role, t.Text, t.Language, t.CreatedAt,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save archive turns: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
