package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/idverify/internal/config"
	"github.com/your-org/idverify/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the verification audit table. The embedding
// column dimension must match the configured embedding model.
func (s *PostgresStore) EnsureSchema(ctx context.Context, embeddingDim int) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS verification_records (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			liveness_label TEXT NOT NULL,
			similarity DOUBLE PRECISION,
			matched BOOLEAN NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			embedding_model TEXT NOT NULL,
			doc_embedding vector(%d),
			snapshot_key TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDim))
	if err != nil {
		return fmt.Errorf("create verification_records: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS verification_records_created_at_idx ON verification_records (created_at DESC)`)
	if err != nil {
		return fmt.Errorf("create records index: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertRecord(ctx context.Context, r *models.VerificationRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var vec *pgvector.Vector
	if len(r.DocEmbedding) > 0 {
		v := pgvector.NewVector(r.DocEmbedding)
		vec = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO verification_records
		   (id, session_id, outcome, liveness_label, similarity, matched, threshold, embedding_model, doc_embedding, snapshot_key, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.SessionID, r.Outcome, r.LivenessLabel, r.Similarity, r.Matched,
		r.Threshold, r.EmbeddingModel, vec, r.SnapshotKey, r.Message, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert verification record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id uuid.UUID) (*models.VerificationRecord, error) {
	r := &models.VerificationRecord{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, outcome, liveness_label, similarity, matched, threshold, embedding_model, snapshot_key, message, created_at
		 FROM verification_records WHERE id = $1`, id,
	).Scan(&r.ID, &r.SessionID, &r.Outcome, &r.LivenessLabel, &r.Similarity,
		&r.Matched, &r.Threshold, &r.EmbeddingModel, &r.SnapshotKey, &r.Message, &r.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get verification record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, outcome string, from, to *time.Time, limit, offset int) ([]models.VerificationRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE TRUE"
	args := []interface{}{}
	argIdx := 1

	if outcome != "" {
		baseWhere += fmt.Sprintf(" AND outcome = $%d", argIdx)
		args = append(args, outcome)
		argIdx++
	}
	if from != nil {
		baseWhere += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		baseWhere += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM verification_records " + baseWhere
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count verification records: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, session_id, outcome, liveness_label, similarity, matched, threshold, embedding_model, snapshot_key, message, created_at
		 FROM verification_records %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list verification records: %w", err)
	}
	defer rows.Close()

	var records []models.VerificationRecord
	for rows.Next() {
		var r models.VerificationRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Outcome, &r.LivenessLabel, &r.Similarity,
			&r.Matched, &r.Threshold, &r.EmbeddingModel, &r.SnapshotKey, &r.Message, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan verification record: %w", err)
		}
		records = append(records, r)
	}
	return records, total, nil
}

// SimilarDocument is a past verification whose stored document
// embedding sits close to the probe. Used to flag repeated submissions
// of the same document across sessions.
type SimilarDocument struct {
	RecordID  uuid.UUID `json:"record_id"`
	Outcome   string    `json:"outcome"`
	Score     float32   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *PostgresStore) SearchSimilarDocuments(ctx context.Context, recordID uuid.UUID, threshold float64, limit int) ([]SimilarDocument, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.outcome, 1 - (r.doc_embedding <=> probe.doc_embedding) AS score, r.created_at
		FROM verification_records r,
		     (SELECT doc_embedding FROM verification_records WHERE id = $1) probe
		WHERE r.id <> $1
		  AND r.doc_embedding IS NOT NULL
		  AND probe.doc_embedding IS NOT NULL
		  AND 1 - (r.doc_embedding <=> probe.doc_embedding) >= $2
		ORDER BY r.doc_embedding <=> probe.doc_embedding
		LIMIT $3`,
		recordID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search similar documents: %w", err)
	}
	defer rows.Close()

	var matches []SimilarDocument
	for rows.Next() {
		var m SimilarDocument
		if err := rows.Scan(&m.RecordID, &m.Outcome, &m.Score, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan similar document: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}
