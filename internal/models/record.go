package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a completed verification attempt.
const (
	OutcomeMatched      = "matched"
	OutcomeMismatch     = "mismatch"
	OutcomeSpoof        = "spoof"
	OutcomeUndetectable = "undetectable"
	OutcomeNoLiveFace   = "no_live_face"
)

// VerificationRecord is the persisted audit row for one verification
// attempt (one consumed session).
type VerificationRecord struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	SessionID      string     `json:"session_id" db:"session_id"`
	Outcome        string     `json:"outcome" db:"outcome"`
	LivenessLabel  string     `json:"liveness_label" db:"liveness_label"`
	Similarity     *float64   `json:"similarity,omitempty" db:"similarity"`
	Matched        bool       `json:"matched" db:"matched"`
	Threshold      float64    `json:"threshold" db:"threshold"`
	EmbeddingModel string     `json:"embedding_model" db:"embedding_model"`
	DocEmbedding   []float32  `json:"-" db:"doc_embedding"`
	SnapshotKey    string     `json:"snapshot_key" db:"snapshot_key"`
	Message        string     `json:"message" db:"message"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// VerdictEvent is the message published to NATS when an attempt
// completes. The API consumes it to persist the record and push it to
// WebSocket subscribers.
// RecordFromEvent converts a verdict event back into the audit row it
// describes.
func RecordFromEvent(event VerdictEvent) *VerificationRecord {
	return &VerificationRecord{
		ID:             event.RecordID,
		SessionID:      event.SessionID,
		Outcome:        event.Outcome,
		LivenessLabel:  event.LivenessLabel,
		Similarity:     event.Similarity,
		Matched:        event.Matched,
		Threshold:      event.Threshold,
		EmbeddingModel: event.EmbeddingModel,
		DocEmbedding:   event.DocEmbedding,
		SnapshotKey:    event.SnapshotKey,
		Message:        event.Message,
		CreatedAt:      event.Timestamp,
	}
}

type VerdictEvent struct {
	RecordID       uuid.UUID `json:"record_id"`
	SessionID      string    `json:"session_id"`
	Outcome        string    `json:"outcome"`
	LivenessLabel  string    `json:"liveness_label"`
	Similarity     *float64  `json:"similarity,omitempty"`
	Matched        bool      `json:"matched"`
	Threshold      float64   `json:"threshold"`
	EmbeddingModel string    `json:"embedding_model"`
	DocEmbedding   []float32 `json:"doc_embedding,omitempty"`
	SnapshotKey    string    `json:"snapshot_key,omitempty"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}
