package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/idverify/internal/models"
	"github.com/your-org/idverify/internal/storage"
)

// ListRecordsResponse is a page of verification records.
type ListRecordsResponse struct {
	Records []models.VerificationRecord `json:"records"`
	Total   int                         `json:"total"`
	Limit   int                         `json:"limit"`
	Offset  int                         `json:"offset"`
}

// SimilarDocumentsResponse lists past verifications whose document
// embedding is close to the probe record's.
type SimilarDocumentsResponse struct {
	Matches []storage.SimilarDocument `json:"matches"`
}

// WSVerdict is the live verdict feed payload pushed to WebSocket
// clients.
type WSVerdict struct {
	Type          string    `json:"type"`
	RecordID      uuid.UUID `json:"record_id"`
	SessionID     string    `json:"session_id"`
	Outcome       string    `json:"outcome"`
	LivenessLabel string    `json:"liveness_label"`
	Similarity    *float64  `json:"similarity,omitempty"`
	Matched       bool      `json:"matched"`
	Threshold     float64   `json:"threshold"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}
