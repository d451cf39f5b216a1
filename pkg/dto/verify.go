package dto

import "github.com/google/uuid"

// UploadIDCardResponse is returned after a document image is accepted
// and a verification session opened.
type UploadIDCardResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// VerifyResponse carries the verdict of one verification attempt.
// Similarity is omitted when matching never ran (spoof, undetectable,
// no face in the live capture).
type VerifyResponse struct {
	Success       bool      `json:"success"`
	RecordID      uuid.UUID `json:"record_id"`
	IsReal        bool      `json:"is_real"`
	LivenessLabel string    `json:"liveness_label"`
	Similarity    *float64  `json:"similarity,omitempty"`
	Matched       bool      `json:"matched"`
	Threshold     float64   `json:"threshold"`
	Outcome       string    `json:"outcome"`
	Message       string    `json:"message"`
}
