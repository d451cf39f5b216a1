package verify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/idverify/internal/models"
	"github.com/your-org/idverify/internal/observability"
	"github.com/your-org/idverify/internal/vision"
)

// FaceEngine is the ML provider contract the orchestrator consumes:
// image in, embedding or liveness label out. The production
// implementation is the shared ONNX engine; tests substitute stubs.
type FaceEngine interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
	CheckLiveness(ctx context.Context, img image.Image) (vision.LivenessLabel, error)
	Model() string
}

// SessionStore binds document embeddings to single-use session ids.
type SessionStore interface {
	Create(embedding []float32) (string, error)
	Claim(id string) ([]float32, bool)
}

// Publisher emits verdict events for persistence and live feeds.
type Publisher interface {
	PublishVerdict(ctx context.Context, event models.VerdictEvent) error
}

// Archive stores live-capture snapshots.
type Archive interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Verdict is the outcome of one verification attempt.
type Verdict struct {
	RecordID   uuid.UUID
	Liveness   vision.LivenessLabel
	Similarity *float64
	Matched    bool
	Threshold  float64
	Outcome    string
	Message    string
}

// Orchestrator sequences the verification protocol: document upload
// binds an embedding to a session; the verify step gates face matching
// behind liveness and spends the session no matter how it ends.
type Orchestrator struct {
	engine    FaceEngine
	sessions  SessionStore
	publisher Publisher
	archive   Archive
	threshold float64
	timeout   time.Duration
}

// NewOrchestrator wires the verification flow. publisher and archive
// may be nil; verdicts are then returned to the caller only.
func NewOrchestrator(engine FaceEngine, sessions SessionStore, publisher Publisher, archive Archive, threshold float64, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		engine:    engine,
		sessions:  sessions,
		publisher: publisher,
		archive:   archive,
		threshold: threshold,
		timeout:   timeout,
	}
}

// Threshold returns the similarity cutoff in effect.
func (o *Orchestrator) Threshold() float64 {
	return o.threshold
}

// UploadDocument extracts the document face embedding and opens a
// session bound to it. No session exists for faceless documents, so a
// returned id always references a usable embedding.
func (o *Orchestrator) UploadDocument(ctx context.Context, img image.Image) (string, error) {
	embedding, err := o.embedWithDeadline(ctx, img)
	if err != nil {
		return "", err
	}

	id, err := o.sessions.Create(embedding)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	slog.Info("document session created", "session_id", id)
	return id, nil
}

// VerifyLive runs transitions two and three: claim the session, check
// liveness, and only when the capture is real compare embeddings.
// The session is spent by the claim, so every path through this method
// consumes it, including provider failures.
func (o *Orchestrator) VerifyLive(ctx context.Context, sessionID string, img image.Image) (*Verdict, error) {
	docEmbedding, ok := o.sessions.Claim(sessionID)
	if !ok {
		return nil, ErrInvalidSession
	}

	label, err := o.checkLivenessWithDeadline(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("liveness provider: %w", err)
	}

	if label == vision.LivenessUndetectable {
		return o.finish(ctx, sessionID, img, docEmbedding, &Verdict{
			Liveness:  label,
			Threshold: o.threshold,
			Outcome:   models.OutcomeUndetectable,
			Message:   "face too small or too large in frame; reposition so the face fills 25-45% of the frame and upload the document again",
		}), nil
	}

	if label != vision.LivenessReal {
		// Spoof short-circuits: the live image is never embedded.
		return o.finish(ctx, sessionID, img, docEmbedding, &Verdict{
			Liveness:  label,
			Threshold: o.threshold,
			Outcome:   models.OutcomeSpoof,
			Message:   "capture rejected as a presentation attack (printed photo, video, or screen replay)",
		}), nil
	}

	liveEmbedding, err := o.embedWithDeadline(ctx, img)
	if errors.Is(err, vision.ErrNoFace) {
		return o.finish(ctx, sessionID, img, docEmbedding, &Verdict{
			Liveness:  label,
			Threshold: o.threshold,
			Outcome:   models.OutcomeNoLiveFace,
			Message:   "liveness passed but no face was found in the live capture",
		}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	similarity := CosineSimilarity(docEmbedding, liveEmbedding)
	matched := similarity >= o.threshold

	verdict := &Verdict{
		Liveness:   label,
		Similarity: &similarity,
		Matched:    matched,
		Threshold:  o.threshold,
	}
	if matched {
		verdict.Outcome = models.OutcomeMatched
		verdict.Message = "verification successful"
	} else {
		verdict.Outcome = models.OutcomeMismatch
		verdict.Message = "live face does not match the document photo"
	}

	return o.finish(ctx, sessionID, img, docEmbedding, verdict), nil
}

// finish stamps the verdict, archives the capture, and publishes the
// audit event. Side effects are best effort and never fail the attempt.
func (o *Orchestrator) finish(ctx context.Context, sessionID string, img image.Image, docEmbedding []float32, v *Verdict) *Verdict {
	v.RecordID = uuid.New()
	observability.Verifications.WithLabelValues(v.Outcome).Inc()

	var snapshotKey string
	if o.archive != nil {
		snapshotKey = "captures/" + v.RecordID.String() + ".jpg"
		if err := o.archive.PutObject(ctx, snapshotKey, vision.EncodeJPEG(img, 85), "image/jpeg"); err != nil {
			slog.Warn("archive capture", "error", err, "record_id", v.RecordID)
			snapshotKey = ""
		}
	}

	if o.publisher != nil {
		event := models.VerdictEvent{
			RecordID:       v.RecordID,
			SessionID:      sessionID,
			Outcome:        v.Outcome,
			LivenessLabel:  string(v.Liveness),
			Similarity:     v.Similarity,
			Matched:        v.Matched,
			Threshold:      v.Threshold,
			EmbeddingModel: o.engine.Model(),
			DocEmbedding:   docEmbedding,
			SnapshotKey:    snapshotKey,
			Message:        v.Message,
			Timestamp:      time.Now().UTC(),
		}
		if err := o.publisher.PublishVerdict(ctx, event); err != nil {
			slog.Warn("publish verdict", "error", err, "record_id", v.RecordID)
		}
	}

	slog.Info("verification attempt completed",
		"record_id", v.RecordID,
		"outcome", v.Outcome,
		"liveness", v.Liveness,
		"matched", v.Matched,
	)
	return v
}

func (o *Orchestrator) embedWithDeadline(ctx context.Context, img image.Image) ([]float32, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	embedding, err := o.engine.Embed(callCtx, img)
	if err != nil {
		return nil, translateDeadline(err)
	}
	return embedding, nil
}

func (o *Orchestrator) checkLivenessWithDeadline(ctx context.Context, img image.Image) (vision.LivenessLabel, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	label, err := o.engine.CheckLiveness(callCtx, img)
	if err != nil {
		return "", translateDeadline(err)
	}
	return label, nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

func translateDeadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrProviderTimeout
	}
	return err
}
