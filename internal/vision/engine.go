package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/your-org/idverify/internal/config"
	"github.com/your-org/idverify/internal/observability"
)

// ErrNoFace is returned when an image contains no detectable face.
// Callers treat this as an expected outcome, not a provider failure.
var ErrNoFace = errors.New("no face detected in image")

// Engine pairs a face detector with an embedding model behind a single
// image-in, embedding-out contract. Models load once at startup and
// are shared by all requests for the process lifetime.
type Engine struct {
	detector *Detector
	embedder *Embedder
	liveness *LivenessClassifier
}

// NewEngine loads all ONNX models from cfg.ModelsDir.
func NewEngine(cfg config.VisionConfig) (*Engine, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	embFile, err := ModelFile(cfg.EmbeddingModel)
	if err != nil {
		det.Close()
		return nil, err
	}
	embPath := filepath.Join(cfg.ModelsDir, embFile)
	slog.Info("loading embedding model", "model", cfg.EmbeddingModel, "path", embPath)
	emb, err := NewEmbedder(embPath, cfg.EmbeddingModel)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	livePath := filepath.Join(cfg.ModelsDir, "minifasnet.onnx")
	slog.Info("loading liveness model", "path", livePath)
	live, err := NewLivenessClassifier(livePath, det, cfg.LivenessRealLabel, cfg.MinFaceRatio, cfg.MaxFaceRatio)
	if err != nil {
		det.Close()
		emb.Close()
		return nil, fmt.Errorf("load liveness classifier: %w", err)
	}

	slog.Info("vision engine ready", "embedding_model", cfg.EmbeddingModel)

	return &Engine{detector: det, embedder: emb, liveness: live}, nil
}

// Embed locates the most confident face in the image and returns its
// embedding, or ErrNoFace when the image has none.
func (e *Engine) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	start := time.Now()
	detW, detH := e.detector.InputSize()
	detInput := toCHW(img, detW, detH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
	faces, err := e.detector.Detect(detInput, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	if len(faces) == 0 {
		return nil, ErrNoFace
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}

	crop := cropRegion(img, best.Box, 0.1)
	if crop == nil {
		return nil, ErrNoFace
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	embW, embH := e.embedder.InputSize()
	embInput := toCHW(crop, embW, embH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
	embedding, err := e.embedder.Extract(embInput)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	return embedding, nil
}

// CheckLiveness classifies the live capture.
func (e *Engine) CheckLiveness(ctx context.Context, img image.Image) (LivenessLabel, error) {
	start := time.Now()
	label, err := e.liveness.Check(ctx, img)
	observability.InferenceDuration.WithLabelValues("liveness").Observe(time.Since(start).Seconds())
	return label, err
}

// Model returns the active embedding model name.
func (e *Engine) Model() string {
	return e.embedder.Model()
}

// Close releases all ONNX sessions.
func (e *Engine) Close() {
	if e.liveness != nil {
		e.liveness.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
	if e.detector != nil {
		e.detector.Close()
	}
}
