package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/idverify/internal/api"
	"github.com/your-org/idverify/internal/api/ws"
	"github.com/your-org/idverify/internal/config"
	"github.com/your-org/idverify/internal/models"
	"github.com/your-org/idverify/internal/observability"
	"github.com/your-org/idverify/internal/ocr"
	"github.com/your-org/idverify/internal/queue"
	"github.com/your-org/idverify/internal/session"
	"github.com/your-org/idverify/internal/storage"
	"github.com/your-org/idverify/internal/verify"
	"github.com/your-org/idverify/internal/vision"
	"github.com/your-org/idverify/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting idverify API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	embeddingDim, err := vision.EmbeddingDim(cfg.Vision.EmbeddingModel)
	if err != nil {
		slog.Error("resolve embedding model", "error", err)
		os.Exit(1)
	}
	if err := db.EnsureSchema(context.Background(), embeddingDim); err != nil {
		slog.Error("ensure database schema", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStream(context.Background()); err != nil {
		slog.Warn("ensure nats stream", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Verdict consumer persists the audit record and pushes it to the
	// live feed.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create verdict consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeVerdicts(ctx, "api-verdicts", func(ctx context.Context, msg jetstream.Msg) error {
		var event models.VerdictEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			return err
		}

		record := models.RecordFromEvent(event)
		if err := db.InsertRecord(ctx, record); err != nil {
			slog.Error("store verification record", "error", err)
		}

		hub.BroadcastVerdict(&dto.WSVerdict{
			Type:          "verdict",
			RecordID:      event.RecordID,
			SessionID:     event.SessionID,
			Outcome:       event.Outcome,
			LivenessLabel: event.LivenessLabel,
			Similarity:    event.Similarity,
			Matched:       event.Matched,
			Threshold:     event.Threshold,
			Message:       event.Message,
			Timestamp:     event.Timestamp,
		})
		return nil
	})
	if err != nil {
		slog.Warn("start verdict consumer", "error", err)
	}

	// Initialize ONNX Runtime. The verification engine is the core of
	// the service; failure to load it is fatal.
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("onnx runtime init", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	engine, err := vision.NewEngine(cfg.Vision)
	if err != nil {
		slog.Error("load vision engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	ocrEngine, err := ocr.NewEngine(cfg.Vision.ModelsDir)
	if err != nil {
		slog.Error("load ocr engine", "error", err)
		os.Exit(1)
	}
	defer ocrEngine.Close()

	// Session store with expiry janitor
	store := session.NewMemoryStore(cfg.Session.TTL)
	go store.Run(ctx)

	orch := verify.NewOrchestrator(
		engine,
		store,
		producer,
		minioStore,
		cfg.Vision.MatchThreshold(),
		cfg.Vision.ProviderTimeout,
	)

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:       cfg.Server.APIKey,
		DB:           db,
		MinIO:        minioStore,
		Producer:     producer,
		Hub:          hub,
		Orchestrator: orch,
		OCR:          ocrEngine,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
