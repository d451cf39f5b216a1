package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/idverify/internal/api/handlers"
	"github.com/your-org/idverify/internal/api/ws"
	"github.com/your-org/idverify/internal/auth"
	"github.com/your-org/idverify/internal/queue"
	"github.com/your-org/idverify/internal/storage"
	"github.com/your-org/idverify/internal/verify"
)

type RouterConfig struct {
	APIKey       string
	DB           *storage.PostgresStore
	MinIO        *storage.MinIOStore
	Producer     *queue.Producer
	Hub          *ws.Hub
	Orchestrator *verify.Orchestrator
	OCR          handlers.TextExtractor
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/health", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket verdict feed
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Verification protocol
	verifyH := handlers.NewVerifyHandler(cfg.Orchestrator)
	v1.POST("/id-card", verifyH.UploadIDCard)
	v1.POST("/verify", verifyH.Verify)

	// Document OCR
	ocrH := handlers.NewOCRHandler(cfg.OCR)
	v1.POST("/ocr/extract", ocrH.Extract)

	// Audit records
	recordH := handlers.NewRecordHandler(cfg.DB, cfg.MinIO)
	v1.GET("/records", recordH.List)
	v1.GET("/records/:id", recordH.Get)
	v1.GET("/records/:id/snapshot", recordH.Snapshot)
	v1.GET("/records/:id/similar", recordH.Similar)

	return r
}
