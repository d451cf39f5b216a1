package handlers

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/idverify/internal/verify"
	"github.com/your-org/idverify/internal/vision"
	"github.com/your-org/idverify/pkg/dto"
)

type VerifyHandler struct {
	orch *verify.Orchestrator
}

func NewVerifyHandler(orch *verify.Orchestrator) *VerifyHandler {
	return &VerifyHandler{orch: orch}
}

// UploadIDCard runs the first protocol step: extract the document face
// embedding and open a session bound to it.
func (h *VerifyHandler) UploadIDCard(c *gin.Context) {
	img, ok := readImageFile(c, "id_card", "image")
	if !ok {
		return
	}

	sessionID, err := h.orch.UploadDocument(c.Request.Context(), img)
	if err != nil {
		if errors.Is(err, vision.ErrNoFace) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no face detected in the document image"})
			return
		}
		slog.Error("upload id card", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not process the document image"})
		return
	}

	c.JSON(http.StatusOK, dto.UploadIDCardResponse{
		Success:   true,
		SessionID: sessionID,
		Message:   "document accepted; submit the live capture with this session id",
	})
}

// Verify runs the live-capture step against a previously opened
// session. The session is spent regardless of outcome.
func (h *VerifyHandler) Verify(c *gin.Context) {
	sessionID := c.PostForm("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	img, ok := readImageFile(c, "webcam", "image")
	if !ok {
		return
	}

	verdict, err := h.orch.VerifyLive(c.Request.Context(), sessionID, img)
	if err != nil {
		if errors.Is(err, verify.ErrInvalidSession) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired session; upload the document again"})
			return
		}
		slog.Error("verify live capture", "error", err, "session_id", sessionID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed; upload the document again"})
		return
	}

	c.JSON(http.StatusOK, dto.VerifyResponse{
		Success:       true,
		RecordID:      verdict.RecordID,
		IsReal:        verdict.Liveness == vision.LivenessReal,
		LivenessLabel: string(verdict.Liveness),
		Similarity:    verdict.Similarity,
		Matched:       verdict.Matched,
		Threshold:     verdict.Threshold,
		Outcome:       verdict.Outcome,
		Message:       verdict.Message,
	})
}

// readImageFile pulls a decoded image out of the first present
// multipart field. Writes the error response itself when the upload is
// missing or unreadable.
func readImageFile(c *gin.Context, fields ...string) (image.Image, bool) {
	for _, field := range fields {
		fileHeader, err := c.FormFile(field)
		if err != nil {
			continue
		}

		f, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not open uploaded file"})
			return nil, false
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
			return nil, false
		}

		img, err := vision.DecodeImage(data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is not a valid image"})
			return nil, false
		}
		return img, true
	}

	c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
	return nil, false
}
