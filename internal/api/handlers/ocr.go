package handlers

import (
	"context"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/idverify/internal/ocr"
	"github.com/your-org/idverify/pkg/dto"
)

// TextExtractor recognizes text lines in a document image.
type TextExtractor interface {
	Extract(ctx context.Context, img image.Image) ([]ocr.Line, error)
}

type OCRHandler struct {
	engine TextExtractor
}

func NewOCRHandler(engine TextExtractor) *OCRHandler {
	return &OCRHandler{engine: engine}
}

// Extract recognizes text on a document image and parses the standard
// card fields out of it. Independent of verification sessions.
func (h *OCRHandler) Extract(c *gin.Context) {
	img, ok := readImageFile(c, "image", "id_card")
	if !ok {
		return
	}

	lines, err := h.engine.Extract(c.Request.Context(), img)
	if err != nil {
		slog.Error("ocr extract", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read text from the image"})
		return
	}

	c.JSON(http.StatusOK, dto.OCRExtractResponse{
		Success: true,
		Data:    ocr.ExtractFields(lines, time.Now()),
		Lines:   lines,
	})
}
