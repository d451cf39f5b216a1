package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/your-org/idverify/internal/ocr"
	"github.com/your-org/idverify/pkg/dto"
)

type fakeExtractor struct {
	lines []ocr.Line
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, img image.Image) ([]ocr.Line, error) {
	return f.lines, f.err
}

func newOCRRouter(engine TextExtractor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/ocr/extract", NewOCRHandler(engine).Extract)
	return r
}

func TestOCRExtractParsesFields(t *testing.T) {
	r := newOCRRouter(&fakeExtractor{lines: []ocr.Line{
		{Text: "So / No: 001234567890", Confidence: 0.95, Y: 10},
		{Text: "Họ và tên: NGUYEN VAN AN", Confidence: 0.9, Y: 40},
	}})

	body, ct := jpegBody(t, "image", nil)
	rec := doRequest(r, http.MethodPost, "/v1/ocr/extract", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rec.Code, rec.Body.String())
	}

	var resp dto.OCRExtractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Error("success = false")
	}
	if resp.Data.IDNumber == nil || *resp.Data.IDNumber != "001234567890" {
		t.Errorf("id number = %v, want 001234567890", resp.Data.IDNumber)
	}
	if len(resp.Lines) != 2 {
		t.Errorf("lines = %d, want 2", len(resp.Lines))
	}
}

func TestOCRExtractEmptyResultIsNotAnError(t *testing.T) {
	r := newOCRRouter(&fakeExtractor{})

	body, ct := jpegBody(t, "image", nil)
	rec := doRequest(r, http.MethodPost, "/v1/ocr/extract", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp dto.OCRExtractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.IDNumber != nil {
		t.Error("expected nil fields for empty recognition")
	}
}

func TestOCRExtractEngineFailure(t *testing.T) {
	r := newOCRRouter(&fakeExtractor{err: errors.New("inference failed")})

	body, ct := jpegBody(t, "image", nil)
	rec := doRequest(r, http.MethodPost, "/v1/ocr/extract", body, ct)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestOCRExtractMissingImage(t *testing.T) {
	r := newOCRRouter(&fakeExtractor{})

	body, ct := rawBody(t, "", nil, map[string]string{"unused": "x"})
	rec := doRequest(r, http.MethodPost, "/v1/ocr/extract", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
