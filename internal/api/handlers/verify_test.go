package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/idverify/internal/session"
	"github.com/your-org/idverify/internal/verify"
	"github.com/your-org/idverify/internal/vision"
	"github.com/your-org/idverify/pkg/dto"
)

type fakeEngine struct {
	embeddings [][]float32
	embedErrs  []error
	calls      int
	label      vision.LivenessLabel
}

func (f *fakeEngine) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	i := f.calls
	f.calls++
	if i < len(f.embedErrs) && f.embedErrs[i] != nil {
		return nil, f.embedErrs[i]
	}
	if i < len(f.embeddings) {
		return f.embeddings[i], nil
	}
	return nil, vision.ErrNoFace
}

func (f *fakeEngine) CheckLiveness(ctx context.Context, img image.Image) (vision.LivenessLabel, error) {
	return f.label, nil
}

func (f *fakeEngine) Model() string { return "arcface" }

func newVerifyRouter(engine *fakeEngine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	store := session.NewMemoryStore(time.Minute)
	orch := verify.NewOrchestrator(engine, store, nil, nil, 0.5, 0)
	h := NewVerifyHandler(orch)

	r := gin.New()
	r.POST("/v1/id-card", h.UploadIDCard)
	r.POST("/v1/verify", h.Verify)
	return r
}

func jpegBody(t *testing.T, field string, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	data := vision.EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 8, 8)), 85)
	return rawBody(t, field, data, extra)
}

func rawBody(t *testing.T, field string, data []byte, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := w.CreateFormFile(field, "capture.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range extra {
		_ = w.WriteField(k, v)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func doRequest(r *gin.Engine, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestUploadIDCardMissingFile(t *testing.T) {
	r := newVerifyRouter(&fakeEngine{})
	body, ct := rawBody(t, "", nil, map[string]string{"unused": "x"})

	rec := doRequest(r, http.MethodPost, "/v1/id-card", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadIDCardBadImage(t *testing.T) {
	r := newVerifyRouter(&fakeEngine{})
	body, ct := rawBody(t, "id_card", []byte("not an image"), nil)

	rec := doRequest(r, http.MethodPost, "/v1/id-card", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadIDCardNoFace(t *testing.T) {
	r := newVerifyRouter(&fakeEngine{embedErrs: []error{vision.ErrNoFace}})
	body, ct := jpegBody(t, "id_card", nil)

	rec := doRequest(r, http.MethodPost, "/v1/id-card", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadIDCardSuccess(t *testing.T) {
	r := newVerifyRouter(&fakeEngine{embeddings: [][]float32{{1, 0}}})
	body, ct := jpegBody(t, "id_card", nil)

	rec := doRequest(r, http.MethodPost, "/v1/id-card", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}

	var resp dto.UploadIDCardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Error("success = false")
	}
	if len(resp.SessionID) != 32 {
		t.Errorf("session id %q, want 32 hex chars", resp.SessionID)
	}
}

func TestVerifyMissingSessionID(t *testing.T) {
	r := newVerifyRouter(&fakeEngine{})
	body, ct := jpegBody(t, "webcam", nil)

	rec := doRequest(r, http.MethodPost, "/v1/verify", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestVerifyUnknownSessionID(t *testing.T) {
	r := newVerifyRouter(&fakeEngine{label: vision.LivenessReal})
	body, ct := jpegBody(t, "webcam", map[string]string{"session_id": "deadbeef"})

	rec := doRequest(r, http.MethodPost, "/v1/verify", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestVerifyMatchedFlow(t *testing.T) {
	emb := []float32{1, 0}
	engine := &fakeEngine{embeddings: [][]float32{emb, emb}, label: vision.LivenessReal}
	r := newVerifyRouter(engine)

	body, ct := jpegBody(t, "id_card", nil)
	rec := doRequest(r, http.MethodPost, "/v1/id-card", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}
	var upload dto.UploadIDCardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &upload); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}

	body, ct = jpegBody(t, "webcam", map[string]string{"session_id": upload.SessionID})
	rec = doRequest(r, http.MethodPost, "/v1/verify", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d; body %s", rec.Code, rec.Body.String())
	}

	var resp dto.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if !resp.IsReal || !resp.Matched {
		t.Errorf("is_real=%v matched=%v, want both true", resp.IsReal, resp.Matched)
	}
	if resp.Similarity == nil {
		t.Error("similarity missing for matched verdict")
	}
	if resp.Outcome != "matched" {
		t.Errorf("outcome = %q, want matched", resp.Outcome)
	}

	// The session is single use.
	body, ct = jpegBody(t, "webcam", map[string]string{"session_id": upload.SessionID})
	rec = doRequest(r, http.MethodPost, "/v1/verify", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second verify status = %d, want 400", rec.Code)
	}
}

func TestVerifySpoofFlow(t *testing.T) {
	engine := &fakeEngine{embeddings: [][]float32{{1, 0}}, label: vision.LivenessSpoofPrint}
	r := newVerifyRouter(engine)

	body, ct := jpegBody(t, "id_card", nil)
	rec := doRequest(r, http.MethodPost, "/v1/id-card", body, ct)
	var upload dto.UploadIDCardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &upload); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}

	body, ct = jpegBody(t, "webcam", map[string]string{"session_id": upload.SessionID})
	rec = doRequest(r, http.MethodPost, "/v1/verify", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}

	var resp dto.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if resp.IsReal || resp.Matched {
		t.Errorf("is_real=%v matched=%v, want both false", resp.IsReal, resp.Matched)
	}
	if resp.Similarity != nil {
		t.Error("similarity present for spoof verdict")
	}
	if resp.Outcome != "spoof" {
		t.Errorf("outcome = %q, want spoof", resp.Outcome)
	}
}
