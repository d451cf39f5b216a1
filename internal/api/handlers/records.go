package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/idverify/internal/storage"
	"github.com/your-org/idverify/pkg/dto"
)

type RecordHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
}

func NewRecordHandler(db *storage.PostgresStore, minio *storage.MinIOStore) *RecordHandler {
	return &RecordHandler{db: db, minio: minio}
}

// List returns a page of verification records, optionally filtered by
// outcome and creation time.
func (h *RecordHandler) List(c *gin.Context) {
	outcome := c.Query("outcome")

	var from, to *time.Time
	if s := c.Query("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		from = &t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		to = &t
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, total, err := h.db.ListRecords(c.Request.Context(), outcome, from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.ListRecordsResponse{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (h *RecordHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}

	record, err := h.db.GetRecord(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// Snapshot serves the archived live-capture image of a record.
func (h *RecordHandler) Snapshot(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}

	record, err := h.db.GetRecord(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil || record.SnapshotKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), record.SnapshotKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// Similar lists past verifications whose document embedding is close
// to this record's, to flag the same document reused across sessions.
func (h *RecordHandler) Similar(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}

	threshold := 0.8
	if s := c.Query("threshold"); s != "" {
		if t, err := strconv.ParseFloat(s, 64); err == nil {
			threshold = t
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))

	matches, err := h.db.SearchSimilarDocuments(c.Request.Context(), id, threshold, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.SimilarDocumentsResponse{Matches: matches})
}
