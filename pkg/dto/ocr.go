package dto

import "github.com/your-org/idverify/internal/ocr"

// OCRExtractResponse returns parsed document fields plus the raw
// recognized lines they were derived from.
type OCRExtractResponse struct {
	Success bool       `json:"success"`
	Data    ocr.Fields `json:"data"`
	Lines   []ocr.Line `json:"lines"`
}
