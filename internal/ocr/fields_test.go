package ocr

import (
	"testing"
	"time"
)

func linesFrom(texts ...string) []Line {
	lines := make([]Line, len(texts))
	for i, t := range texts {
		lines[i] = Line{Text: t, Confidence: 0.9, Y: float64(i * 30)}
	}
	return lines
}

func strValue(t *testing.T, s *string) string {
	t.Helper()
	if s == nil {
		t.Fatal("field is nil")
	}
	return *s
}

func TestExtractFieldsFullCard(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	lines := linesFrom(
		"CAN CUOC CONG DAN",
		"So / No: 001234567890",
		"Họ và tên / Full name: NGUYEN VAN AN",
		"Ngày sinh / Date of birth: 15/03/1990",
		"Giới tính / Sex: Nam",
		"Quốc tịch / Nationality: Việt Nam",
		"Có giá trị đến: 15/03/2030",
	)

	f := ExtractFields(lines, now)

	if got := strValue(t, f.IDNumber); got != "001234567890" {
		t.Errorf("id number = %q, want 001234567890", got)
	}
	if got := strValue(t, f.Name); got != "NGUYEN VAN AN" {
		t.Errorf("name = %q, want NGUYEN VAN AN", got)
	}
	if got := strValue(t, f.DateOfBirth); got != "15/03/1990" {
		t.Errorf("date of birth = %q, want 15/03/1990", got)
	}
	if got := strValue(t, f.Gender); got != "Nam" {
		t.Errorf("gender = %q, want Nam", got)
	}
	if got := strValue(t, f.Nationality); got != "Việt Nam" {
		t.Errorf("nationality = %q, want Việt Nam", got)
	}
	if got := strValue(t, f.DateOfExpiry); got != "15/03/2030" {
		t.Errorf("expiry = %q, want 15/03/2030", got)
	}
	if got := strValue(t, f.ExpiryStatus); got != "valid" {
		t.Errorf("expiry status = %q, want valid", got)
	}
}

func TestExtractFieldsNineDigitID(t *testing.T) {
	f := ExtractFields(linesFrom("CMND So 123456789"), time.Now())
	if got := strValue(t, f.IDNumber); got != "123456789" {
		t.Errorf("id number = %q, want 123456789", got)
	}
}

func TestExtractFieldsTwelveDigitPreferred(t *testing.T) {
	f := ExtractFields(linesFrom("So 123456789 No 001234567890"), time.Now())
	if got := strValue(t, f.IDNumber); got != "001234567890" {
		t.Errorf("id number = %q, want the 12-digit number", got)
	}
}

func TestExtractFieldsNameStopsAtBirthKeyword(t *testing.T) {
	f := ExtractFields(linesFrom("Họ và tên: TRAN THI MAI Ngày sinh 01/01/2000"), time.Now())
	if got := strValue(t, f.Name); got != "TRAN THI MAI" {
		t.Errorf("name = %q, want TRAN THI MAI", got)
	}
}

func TestExtractFieldsNameCapsAtThreeWords(t *testing.T) {
	f := ExtractFields(linesFrom("Full name: LE HOANG PHUC ANH"), time.Now())
	if got := strValue(t, f.Name); got != "LE HOANG PHUC" {
		t.Errorf("name = %q, want three parts LE HOANG PHUC", got)
	}
}

func TestExtractFieldsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f := ExtractFields(linesFrom("Date of expiry: 01/01/2024"), now)

	if got := strValue(t, f.ExpiryStatus); got != "expired" {
		t.Errorf("expiry status = %q, want expired", got)
	}
	if f.ExpiryMessage == nil {
		t.Error("expiry message missing for expired document")
	}
}

func TestExtractFieldsExpiryPositionalFallback(t *testing.T) {
	// No expiry keyword survives recognition; the parser falls back to
	// the trailing dates, preferring a plausible expiry year.
	f := ExtractFields(linesFrom("15/03/1990 something 15/03/2031 20/04/2021"), time.Now())
	if got := strValue(t, f.DateOfExpiry); got != "15/03/2031" {
		t.Errorf("expiry = %q, want 15/03/2031", got)
	}
}

func TestExtractFieldsAllAbsent(t *testing.T) {
	f := ExtractFields(linesFrom("nothing useful here"), time.Now())

	if f.IDNumber != nil || f.Name != nil || f.DateOfBirth != nil ||
		f.Gender != nil || f.Nationality != nil || f.DateOfExpiry != nil {
		t.Errorf("expected all fields nil, got %+v", f)
	}
}

func TestExtractFieldsNationalityFallback(t *testing.T) {
	f := ExtractFields(linesFrom("mentions Viet Nam without a keyword"), time.Now())
	if got := strValue(t, f.Nationality); got != "Việt Nam" {
		t.Errorf("nationality = %q, want Việt Nam", got)
	}
}
