package ocr

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Fields holds the structured values parsed from a document's text.
// Every member is optional; recognition quality varies with capture
// quality, so absent fields are normal and never an error.
type Fields struct {
	IDNumber      *string `json:"id_number"`
	Name          *string `json:"name"`
	DateOfBirth   *string `json:"date_of_birth"`
	Gender        *string `json:"gender"`
	Nationality   *string `json:"nationality"`
	DateOfExpiry  *string `json:"date_of_expiry"`
	ExpiryStatus  *string `json:"expiry_status"`
	ExpiryMessage *string `json:"expiry_message"`
}

var (
	idNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{12}\b`),
		regexp.MustCompile(`\b\d{9}\b`),
	}
	datePattern     = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{4}`)
	leadingSepRegex = regexp.MustCompile(`^[/:\-.\s]+`)
	nonLetterRegex  = regexp.MustCompile(`[^\p{L}\p{N}]`)

	nameKeywords = []string{
		"Họ và tên", "Ho va ten", "Họ tên", "Ho ten",
		"HO VA TEN", "HO TEN", "Full name", "FULL NAME",
	}
	nameStopKeywords = []string{
		"Ngày sinh", "Ngay sinh", "Date of birth",
		"Giới tính", "Gioi tinh", "Sex",
		"Quốc tịch", "Quoc tich", "Nationality",
	}
	nameSkipWords = map[string]bool{
		"full": true, "name": true,
		"ho": true, "va": true, "ten": true,
		"họ": true, "và": true, "tên": true,
	}

	genderKeywords = []string{"Nam", "Nữ", "NAM", "NU"}

	nationalityKeywords     = []string{"Quốc tịch", "Quoc tich", "Nationality"}
	nationalityStopKeywords = []string{"Quê quán", "Que quan", "Place of origin"}

	expiryKeywords = []string{
		"Có giá trị đến", "Co gia tri den", "Date of expiry",
		"Ngày hết hạn", "Ngay het han", "expiry", "hết hạn", "giá trị",
	}
)

// ExtractFields parses structured document fields out of recognized
// lines. now anchors the expiry check so callers and tests control the
// clock.
func ExtractFields(lines []Line, now time.Time) Fields {
	texts := make([]string, len(lines))
	for i, line := range lines {
		texts[i] = line.Text
	}
	fullText := strings.Join(texts, " ")

	var f Fields
	f.IDNumber = extractIDNumber(fullText)
	f.Name = extractName(fullText)
	f.DateOfBirth = extractFirstDate(fullText)
	f.Gender = extractGender(fullText)
	f.Nationality = extractNationality(fullText)
	f.DateOfExpiry = extractExpiryDate(fullText)

	if f.DateOfExpiry != nil {
		f.ExpiryStatus, f.ExpiryMessage = classifyExpiry(*f.DateOfExpiry, now)
	}
	return f
}

func extractIDNumber(text string) *string {
	for _, pattern := range idNumberPatterns {
		if match := pattern.FindString(text); match != "" {
			return &match
		}
	}
	return nil
}

func extractName(text string) *string {
	for _, keyword := range nameKeywords {
		idx := strings.Index(text, keyword)
		if idx == -1 {
			continue
		}
		after := leadingSepRegex.ReplaceAllString(text[idx+len(keyword):], "")
		after = cutAtAny(after, nameStopKeywords)

		var parts []string
		for _, word := range strings.Fields(after) {
			clean := nonLetterRegex.ReplaceAllString(word, "")
			if clean == "" || len([]rune(clean)) < 2 || nameSkipWords[strings.ToLower(clean)] {
				continue
			}
			if !hasLetter(clean) {
				continue
			}
			parts = append(parts, clean)
			if len(parts) == 3 {
				break
			}
		}
		if len(parts) > 0 {
			name := strings.Join(parts, " ")
			return &name
		}
	}
	return nil
}

func extractFirstDate(text string) *string {
	if match := datePattern.FindString(text); match != "" {
		return &match
	}
	return nil
}

func extractGender(text string) *string {
	for _, keyword := range genderKeywords {
		if strings.Contains(text, keyword) {
			g := keyword
			return &g
		}
	}
	return nil
}

func extractNationality(text string) *string {
	for _, keyword := range nationalityKeywords {
		idx := strings.Index(text, keyword)
		if idx == -1 {
			continue
		}
		after := leadingSepRegex.ReplaceAllString(text[idx+len(keyword):], "")
		// Bilingual cards repeat the label, e.g. "Quốc tịch / Nationality".
		for _, label := range nationalityKeywords {
			if strings.HasPrefix(after, label) {
				after = leadingSepRegex.ReplaceAllString(after[len(label):], "")
			}
		}
		after = cutAtAny(after, nationalityStopKeywords)

		parts := strings.Fields(after)
		if len(parts) == 0 {
			continue
		}
		nationality := parts[0]
		if len(parts) >= 2 {
			first := strings.ToLower(parts[0])
			if first == "viet" || first == "việt" {
				nationality = parts[0] + " " + parts[1]
			}
		}
		return &nationality
	}

	for _, variant := range []string{"Việt Nam", "Viet Nam", "VIET NAM"} {
		if strings.Contains(text, variant) {
			vn := "Việt Nam"
			return &vn
		}
	}
	return nil
}

// extractExpiryDate looks for a date after an expiry keyword first,
// then falls back to positional guessing: the expiry date sits near the
// end of the card, after the birth date.
func extractExpiryDate(text string) *string {
	for _, keyword := range expiryKeywords {
		idx := strings.Index(text, keyword)
		if idx == -1 {
			continue
		}
		window := text[idx+len(keyword):]
		if len(window) > 100 {
			window = window[:100]
		}
		if match := datePattern.FindString(window); match != "" {
			return &match
		}
	}

	dates := datePattern.FindAllString(text, -1)
	if len(dates) == 0 {
		return nil
	}
	// Second date from the end tends to be the expiry on cards that
	// also print the issue date last. Accept it only for plausible
	// expiry years, otherwise take the final date.
	if len(dates) >= 2 {
		candidate := dates[len(dates)-2]
		if year, ok := dateYear(candidate); ok && year >= 2020 {
			return &candidate
		}
	}
	last := dates[len(dates)-1]
	return &last
}

func classifyExpiry(raw string, now time.Time) (*string, *string) {
	layout := "02/01/2006"
	if strings.Contains(raw, "-") {
		layout = "02-01-2006"
	}
	expiry, err := time.Parse(layout, raw)
	if err != nil {
		status := "unknown"
		message := fmt.Sprintf("could not check expiry date: %s", raw)
		return &status, &message
	}

	var status, message string
	if !expiry.Before(now) {
		days := int(expiry.Sub(now).Hours() / 24)
		status = "valid"
		message = fmt.Sprintf("document is valid for %d more days (expires %s)", days, raw)
	} else {
		days := int(now.Sub(expiry).Hours() / 24)
		status = "expired"
		message = fmt.Sprintf("document expired %d days ago (expired %s)", days, raw)
	}
	return &status, &message
}

func cutAtAny(text string, stops []string) string {
	cut := len(text)
	for _, stop := range stops {
		if idx := strings.Index(text, stop); idx != -1 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimSpace(text[:cut])
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func dateYear(date string) (int, bool) {
	if len(date) < 4 {
		return 0, false
	}
	var year int
	if _, err := fmt.Sscanf(date[len(date)-4:], "%d", &year); err != nil {
		return 0, false
	}
	return year, true
}
