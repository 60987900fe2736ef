package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidDate = errors.New("invalid date")

const dateLayout = "2006-01-02"

var acceptedDateLayouts = []string{
	dateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// MetadataFields are the inputs of the canonical batch hash.
// Dates accept time.Time, *time.Time or a date string; nil means absent.
type MetadataFields struct {
	BatchID           string
	DrugName          string
	ManufacturingDate any
	ExpiryDate        any
	Quantity          int64
	Manufacturer      string
}

// canonicalMetadata declares its fields in lexicographic key order.
type canonicalMetadata struct {
	BatchID           string `json:"batchID"`
	DrugName          string `json:"drugName"`
	ExpiryDate        string `json:"expiryDate"`
	Manufacturer      string `json:"manufacturer"`
	ManufacturingDate string `json:"manufacturingDate"`
	Quantity          int64  `json:"quantity"`
}

// CanonicalMetadata returns the exact byte string that is hashed.
func CanonicalMetadata(fields MetadataFields) ([]byte, error) {
	mfg, err := NormalizeDate(fields.ManufacturingDate)
	if err != nil {
		return nil, fmt.Errorf("manufacturingDate: %w", err)
	}
	exp, err := NormalizeDate(fields.ExpiryDate)
	if err != nil {
		return nil, fmt.Errorf("expiryDate: %w", err)
	}
	qty := fields.Quantity
	if qty == 0 {
		qty = 1
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalMetadata{
		BatchID:           fields.BatchID,
		DrugName:          fields.DrugName,
		ExpiryDate:        exp,
		Manufacturer:      strings.ToLower(fields.Manufacturer),
		ManufacturingDate: mfg,
		Quantity:          qty,
	}); err != nil {
		return nil, err
	}

	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	// encoding/json escapes the JS line separators, JSON.stringify does not
	if strings.ContainsAny(fields.BatchID+fields.DrugName+fields.Manufacturer, "\u2028\u2029") {
		out = bytes.ReplaceAll(out, []byte(`\u2028`), []byte("\u2028"))
		out = bytes.ReplaceAll(out, []byte(`\u2029`), []byte("\u2029"))
	}
	return out, nil
}

// ComputeMetadataHash returns the lowercase hex sha256 of the canonical metadata.
func ComputeMetadataHash(fields MetadataFields) (string, error) {
	canonical, err := CanonicalMetadata(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyMetadataHash reports whether fields hash to expected.
// Unparseable dates never verify.
func VerifyMetadataHash(fields MetadataFields, expected string) bool {
	computed, err := ComputeMetadataHash(fields)
	if err != nil {
		return false
	}
	return strings.EqualFold(computed, strings.TrimPrefix(expected, "0x"))
}

// FileHash returns the lowercase hex sha256 of content.
func FileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// VerifyFileHash reports whether content hashes to expected.
func VerifyFileHash(content []byte, expected string) bool {
	return strings.EqualFold(FileHash(content), expected)
}

// NormalizeDate renders v as a UTC calendar date (YYYY-MM-DD).
// Absent values render as the empty string.
func NormalizeDate(v any) (string, error) {
	switch d := v.(type) {
	case nil:
		return "", nil
	case time.Time:
		if d.IsZero() {
			return "", nil
		}
		return d.UTC().Format(dateLayout), nil
	case *time.Time:
		if d == nil || d.IsZero() {
			return "", nil
		}
		return d.UTC().Format(dateLayout), nil
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return "", nil
		}
		t, err := ParseDate(s)
		if err != nil {
			return "", err
		}
		return t.Format(dateLayout), nil
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrInvalidDate, v)
	}
}

// ParseDate parses the accepted date representations, assuming UTC when no zone is given.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range acceptedDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// TruncateDate drops the time of day from t in UTC.
func TruncateDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
