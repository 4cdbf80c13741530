package quotes

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Range is a [Start, End) character range inside the quoted node's text.
type Range struct {
	Start int `json:"start" validate:"gte=0"`
	End   int `json:"end" validate:"gtfield=Start"`
}

// Quote is a selection of text inside a post or reply.
// SourceID is the id of the node the text was selected from.
type Quote struct {
	SelectionRange *Range `json:"selectionRange" validate:"required"`
	Text           string `json:"text" validate:"required"`
	SourceID       string `json:"sourceId" validate:"required"`
}

// Key is the stable identifier of a Quote: 64 lowercase hex characters.
type Key string

func (k Key) String() string { return string(k) }

// Equal reports whether two quotes index to the same key.
func (q Quote) Equal(other Quote) bool {
	if q.Text != other.Text || q.SourceID != other.SourceID {
		return false
	}
	if q.SelectionRange == nil || other.SelectionRange == nil {
		return q.SelectionRange == nil && other.SelectionRange == nil
	}
	return *q.SelectionRange == *other.SelectionRange
}

// Equal compares two optional quotes. Two nil quotes are equal.
func Equal(a, b *Quote) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// DeriveKey returns the canonical key for a quote.
// The key depends only on text, source id and range, so every runtime that
// hashes "text|sourceId|start-end" with SHA-256 agrees on it.
func DeriveKey(q Quote) (Key, error) {
	if q.SourceID == "" {
		return "", NewValidationError("sourceId", "quote source id is required")
	}
	if q.SelectionRange == nil {
		return "", NewValidationError("selectionRange", "quote selection range is required")
	}

	canonical := fmt.Sprintf("%s|%s|%d-%d", q.Text, q.SourceID, q.SelectionRange.Start, q.SelectionRange.End)
	sum := sha256.Sum256([]byte(canonical))
	return Key(hex.EncodeToString(sum[:])), nil
}

// IsKey reports whether s has the shape of a derived key.
func IsKey(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil && strings.ToLower(s) == s
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func quoteValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks that a quote is complete enough to anchor a reply.
func (q Quote) Validate() error {
	if err := quoteValidator().Struct(q); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return NewValidationError(jsonField(fe.Namespace()), describe(fe))
		}
		return NewValidationError("quote", err.Error())
	}
	if strings.TrimSpace(q.Text) == "" {
		return NewValidationError("text", "quote text must not be blank")
	}
	return nil
}

// jsonField turns "Quote.SelectionRange.End" into "selectionRange.end".
func jsonField(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		switch p {
		case "SourceID":
			parts[i] = "sourceId"
		default:
			if p != "" {
				parts[i] = strings.ToLower(p[:1]) + p[1:]
			}
		}
	}
	return strings.Join(parts, ".")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "gtfield":
		return "must be greater than start"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// EncodePath encodes a quote for use as a single URL path segment.
func EncodePath(q Quote) (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to encode quote: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodePath reverses EncodePath. Padded input is accepted as well.
func DecodePath(s string) (Quote, error) {
	var q Quote
	if s == "" {
		return q, NewValidationError("quote", "encoded quote is empty")
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return q, NewValidationError("quote", "encoded quote is not valid base64url")
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return q, NewValidationError("quote", "encoded quote is not valid JSON")
	}
	return q, nil
}
