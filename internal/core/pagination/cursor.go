package pagination

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Cursor kinds, one per index a cursor can be issued against
const (
	KindMostRecent   = "mostRecent"
	KindAuthorRecent = "authorRecent"
)

// IndexKind binds a cursor kind to the index it pages over, so a cursor
// issued for one parent/quote pair or author is rejected by another.
func IndexKind(kind string, scope ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(scope, "\x00")))
	return kind + ":" + hex.EncodeToString(sum[:4])
}

// Cursor identifies the last entry of a page: the entry's score (a unix
// millisecond timestamp) and id, plus the kind of index it was issued for.
type Cursor struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

// CursorFormatError is returned for cursors that cannot be decoded
type CursorFormatError struct {
	Reason string
}

func (e *CursorFormatError) Error() string {
	return "invalid cursor: " + e.Reason
}

// IsCursorFormatError checks if error is a cursor format error
func IsCursorFormatError(err error) bool {
	var cfe *CursorFormatError
	return errors.As(err, &cfe)
}

// Encode serializes a cursor as base64url(JSON).
func Encode(c Cursor) string {
	data, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(data)
}

// Decode parses a cursor produced by Encode.
func Decode(s string) (*Cursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		// tolerate clients that strip padding
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, &CursorFormatError{Reason: "not base64url"}
		}
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &CursorFormatError{Reason: "not JSON"}
	}
	switch {
	case c.ID == "":
		return nil, &CursorFormatError{Reason: "missing id"}
	case c.Timestamp <= 0:
		return nil, &CursorFormatError{Reason: "missing timestamp"}
	case c.Kind == "":
		return nil, &CursorFormatError{Reason: "missing kind"}
	}
	return &c, nil
}

// DecodeFor decodes s and checks it was issued for an index of the given kind.
// An empty s means "start from the newest end" and yields a nil cursor.
func DecodeFor(s, kind string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	c, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if c.Kind != kind {
		return nil, &CursorFormatError{Reason: fmt.Sprintf("cursor issued for %q, not %q", c.Kind, kind)}
	}
	return c, nil
}
