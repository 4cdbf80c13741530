package replies

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Config holds reply content rules
type Config struct {
	// ExemptPhrases may be shorter than MinLength. Compared after lowercasing
	// and trimming whitespace and trailing punctuation.
	ExemptPhrases []string
	MinLength     int
	MaxLength     int
}

// DefaultConfig returns the default content rules
func DefaultConfig() Config {
	return Config{
		MinLength: 10,
		MaxLength: 2000,
		ExemptPhrases: []string{
			"yes", "no", "agreed", "exactly", "same", "+1", "this",
			"thanks", "thank you", "i agree",
		},
	}
}

func normalizePhrase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!?")
}

type contentRules struct {
	exempt map[string]struct{}
	min    int
	max    int
}

func newContentRules(cfg Config) contentRules {
	def := DefaultConfig()
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.ExemptPhrases == nil {
		cfg.ExemptPhrases = def.ExemptPhrases
	}

	rules := contentRules{min: cfg.MinLength, max: cfg.MaxLength, exempt: make(map[string]struct{}, len(cfg.ExemptPhrases))}
	for _, p := range cfg.ExemptPhrases {
		rules.exempt[normalizePhrase(p)] = struct{}{}
	}
	return rules
}

func (r contentRules) checkText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrTextEmpty
	}

	n := utf8.RuneCountInString(trimmed)
	if n > r.max {
		return NewValidationError("text", fmt.Sprintf("reply exceeds %d characters", r.max))
	}
	if n < r.min {
		if _, ok := r.exempt[normalizePhrase(trimmed)]; ok {
			return nil
		}
		return NewValidationError("text", fmt.Sprintf("reply must be at least %d characters", r.min))
	}
	return nil
}

func (r contentRules) validateCreate(req CreateReplyRequest) error {
	if strings.TrimSpace(req.AuthorID) == "" {
		return NewValidationError("authorId", "author is required")
	}
	if strings.TrimSpace(req.ParentID) == "" {
		return NewValidationError("parentId", "parent id is required")
	}
	if err := r.checkText(req.Text); err != nil {
		return err
	}
	if err := req.Quote.Validate(); err != nil {
		return err
	}
	if req.Quote.SourceID != req.ParentID {
		return NewValidationError("quote.sourceId", "quote must be taken from the parent being replied to")
	}
	return nil
}
