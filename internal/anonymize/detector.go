package anonymize

import "context"

// Span describes one PII occurrence found by a detector.
type Span struct {
	EntityType string  // e.g. "PERSON", "EMAIL_ADDRESS", "CREDIT_CARD"
	Start      int     // rune offset of the first character
	End        int     // rune offset one past the last character
	Score      float64 // confidence in [0,1]
}

// Detector finds PII spans in a text string.
// Offsets are counted in runes, not bytes.
// Implementations must be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, text string, entities []string, language string) ([]Span, error)
}

// DetectorFunc adapts an ordinary function to the Detector interface.
type DetectorFunc func(ctx context.Context, text string, entities []string, language string) ([]Span, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, text string, entities []string, language string) ([]Span, error) {
	return f(ctx, text, entities, language)
}

// NamedDetector pairs a Detector with the name used in logs, traces and errors.
type NamedDetector struct {
	Name     string
	Detector Detector
}
