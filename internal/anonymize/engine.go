// Package anonymize replaces detected PII in free text according to a chosen
// strategy and reports what was found.
//
// The Engine is the pure core: given a text, the spans a detector found in it
// and a Strategy, it rewrites the text against the original offsets and
// groups the matched substrings by entity type. Detection itself sits behind
// the Detector interface; Pipeline fans out to several detectors and Service
// ties detection and anonymization together.
//
// Usage:
//
//	eng := anonymize.NewEngine()
//	res, err := eng.Anonymize(text, spans, anonymize.Mask)
//	// res.Text is the masked text, res.Findings the report
package anonymize

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Engine applies a Strategy to a text and its detected spans.
// An Engine holds no per-request state and is safe for concurrent use.
type Engine struct {
	newGenerator func() Generator
	consistent   bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithGeneratorFactory sets how each request obtains its synthetic value
// generator. The factory is called once per Anonymize call that uses
// FakeSubstitute.
func WithGeneratorFactory(fn func() Generator) EngineOption {
	return func(e *Engine) { e.newGenerator = fn }
}

// WithConsistentFakes makes FakeSubstitute reuse the same fake for repeated
// (entity type, original) pairs within one call. Nothing carries over between
// calls.
func WithConsistentFakes() EngineOption {
	return func(e *Engine) { e.consistent = true }
}

// NewEngine creates an Engine. Without options FakeSubstitute draws from a
// randomly seeded FakeGenerator per call and fakes are independent.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		newGenerator: func() Generator { return NewFakeGenerator(0) },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Anonymize rewrites text by replacing every span according to strategy and
// builds the findings report.
//
// Spans are processed in the order given. They must lie within the text and
// must not overlap; otherwise a *ValidationError is returned and nothing is
// rewritten.
func (e *Engine) Anonymize(text string, spans []Span, strategy Strategy) (*Result, error) {
	if !strategy.Valid() {
		return nil, invalid("strategy", "unsupported strategy %s", strategy)
	}
	if text == "" {
		return nil, invalid("text", "text is empty")
	}

	offsets := runeOffsets(text)
	runeLen := len(offsets) - 1
	if err := validateSpans(spans, runeLen); err != nil {
		return nil, err
	}

	reg := e.registry(strategy)
	findings := make(Report)
	replacements := make([]string, len(spans))
	for i, sp := range spans {
		original := text[offsets[sp.Start]:offsets[sp.End]]
		rep, err := reg.Resolve(strategy, sp.EntityType)
		if err != nil {
			return nil, err
		}
		replacements[i] = rep.Replace(original)
		findings[sp.EntityType] = append(findings[sp.EntityType], Finding{
			Text:       original,
			Confidence: sp.Score,
		})
	}

	order := make([]int, len(spans))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return spans[order[a]].Start < spans[order[b]].Start
	})

	var b strings.Builder
	b.Grow(len(text))
	items := make([]Item, 0, len(spans))
	cursor := 0 // rune offset into the original text
	for _, i := range order {
		sp := spans[i]
		b.WriteString(text[offsets[cursor]:offsets[sp.Start]])
		b.WriteString(replacements[i])
		cursor = sp.End
		items = append(items, Item{
			EntityType:  sp.EntityType,
			Start:       sp.Start,
			End:         sp.End,
			Replacement: replacements[i],
		})
	}
	b.WriteString(text[offsets[cursor]:])

	return &Result{Text: b.String(), Findings: findings, Items: items}, nil
}

func (e *Engine) registry(strategy Strategy) *Registry {
	if strategy != FakeSubstitute {
		return NewRegistry(nil)
	}
	var gen Generator
	if e.newGenerator != nil {
		gen = e.newGenerator()
	}
	reg := NewRegistry(gen)
	if e.consistent {
		reg.memo = newFakeMemo()
	}
	return reg
}

// runeOffsets maps each rune index of s to its byte offset. The final entry is
// len(s), so a half-open rune range [i,j) is s[offs[i]:offs[j]].
func runeOffsets(s string) []int {
	offs := make([]int, 0, utf8.RuneCountInString(s)+1)
	for i := range s {
		offs = append(offs, i)
	}
	return append(offs, len(s))
}

// checkSpan validates a single span against a text of runeLen runes.
func checkSpan(i int, sp Span, runeLen int) *ValidationError {
	if strings.TrimSpace(sp.EntityType) == "" {
		return invalid("spans", "span %d has no entity type", i)
	}
	if sp.Start < 0 || sp.Start >= sp.End || sp.End > runeLen {
		return invalid("spans", "span %d [%d,%d) is out of range for text of length %d", i, sp.Start, sp.End, runeLen)
	}
	if math.IsNaN(sp.Score) || sp.Score < 0 || sp.Score > 1 {
		return invalid("spans", "span %d has score %v outside [0,1]", i, sp.Score)
	}
	return nil
}

// validateSpans checks bounds, scores and pairwise overlap.
func validateSpans(spans []Span, runeLen int) error {
	for i, sp := range spans {
		if err := checkSpan(i, sp, runeLen); err != nil {
			return err
		}
	}

	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Start < sorted[b].Start })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Start < prev.End {
			return invalid("spans", "%s [%d,%d) overlaps %s [%d,%d)",
				cur.EntityType, cur.Start, cur.End, prev.EntityType, prev.Start, prev.End)
		}
	}
	return nil
}
