package anonymize

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Strategy selects how every detected span in one request is replaced.
type Strategy int

const (
	Redact Strategy = iota + 1
	Mask
	Label
	FakeSubstitute
)

const redactedToken = "[REDACTED]"

// maxFakeAttempts bounds how often a fake value is regenerated when it happens
// to contain the original substring.
const maxFakeAttempts = 8

var strategyNames = map[Strategy]string{
	Redact:         "Redact",
	Mask:           "Mask",
	Label:          "Label",
	FakeSubstitute: "FakeSubstitute",
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return "Strategy(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is one of the four defined strategies.
func (s Strategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// Strategies returns every strategy in display order.
func Strategies() []Strategy {
	return []Strategy{Redact, Mask, Label, FakeSubstitute}
}

// ParseStrategy maps a user-supplied name to a Strategy. Matching is
// case-insensitive; "Faker" and "Fake" are accepted for FakeSubstitute.
// Unknown names are a *ValidationError, never a silent default.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "redact":
		return Redact, nil
	case "mask":
		return Mask, nil
	case "label":
		return Label, nil
	case "fakesubstitute", "fake_substitute", "faker", "fake":
		return FakeSubstitute, nil
	}
	return 0, invalid("strategy", "unknown strategy %q", name)
}

// Replacer turns the original matched substring into its replacement.
type Replacer interface {
	Replace(original string) string
}

type redactor struct{}

func (redactor) Replace(string) string { return redactedToken }

// masker keeps the replaced span's rune length so offsets downstream of the
// span line up with the original.
type masker struct{}

func (masker) Replace(original string) string {
	return strings.Repeat("*", utf8.RuneCountInString(original))
}

type labeler struct {
	entityType string
}

func (l labeler) Replace(string) string { return "[" + l.entityType + "]" }

// fakeReplacer never copies the original into its output. The original is only
// compared against candidates so a generated value that happens to contain it
// is discarded.
type fakeReplacer struct {
	entityType string
	gen        Generator
	memo       *fakeMemo // nil unless consistent fakes are enabled
}

func (f fakeReplacer) Replace(original string) string {
	if f.memo != nil {
		if v, ok := f.memo.lookup(f.entityType, original); ok {
			return v
		}
	}
	v := f.generate(original)
	if f.memo != nil {
		f.memo.store(f.entityType, original, v)
	}
	return v
}

func (f fakeReplacer) generate(original string) string {
	if f.gen == nil {
		return f.fallback(original)
	}
	for i := 0; i < maxFakeAttempts; i++ {
		v, ok := f.gen.Generate(f.entityType)
		if !ok {
			return f.fallback(original)
		}
		if !strings.Contains(v, original) {
			return v
		}
	}
	return f.fallback(original)
}

// fallback returns the [FAKE_<TYPE>] placeholder, or a redaction token when the
// placeholder itself would contain the original (e.g. "ITIN" typed US_ITIN).
func (f fakeReplacer) fallback(original string) string {
	for _, v := range []string{"[FAKE_" + f.entityType + "]", redactedToken} {
		if !strings.Contains(v, original) {
			return v
		}
	}
	return masker{}.Replace(original)
}

// fakeMemo remembers the fake chosen for each (entity type, original) pair
// for the lifetime of one request.
type fakeMemo struct {
	values map[string]string
}

func newFakeMemo() *fakeMemo {
	return &fakeMemo{values: make(map[string]string)}
}

func (m *fakeMemo) lookup(entityType, original string) (string, bool) {
	v, ok := m.values[entityType+"\x00"+original]
	return v, ok
}

func (m *fakeMemo) store(entityType, original, fake string) {
	m.values[entityType+"\x00"+original] = fake
}

// Registry resolves a Replacer for a (strategy, entity type) pair.
// A Registry is built per request; it holds that request's generator.
type Registry struct {
	gen  Generator
	memo *fakeMemo
}

// NewRegistry returns a Registry whose FakeSubstitute replacers draw values
// from gen. gen may be nil, in which case every fake is the literal fallback.
func NewRegistry(gen Generator) *Registry {
	return &Registry{gen: gen}
}

// Resolve returns the replacement behaviour for strategy applied to entityType.
func (r *Registry) Resolve(strategy Strategy, entityType string) (Replacer, error) {
	switch strategy {
	case Redact:
		return redactor{}, nil
	case Mask:
		return masker{}, nil
	case Label:
		return labeler{entityType: entityType}, nil
	case FakeSubstitute:
		return fakeReplacer{entityType: entityType, gen: r.gen, memo: r.memo}, nil
	default:
		return nil, invalid("strategy", "unsupported strategy %s", strategy)
	}
}
