package anonymize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contactText = "Contact John at john@example.com"

func contactSpans() []Span {
	return []Span{
		{EntityType: "PERSON", Start: 8, End: 12, Score: 0.9},
		{EntityType: "EMAIL_ADDRESS", Start: 16, End: 32, Score: 0.95},
	}
}

func TestAnonymizeRedactContact(t *testing.T) {
	res, err := NewEngine().Anonymize(contactText, contactSpans(), Redact)
	require.NoError(t, err)

	assert.Equal(t, "Contact [REDACTED] at [REDACTED]", res.Text)
	want := Report{
		"PERSON":        {{Text: "John", Confidence: 0.9}},
		"EMAIL_ADDRESS": {{Text: "john@example.com", Confidence: 0.95}},
	}
	if diff := cmp.Diff(want, res.Findings); diff != "" {
		t.Fatalf("findings mismatch (-want +got):\n%s", diff)
	}
}

func TestAnonymizeMaskContact(t *testing.T) {
	res, err := NewEngine().Anonymize(contactText, contactSpans(), Mask)
	require.NoError(t, err)
	assert.Equal(t, "Contact **** at ****************", res.Text)
	assert.Len(t, res.Text, len(contactText))
}

func TestAnonymizeLabelContact(t *testing.T) {
	res, err := NewEngine().Anonymize(contactText, contactSpans(), Label)
	require.NoError(t, err)
	assert.Equal(t, "Contact [PERSON] at [EMAIL_ADDRESS]", res.Text)
}

func TestAnonymizeFakeContactDoesNotLeak(t *testing.T) {
	for i := 0; i < 20; i++ {
		res, err := NewEngine().Anonymize(contactText, contactSpans(), FakeSubstitute)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.Text, "Contact "))
		assert.NotContains(t, res.Text, "John")
		assert.NotContains(t, res.Text, "john@example.com")
		require.Len(t, res.Items, 2)
		assert.Contains(t, res.Items[1].Replacement, "@")
	}
}

func TestAnonymizeValidation(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		spans    []Span
		strategy Strategy
		field    string
	}{
		{"empty text", "", nil, Redact, "text"},
		{"end past text", contactText, []Span{{EntityType: "EMAIL_ADDRESS", Start: 16, End: 33, Score: 0.95}}, Redact, "spans"},
		{"negative start", contactText, []Span{{EntityType: "PERSON", Start: -1, End: 4, Score: 0.5}}, Redact, "spans"},
		{"empty span", contactText, []Span{{EntityType: "PERSON", Start: 4, End: 4, Score: 0.5}}, Redact, "spans"},
		{"inverted span", contactText, []Span{{EntityType: "PERSON", Start: 6, End: 4, Score: 0.5}}, Redact, "spans"},
		{"score above one", contactText, []Span{{EntityType: "PERSON", Start: 8, End: 12, Score: 1.5}}, Redact, "spans"},
		{"missing entity type", contactText, []Span{{Start: 8, End: 12, Score: 0.5}}, Redact, "spans"},
		{"unknown strategy", contactText, contactSpans(), Strategy(42), "strategy"},
		{"zero strategy", contactText, contactSpans(), Strategy(0), "strategy"},
		{"overlap", contactText, []Span{
			{EntityType: "PERSON", Start: 8, End: 12, Score: 0.9},
			{EntityType: "LOCATION", Start: 10, End: 15, Score: 0.4},
		}, Redact, "spans"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewEngine().Anonymize(tt.text, tt.spans, tt.strategy)
			require.Error(t, err)
			assert.Nil(t, res)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestAnonymizeAdjacentSpansAreNotOverlapping(t *testing.T) {
	spans := []Span{
		{EntityType: "PERSON", Start: 0, End: 4, Score: 0.8},
		{EntityType: "PERSON", Start: 4, End: 8, Score: 0.7},
	}
	res, err := NewEngine().Anonymize("JohnSmith", spans, Label)
	require.NoError(t, err)
	assert.Equal(t, "[PERSON][PERSON]h", res.Text)
}

func TestAnonymizeNoSpansReturnsTextUnchanged(t *testing.T) {
	res, err := NewEngine().Anonymize("nothing to see", nil, Redact)
	require.NoError(t, err)
	assert.Equal(t, "nothing to see", res.Text)
	assert.Empty(t, res.Findings)
	assert.NotNil(t, res.Findings)
	assert.Empty(t, res.Items)
}

func TestAnonymizeUsesRuneOffsets(t *testing.T) {
	text := "Grüße an Jürgen Müller aus Köln"
	spans := []Span{
		{EntityType: "PERSON", Start: 9, End: 22, Score: 0.85},
		{EntityType: "LOCATION", Start: 27, End: 31, Score: 0.7},
	}

	res, err := NewEngine().Anonymize(text, spans, Mask)
	require.NoError(t, err)
	assert.Equal(t, "Grüße an ************* aus ****", res.Text)
	assert.Equal(t, utf8.RuneCountInString(text), utf8.RuneCountInString(res.Text))
	assert.Equal(t, "Jürgen Müller", res.Findings["PERSON"][0].Text)
	assert.Equal(t, "Köln", res.Findings["LOCATION"][0].Text)
}

func TestAnonymizeKeepsDetectorOrderWithinType(t *testing.T) {
	text := "Ann met Bob and Cid"
	// Detector order is deliberately not positional.
	spans := []Span{
		{EntityType: "PERSON", Start: 16, End: 19, Score: 0.6},
		{EntityType: "PERSON", Start: 0, End: 3, Score: 0.9},
		{EntityType: "PERSON", Start: 8, End: 11, Score: 0.8},
	}
	res, err := NewEngine().Anonymize(text, spans, Redact)
	require.NoError(t, err)

	assert.Equal(t, "[REDACTED] met [REDACTED] and [REDACTED]", res.Text)
	want := []Finding{{"Cid", 0.6}, {"Ann", 0.9}, {"Bob", 0.8}}
	assert.Equal(t, want, res.Findings["PERSON"])

	starts := make([]int, 0, len(res.Items))
	for _, it := range res.Items {
		starts = append(starts, it.Start)
	}
	assert.Equal(t, []int{0, 8, 16}, starts)
}

func TestAnonymizePreservesUntouchedText(t *testing.T) {
	text := "id=4111111111111111; mail=a@b.io; ip=10.0.0.1."
	spans := []Span{
		{EntityType: "IP_ADDRESS", Start: 37, End: 45, Score: 0.6},
		{EntityType: "CREDIT_CARD", Start: 3, End: 19, Score: 1},
		{EntityType: "EMAIL_ADDRESS", Start: 26, End: 32, Score: 1},
	}
	for _, strategy := range Strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			res, err := NewEngine().Anonymize(text, spans, strategy)
			require.NoError(t, err)

			// Walk the items and check every gap between replacements is
			// byte-for-byte the original.
			runes := []rune(text)
			out := res.Text
			prev := 0
			for _, it := range res.Items {
				gap := string(runes[prev:it.Start])
				require.True(t, strings.HasPrefix(out, gap), "gap %q not preserved in %q", gap, out)
				out = out[len(gap):]
				require.True(t, strings.HasPrefix(out, it.Replacement))
				out = out[len(it.Replacement):]
				prev = it.End
			}
			assert.Equal(t, string(runes[prev:]), out)
		})
	}
}

func TestAnonymizeReportCompleteness(t *testing.T) {
	text := "a@b.io and c@d.io called 555-0100 for Eve"
	spans := []Span{
		{EntityType: "EMAIL_ADDRESS", Start: 0, End: 6, Score: 1},
		{EntityType: "EMAIL_ADDRESS", Start: 11, End: 17, Score: 1},
		{EntityType: "PHONE_NUMBER", Start: 25, End: 33, Score: 0.4},
		{EntityType: "PERSON", Start: 38, End: 41, Score: 0.85},
	}
	res, err := NewEngine().Anonymize(text, spans, Label)
	require.NoError(t, err)

	assert.Equal(t, []string{"EMAIL_ADDRESS", "PERSON", "PHONE_NUMBER"}, res.Findings.Types())
	assert.Len(t, res.Findings["EMAIL_ADDRESS"], 2)
	assert.Len(t, res.Findings["PHONE_NUMBER"], 1)
	assert.Len(t, res.Findings["PERSON"], 1)
	assert.Equal(t, len(spans), res.Findings.Count())
}

func TestAnonymizeDoesNotReorderCallerSpans(t *testing.T) {
	spans := []Span{
		{EntityType: "EMAIL_ADDRESS", Start: 16, End: 32, Score: 0.95},
		{EntityType: "PERSON", Start: 8, End: 12, Score: 0.9},
	}
	before := append([]Span(nil), spans...)
	_, err := NewEngine().Anonymize(contactText, spans, Mask)
	require.NoError(t, err)
	assert.Equal(t, before, spans)
}

type sequenceGenerator struct {
	values []string
	calls  int
}

func (g *sequenceGenerator) Generate(string) (string, bool) {
	v := g.values[g.calls%len(g.values)]
	g.calls++
	return v, true
}

func TestAnonymizeFakesAreIndependentByDefault(t *testing.T) {
	gen := &sequenceGenerator{values: []string{"Alice Doe", "Bob Roe"}}
	eng := NewEngine(WithGeneratorFactory(func() Generator { return gen }))

	text := "John and John"
	spans := []Span{
		{EntityType: "PERSON", Start: 0, End: 4, Score: 0.9},
		{EntityType: "PERSON", Start: 9, End: 13, Score: 0.9},
	}
	res, err := eng.Anonymize(text, spans, FakeSubstitute)
	require.NoError(t, err)
	assert.Equal(t, "Alice Doe and Bob Roe", res.Text)
	assert.Equal(t, 2, gen.calls)
}

func TestAnonymizeConsistentFakesWithinOneCall(t *testing.T) {
	var gens []*sequenceGenerator
	eng := NewEngine(
		WithConsistentFakes(),
		WithGeneratorFactory(func() Generator {
			g := &sequenceGenerator{values: []string{"Alice Doe", "Bob Roe", "Cy Poe"}}
			gens = append(gens, g)
			return g
		}),
	)

	text := "John, Mary and John"
	spans := []Span{
		{EntityType: "PERSON", Start: 0, End: 4, Score: 0.9},
		{EntityType: "PERSON", Start: 6, End: 10, Score: 0.9},
		{EntityType: "PERSON", Start: 15, End: 19, Score: 0.9},
	}
	res, err := eng.Anonymize(text, spans, FakeSubstitute)
	require.NoError(t, err)
	assert.Equal(t, "Alice Doe, Bob Roe and Alice Doe", res.Text)
	require.Len(t, gens, 1)
	assert.Equal(t, 2, gens[0].calls)

	// A second call gets a fresh generator and a fresh memo.
	_, err = eng.Anonymize(text, spans, FakeSubstitute)
	require.NoError(t, err)
	assert.Len(t, gens, 2)
}

func TestAnonymizeOnlyBuildsGeneratorForFakeStrategy(t *testing.T) {
	built := 0
	eng := NewEngine(WithGeneratorFactory(func() Generator {
		built++
		return NewFakeGenerator(1)
	}))
	for _, s := range []Strategy{Redact, Mask, Label} {
		_, err := eng.Anonymize(contactText, contactSpans(), s)
		require.NoError(t, err)
	}
	assert.Zero(t, built)
}
