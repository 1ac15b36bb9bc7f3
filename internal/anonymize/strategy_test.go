package anonymize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
	}{
		{"Redact", Redact},
		{"redact", Redact},
		{" MASK ", Mask},
		{"Label", Label},
		{"Faker", FakeSubstitute},
		{"fake", FakeSubstitute},
		{"FakeSubstitute", FakeSubstitute},
		{"fake_substitute", FakeSubstitute},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseStrategyRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "hash", "encrypt", "Redacted"} {
		_, err := ParseStrategy(in)
		require.Error(t, err, in)
		assert.True(t, IsValidation(err), in)
	}
}

func TestStrategyStringRoundTrips(t *testing.T) {
	for _, s := range Strategies() {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
		assert.True(t, s.Valid())
	}
	assert.False(t, Strategy(0).Valid())
	assert.Equal(t, "Strategy(9)", Strategy(9).String())
}

func TestResolveRedact(t *testing.T) {
	rep, err := NewRegistry(nil).Resolve(Redact, "PERSON")
	require.NoError(t, err)
	for _, in := range []string{"John", "4111 1111 1111 1111", "ü"} {
		assert.Equal(t, "[REDACTED]", rep.Replace(in))
	}
}

func TestResolveMaskCountsRunes(t *testing.T) {
	rep, err := NewRegistry(nil).Resolve(Mask, "PERSON")
	require.NoError(t, err)

	for _, in := range []string{"John", "Jürgen", "日本語", "a"} {
		out := rep.Replace(in)
		assert.Equal(t, len([]rune(in)), len(out), in)
		assert.Empty(t, strings.Trim(out, "*"), in)
	}
}

func TestResolveLabel(t *testing.T) {
	reg := NewRegistry(nil)
	for _, et := range []string{"PERSON", "EMAIL_ADDRESS", "CUSTOM_THING"} {
		rep, err := reg.Resolve(Label, et)
		require.NoError(t, err)
		assert.Equal(t, "["+et+"]", rep.Replace("whatever"))
	}
}

func TestResolveUnknownStrategyFails(t *testing.T) {
	_, err := NewRegistry(nil).Resolve(Strategy(99), "PERSON")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestResolveIsIdempotent(t *testing.T) {
	reg := NewRegistry(NewFakeGenerator(0))
	for _, s := range []Strategy{Redact, Mask, Label} {
		a, err := reg.Resolve(s, "PERSON")
		require.NoError(t, err)
		b, err := reg.Resolve(s, "PERSON")
		require.NoError(t, err)
		assert.Equal(t, a.Replace("John Smith"), b.Replace("John Smith"), s.String())
	}

	a, err := reg.Resolve(FakeSubstitute, "EMAIL_ADDRESS")
	require.NoError(t, err)
	b, err := reg.Resolve(FakeSubstitute, "EMAIL_ADDRESS")
	require.NoError(t, err)
	assert.Contains(t, a.Replace("x@y.z"), "@")
	assert.Contains(t, b.Replace("x@y.z"), "@")
}

func TestFakeFallbackForUnknownEntity(t *testing.T) {
	rep, err := NewRegistry(NewFakeGenerator(0)).Resolve(FakeSubstitute, "AU_TFN")
	require.NoError(t, err)
	assert.Equal(t, "[FAKE_AU_TFN]", rep.Replace("123 456 782"))

	rep, err = NewRegistry(nil).Resolve(FakeSubstitute, "PERSON")
	require.NoError(t, err)
	assert.Equal(t, "[FAKE_PERSON]", rep.Replace("John"))
}

func TestFakeFallbackNeverContainsOriginal(t *testing.T) {
	rep, err := NewRegistry(NewFakeGenerator(0)).Resolve(FakeSubstitute, "US_ITIN")
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", rep.Replace("ITIN"))
	assert.Equal(t, "[REDACTED]", rep.Replace("US_"))

	// Neither placeholder is safe here, so the span is masked.
	rep, err = NewRegistry(nil).Resolve(FakeSubstitute, "RED")
	require.NoError(t, err)
	assert.Equal(t, "***", rep.Replace("RED"))
}

type fixedGenerator struct {
	values []string
	calls  int
}

func (g *fixedGenerator) Generate(string) (string, bool) {
	i := g.calls
	if i >= len(g.values) {
		i = len(g.values) - 1
	}
	g.calls++
	return g.values[i], true
}

func TestFakeRetriesWhenValueLeaksOriginal(t *testing.T) {
	gen := &fixedGenerator{values: []string{"John Smith", "Johnny", "Mary Major"}}
	rep, err := NewRegistry(gen).Resolve(FakeSubstitute, "PERSON")
	require.NoError(t, err)

	assert.Equal(t, "Mary Major", rep.Replace("John"))
	assert.Equal(t, 3, gen.calls)
}

func TestFakeGivesUpAfterMaxAttempts(t *testing.T) {
	gen := &fixedGenerator{values: []string{"John Smith"}}
	rep, err := NewRegistry(gen).Resolve(FakeSubstitute, "PERSON")
	require.NoError(t, err)

	assert.Equal(t, "[FAKE_PERSON]", rep.Replace("John"))
	assert.Equal(t, maxFakeAttempts, gen.calls)
}
