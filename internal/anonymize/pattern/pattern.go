// Package pattern provides a regex Detector configured from recognizer YAML
// in Presidio's registry format. It needs no sidecar and is always available.
package pattern

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/gonkalabs/pii-anonymizer/internal/anonymize"
	anonotel "github.com/gonkalabs/pii-anonymizer/internal/otel"
)

var tracer = anonotel.Tracer("github.com/gonkalabs/pii-anonymizer/internal/anonymize/pattern")

//go:embed default.yaml
var defaultYAML []byte

const (
	// DefaultMinScore drops matches that stay below it after context boosting.
	DefaultMinScore = 0.4

	// ContextBoost is added to a match's score when a context word is nearby.
	ContextBoost = 0.35

	// ContextWindow is how many characters on each side of a match are
	// searched for context words.
	ContextWindow = 100
)

// File is the top-level recognizer YAML document.
type File struct {
	Recognizers []Config `yaml:"recognizers"`
}

// Config is one recognizer entry.
type Config struct {
	Name            string    `yaml:"name"`
	SupportedEntity string    `yaml:"supported_entity"`
	Enabled         *bool     `yaml:"enabled,omitempty"`
	Patterns        []Pattern `yaml:"patterns"`
	Context         []string  `yaml:"context,omitempty"`
	// Validator is "luhn", "iban" or empty.
	Validator string `yaml:"validator,omitempty"`
}

// Pattern is a single regex within a recognizer.
type Pattern struct {
	Name  string  `yaml:"name"`
	Regex string  `yaml:"regex"`
	Score float64 `yaml:"score"`
}

func (c *Config) enabled() bool { return c.Enabled == nil || *c.Enabled }

// Parse decodes recognizer YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("pattern: parse recognizer yaml: %w", err)
	}
	return &f, nil
}

// Load reads and parses a recognizer file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pattern: read %s: %w", path, err)
	}
	return Parse(data)
}

// Merge layers recognizer lists. A later recognizer replaces an earlier one
// with the same name; new names are appended.
func Merge(layers ...[]Config) []Config {
	index := make(map[string]int)
	var merged []Config
	for _, layer := range layers {
		for _, c := range layer {
			if i, ok := index[c.Name]; ok {
				merged[i] = c
				continue
			}
			index[c.Name] = len(merged)
			merged = append(merged, c)
		}
	}
	return merged
}

type compiled struct {
	recognizer string
	entity     string
	re         *regexp.Regexp
	score      float64
	context    []string
	validate   func(string) bool
}

// Recognizer is a Detector backed by compiled regex recognizers.
type Recognizer struct {
	patterns []compiled
	minScore float64
}

// Option configures a Recognizer.
type Option func(*options)

type options struct {
	files    []string
	minScore float64
}

// WithFile layers the recognizers in path on top of the built-in set.
func WithFile(path string) Option {
	return func(o *options) {
		if path != "" {
			o.files = append(o.files, path)
		}
	}
}

// WithMinScore overrides DefaultMinScore.
func WithMinScore(score float64) Option {
	return func(o *options) { o.minScore = score }
}

// New builds a Recognizer from the embedded defaults plus any files.
func New(opts ...Option) (*Recognizer, error) {
	o := options{minScore: DefaultMinScore}
	for _, opt := range opts {
		opt(&o)
	}

	base, err := Parse(defaultYAML)
	if err != nil {
		return nil, err
	}
	layers := [][]Config{base.Recognizers}
	for _, path := range o.files {
		f, err := Load(path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, f.Recognizers)
	}
	return compile(Merge(layers...), o.minScore)
}

func compile(configs []Config, minScore float64) (*Recognizer, error) {
	r := &Recognizer{minScore: minScore}
	for _, c := range configs {
		if !c.enabled() {
			continue
		}
		if c.SupportedEntity == "" {
			return nil, fmt.Errorf("pattern: recognizer %q has no supported_entity", c.Name)
		}
		validate, err := validatorFor(c.Validator)
		if err != nil {
			return nil, fmt.Errorf("pattern: recognizer %q: %w", c.Name, err)
		}
		ctxWords := make([]string, 0, len(c.Context))
		for _, w := range c.Context {
			ctxWords = append(ctxWords, strings.ToLower(w))
		}
		for _, p := range c.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("pattern: compile %q in recognizer %q: %w", p.Name, c.Name, err)
			}
			r.patterns = append(r.patterns, compiled{
				recognizer: c.Name,
				entity:     c.SupportedEntity,
				re:         re,
				score:      p.Score,
				context:    ctxWords,
				validate:   validate,
			})
		}
	}
	return r, nil
}

// Entities returns the entity types the recognizer can emit.
func (r *Recognizer) Entities() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range r.patterns {
		if !seen[p.entity] {
			seen[p.entity] = true
			out = append(out, p.entity)
		}
	}
	return out
}

// Detect implements anonymize.Detector. Overlapping matches from different
// recognizers are all returned; the pipeline resolves them.
func (r *Recognizer) Detect(ctx context.Context, text string, entities []string, _ string) ([]anonymize.Span, error) {
	_, span := tracer.Start(ctx, "pattern.detect")
	defer span.End()

	wanted := make(map[string]bool, len(entities))
	for _, e := range entities {
		wanted[e] = true
	}

	var runeAt []int // byte offset -> rune offset, built on first match
	var lower []rune
	var spans []anonymize.Span
	for _, p := range r.patterns {
		if len(wanted) > 0 && !wanted[p.entity] {
			continue
		}
		for _, m := range p.re.FindAllStringIndex(text, -1) {
			value := text[m[0]:m[1]]
			if p.validate != nil && !p.validate(value) {
				continue
			}
			if runeAt == nil {
				runeAt = runeIndex(text)
				lower = []rune(strings.ToLower(text))
			}
			start, end := runeAt[m[0]], runeAt[m[1]]
			score := p.score
			if len(p.context) > 0 && hasContext(lower, start, end, p.context) {
				score += ContextBoost
			}
			if score > 1 {
				score = 1
			}
			if score < r.minScore {
				continue
			}
			spans = append(spans, anonymize.Span{
				EntityType: p.entity,
				Start:      start,
				End:        end,
				Score:      score,
			})
		}
	}

	span.SetAttributes(attribute.Int("pattern.spans", len(spans)))
	return spans, nil
}

// runeIndex maps every byte offset that starts a rune (plus len(text)) to
// its rune offset.
func runeIndex(text string) []int {
	idx := make([]int, len(text)+1)
	n := 0
	for i := range text {
		idx[i] = n
		n++
	}
	idx[len(text)] = n
	return idx
}

// hasContext reports whether any context word occurs within ContextWindow
// runes of [start,end).
func hasContext(lower []rune, start, end int, words []string) bool {
	// ToLower can change rune counts for a few scripts; clamp.
	from := max(0, start-ContextWindow)
	to := min(len(lower), end+ContextWindow)
	if from >= to {
		return false
	}
	window := string(lower[from:to])
	for _, w := range words {
		if strings.Contains(window, w) {
			return true
		}
	}
	return false
}

func validatorFor(name string) (func(string) bool, error) {
	switch strings.ToLower(name) {
	case "":
		return nil, nil
	case "luhn":
		return func(v string) bool {
			d := digitsOnly(v)
			return len(d) >= 13 && len(d) <= 19 && luhnValid(d)
		}, nil
	case "iban":
		return func(v string) bool {
			return ibanValid(strings.ReplaceAll(v, " ", ""))
		}, nil
	default:
		return nil, fmt.Errorf("unknown validator %q", name)
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// luhnValid checks a digit string against the Luhn algorithm (ISO/IEC 7812).
func luhnValid(number string) bool {
	if len(number) < 2 {
		return false
	}
	sum := 0
	alt := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// ibanValid verifies length bounds and the ISO 13616 mod-97 check digits.
func ibanValid(iban string) bool {
	if len(iban) < 15 || len(iban) > 34 || !utf8.ValidString(iban) {
		return false
	}
	rearranged := iban[4:] + iban[:4]
	var digits strings.Builder
	for _, ch := range rearranged {
		switch {
		case ch >= '0' && ch <= '9':
			digits.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			digits.WriteString(strconv.Itoa(int(ch-'A') + 10))
		default:
			return false
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}
