package anonymize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	anonotel "github.com/gonkalabs/pii-anonymizer/internal/otel"
)

var tracer = anonotel.Tracer("github.com/gonkalabs/pii-anonymizer/internal/anonymize")

// DefaultDetectBudget is the maximum time a Pipeline waits for all detectors.
// Set high enough to cover a small LLM running on CPU.
const DefaultDetectBudget = 120 * time.Second

// Pipeline runs several detectors concurrently and merges their spans into one
// non-overlapping, start-ordered list.
type Pipeline struct {
	detectors []NamedDetector
	budget    time.Duration
}

// NewPipeline creates a Pipeline over an ordered list of detectors.
// A non-positive budget means DefaultDetectBudget.
func NewPipeline(budget time.Duration, detectors ...NamedDetector) *Pipeline {
	if budget <= 0 {
		budget = DefaultDetectBudget
	}
	return &Pipeline{detectors: detectors, budget: budget}
}

// Len returns the number of detectors in the pipeline.
func (p *Pipeline) Len() int { return len(p.detectors) }

// Detect implements Detector. If any detector fails, returns a span that is
// invalid for text, or the budget runs out, the whole call fails with a
// *DetectorError; partial results are never returned. For invalid spans the
// DetectorError wraps a *ValidationError.
func (p *Pipeline) Detect(ctx context.Context, text string, entities []string, language string) ([]Span, error) {
	ctx, span := tracer.Start(ctx, "anonymize.detect")
	defer span.End()

	if len(p.detectors) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	runeLen := utf8.RuneCountInString(text)
	results := make([][]Span, len(p.detectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, nd := range p.detectors {
		g.Go(func() error {
			start := time.Now()
			spans, err := nd.Detector.Detect(gctx, text, entities, language)
			if err != nil {
				return &DetectorError{Detector: nd.Name, Err: err}
			}
			for j, sp := range spans {
				if ve := checkSpan(j, sp, runeLen); ve != nil {
					return &DetectorError{Detector: nd.Name, Err: ve}
				}
			}
			slog.Debug("anonymize: detector finished",
				"detector", nd.Name,
				"spans", len(spans),
				"took", time.Since(start),
			)
			results[i] = spans
			return nil
		})
	}
	// Detectors that ignore ctx must not hold the request past the budget.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = &DetectorError{Err: fmt.Errorf("detection budget %s exceeded: %w", p.budget, ctx.Err())}
		} else {
			err = &DetectorError{Err: fmt.Errorf("detection cancelled: %w", ctx.Err())}
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detection failed")
		var de *DetectorError
		if !errors.As(err, &de) {
			de = &DetectorError{Err: err}
		}
		slog.Warn("anonymize: detection failed", "detector", de.Detector, "err", de.Err)
		return nil, de
	}

	var all []Span
	for _, r := range results {
		all = append(all, r...)
	}
	all = requestedSpans(all, entities)
	merged := resolveOverlaps(all)

	span.SetAttributes(
		attribute.Int("anonymize.detectors", len(p.detectors)),
		attribute.Int("anonymize.spans_raw", len(all)),
		attribute.Int("anonymize.spans", len(merged)),
	)
	return merged, nil
}

// requestedSpans drops spans whose entity type was not requested. An empty
// entity list keeps everything.
func requestedSpans(spans []Span, entities []string) []Span {
	if len(entities) == 0 {
		return spans
	}
	allowed := make(map[string]bool, len(entities))
	for _, e := range entities {
		allowed[e] = true
	}
	out := make([]Span, 0, len(spans))
	for _, sp := range spans {
		if allowed[sp.EntityType] {
			out = append(out, sp)
		}
	}
	return out
}

// resolveOverlaps keeps, from every group of overlapping spans, the one with
// the highest score. Ties go to the longer span, then to the earlier one. The
// result is ordered by Start.
func resolveOverlaps(spans []Span) []Span {
	ranked := make([]Span, len(spans))
	copy(ranked, spans)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		return a.Start < b.Start
	})

	kept := make([]Span, 0, len(ranked))
	for _, sp := range ranked {
		clash := false
		for _, k := range kept {
			if sp.Start < k.End && k.Start < sp.End {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, sp)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
