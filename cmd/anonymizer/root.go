package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/pii-anonymizer/internal/anonymize"
	"github.com/gonkalabs/pii-anonymizer/internal/anonymize/llmclassifier"
	"github.com/gonkalabs/pii-anonymizer/internal/anonymize/ner"
	"github.com/gonkalabs/pii-anonymizer/internal/anonymize/pattern"
	"github.com/gonkalabs/pii-anonymizer/internal/config"
)

// app carries state shared by all subcommands once config is loaded.
type app struct {
	cfg *config.Cfg
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "anonymizer",
		Short:         "Detect and anonymize personal data in free text",
		Long:          "anonymizer finds PII in text with regex recognizers, an optional NER sidecar and an optional local LLM, then redacts, masks, labels or replaces it with fake values.",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newStrategiesCmd(),
	)
	return root
}

func newLogger(w io.Writer, cfg *config.Cfg) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildService assembles the enabled detectors into a pipeline and wraps it
// in a Service.
func buildService(cfg *config.Cfg) (*anonymize.Service, error) {
	var detectors []anonymize.NamedDetector

	if cfg.PatternsEnabled {
		rec, err := pattern.New(
			pattern.WithFile(cfg.PatternsFile),
			pattern.WithMinScore(cfg.PatternsMinScore),
		)
		if err != nil {
			return nil, fmt.Errorf("pattern recognizers: %w", err)
		}
		detectors = append(detectors, anonymize.NamedDetector{Name: "pattern", Detector: rec})
		slog.Info("anonymize: pattern layer enabled", "entities", len(rec.Entities()), "file", cfg.PatternsFile)
	}
	if cfg.NEREnabled {
		client := ner.New(cfg.NERURLs[0],
			ner.WithReplicas(cfg.NERURLs[1:]...),
			ner.WithMaxRetries(cfg.NERMaxRetries),
		)
		detectors = append(detectors, anonymize.NamedDetector{Name: "ner", Detector: client})
		slog.Info("anonymize: NER layer enabled", "urls", cfg.NERURLs)
	}
	if cfg.LLMEnabled {
		detectors = append(detectors, anonymize.NamedDetector{
			Name:     "llm",
			Detector: llmclassifier.New(cfg.LLMURL, cfg.LLMModel, cfg.LLMScore),
		})
		slog.Info("anonymize: LLM layer enabled", "url", cfg.LLMURL, "model", cfg.LLMModel)
	}
	if len(detectors) == 0 {
		return nil, fmt.Errorf("no detectors enabled: set PATTERNS_ENABLED, NER_ENABLED or LLM_ENABLED")
	}

	var engineOpts []anonymize.EngineOption
	if cfg.FakeConsistent {
		engineOpts = append(engineOpts, anonymize.WithConsistentFakes())
	}
	pipeline := anonymize.NewPipeline(cfg.DetectBudget, detectors...)
	return anonymize.NewService(pipeline, anonymize.NewEngine(engineOpts...), cfg.Entities, cfg.Language), nil
}
