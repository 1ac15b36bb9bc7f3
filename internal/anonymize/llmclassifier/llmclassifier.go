// Package llmclassifier provides a Detector that uses a local
// OpenAI-compatible LLM (e.g. Ollama with qwen3:4b) to find PII that
// patterns and NER miss.
//
// We ask the model to return the sensitive strings verbatim together with an
// entity type rather than offsets, because small models get offsets wrong.
// Go code locates all occurrences in the original text itself.
package llmclassifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gonkalabs/pii-anonymizer/internal/anonymize"
)

const systemPrompt = `Extract personally identifiable information from the text.
Return a JSON array of objects {"entity_type": TYPE, "text": EXACT_STRING}.
TYPE must be one of: %s.
EXACT_STRING must be copied verbatim from the text.
Return [] if nothing is found. Return ONLY the JSON array, no explanation.

Examples:
Input: "call me at +79997899900, John Smith"
Output: [{"entity_type":"PHONE_NUMBER","text":"+79997899900"},{"entity_type":"PERSON","text":"John Smith"}]

Input: "how are you?"
Output: []`

// Classifier calls a local LLM to detect PII values.
type Classifier struct {
	url   string
	model string
	score float64
	http  *http.Client
}

// New creates a Classifier.
// baseURL is the Ollama (or any OpenAI-compatible) server, e.g. "http://ollama:11434".
// score is the confidence attached to every span the model reports.
func New(baseURL, model string, score float64) *Classifier {
	if score <= 0 || score > 1 {
		score = 0.6
	}
	return &Classifier{
		url:   strings.TrimRight(baseURL, "/") + "/v1/chat/completions",
		model: model,
		score: score,
		http: &http.Client{
			Timeout: 125 * time.Second,
		},
	}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	// Hint to disable chain-of-thought (Qwen3 and some others support this).
	// stripThinkBlock handles models that ignore it.
	Think bool `json:"think"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`         // Qwen3 via Ollama
			ReasoningContent string `json:"reasoning_content"` // Qwen3 direct API
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type finding struct {
	EntityType string `json:"entity_type"`
	Text       string `json:"text"`
}

// Detect implements anonymize.Detector. Transport failures and output that
// cannot be parsed are errors. It is safe for concurrent use.
func (c *Classifier) Detect(ctx context.Context, text string, entities []string, _ string) ([]anonymize.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if len(entities) == 0 {
		entities = anonymize.DefaultEntities
	}

	reqBody := openAIRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, strings.Join(entities, ", "))},
			// /no_think is Qwen3's control token to skip thinking.
			{Role: "user", Content: "Text to analyze:\n" + text + "\n/no_think"},
		},
		Temperature: 0,
		MaxTokens:   4096,
		Think:       false,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llmclassifier: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclassifier: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmclassifier: LLM unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llmclassifier: unexpected status %d", resp.StatusCode)
	}

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llmclassifier: read body: %w", err)
	}

	var oaiResp openAIResponse
	if err := json.Unmarshal(rawBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("llmclassifier: decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("llmclassifier: response has no choices")
	}

	choice := oaiResp.Choices[0]
	if choice.FinishReason == "length" {
		slog.Warn("llmclassifier: response truncated by token limit")
	}

	// Qwen3 via Ollama puts thinking in "reasoning" and the answer in
	// "content". Empty content means the model ran out of tokens before
	// answering, so dig the array out of the reasoning instead.
	raw := strings.TrimSpace(choice.Message.Content)
	if raw == "" {
		raw = strings.TrimSpace(choice.Message.Reasoning)
		if raw == "" {
			raw = strings.TrimSpace(choice.Message.ReasoningContent)
		}
	}
	content := stripCodeFence(stripThinkBlock(raw))
	if !strings.HasPrefix(content, "[") {
		content = extractJSONArray(content)
	}

	var found []finding
	if err := json.Unmarshal([]byte(content), &found); err != nil {
		return nil, fmt.Errorf("llmclassifier: could not parse model output: %w", err)
	}

	spans := locate(text, found, c.score)
	slog.Debug("llmclassifier: detected spans", "model", c.model, "values", len(found), "spans", len(spans))
	return spans, nil
}

// locate finds every whole-word occurrence of each value and returns rune
// spans.
func locate(text string, found []finding, score float64) []anonymize.Span {
	var spans []anonymize.Span
	seen := make(map[finding]bool, len(found))
	for _, f := range found {
		f.Text = strings.TrimSpace(f.Text)
		f.EntityType = strings.ToUpper(strings.TrimSpace(f.EntityType))
		if f.Text == "" || f.EntityType == "" || seen[f] {
			continue
		}
		seen[f] = true

		start := 0
		for {
			idx := strings.Index(text[start:], f.Text)
			if idx < 0 {
				break
			}
			abs := start + idx
			end := abs + len(f.Text)
			start = end
			if isInsideToken(text, abs, end) {
				continue
			}
			rs := utf8.RuneCountInString(text[:abs])
			spans = append(spans, anonymize.Span{
				EntityType: f.EntityType,
				Start:      rs,
				End:        rs + utf8.RuneCountInString(f.Text),
				Score:      score,
			})
		}
	}
	return spans
}

// isInsideToken reports whether byte span [start,end) sits inside a larger
// word. For example "sd@yandex.ru" inside "asd@yandex.ru" returns true.
func isInsideToken(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if !isBoundary(r) {
			return true
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if !isBoundary(r) {
			return true
		}
	}
	return false
}

func isBoundary(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '<', '>', ',', ';', ':', '.', '!', '?', '(', ')', '[', ']', '{', '}', '"', '\'', '`':
		return true
	}
	return false
}

// extractJSONArray finds the first [...] substring in s.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "]")
	if end < start {
		return s
	}
	return s[start : end+1]
}

// stripThinkBlock removes a <think>...</think> block that appears before the
// actual answer when thinking mode is active.
func stripThinkBlock(s string) string {
	const open, close = "<think>", "</think>"
	start := strings.Index(s, open)
	if start < 0 {
		return s
	}
	end := strings.Index(s, close)
	if end < 0 {
		// Unclosed block: drop everything from <think> onwards.
		return strings.TrimSpace(s[:start])
	}
	return strings.TrimSpace(s[:start] + s[end+len(close):])
}

// stripCodeFence removes ```json ... ``` or ``` ... ``` wrappers.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
