package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"golang.org/x/crypto/blake2b"

	"github.com/gonkalabs/pii-anonymizer/internal/anonymize"
	"github.com/gonkalabs/pii-anonymizer/internal/observability"
)

// maxBodyBytes caps request bodies and websocket frames.
const maxBodyBytes = 1 << 20

// Anonymizer is the service the HTTP layer fronts.
type Anonymizer interface {
	Anonymize(ctx context.Context, text, strategy string) (*anonymize.Result, error)
	Entities() []string
	Language() string
}

// Options tunes the HTTP layer.
type Options struct {
	DefaultStrategy string
	CORSOrigins     []string
	RateLimitRPS    float64 // 0 disables limiting
	RateLimitBurst  int
}

// Server implements all HTTP endpoints.
type Server struct {
	svc      Anonymizer
	metrics  *observability.Metrics
	opts     Options
	limiter  *ipLimiter
	upgrader websocket.Upgrader
}

// New creates a Server.
func New(svc Anonymizer, metrics *observability.Metrics, opts Options) *Server {
	if st, err := anonymize.ParseStrategy(opts.DefaultStrategy); err == nil {
		opts.DefaultStrategy = st.String()
	} else {
		opts.DefaultStrategy = anonymize.Redact.String()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &Server{
		svc:     svc,
		metrics: metrics,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if opts.RateLimitRPS > 0 {
		s.limiter = newIPLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	}
	return s
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Get("/", s.handleIndex)
		r.Post("/", s.handleForm)
		r.Post("/v1/anonymize", s.handleAnonymize)
		r.Get("/v1/anonymize/ws", s.handleAnonymizeWS)
		r.Get("/v1/entities", s.handleEntities)
		r.Get("/v1/strategies", s.handleStrategies)
	})
	return r
}

// ---------- endpoints ----------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type anonymizeRequest struct {
	Text     string `json:"text"`
	Strategy string `json:"strategy"`
}

type anonymizeResponse struct {
	RequestID string           `json:"request_id"`
	Text      string           `json:"text"`
	Findings  anonymize.Report `json:"findings"`
	Items     []anonymize.Item `json:"items"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req anonymizeRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is empty")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id := uuid.NewString()
	w.Header().Set("X-Request-Id", id)
	res, err := s.anonymize(r.Context(), id, req.Text, s.strategyOrDefault(req.Strategy))
	if err != nil {
		status, code := classify(err)
		respondError(w, status, code, publicMessage(err, code))
		return
	}
	respondJSON(w, http.StatusOK, anonymizeResponse{
		RequestID: id,
		Text:      res.Text,
		Findings:  res.Findings,
		Items:     res.Items,
	})
}

func (s *Server) handleEntities(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"entities": s.svc.Entities(),
		"language": s.svc.Language(),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"strategies": strategyNames(),
		"default":    s.opts.DefaultStrategy,
	})
}

type wsResponse struct {
	Type      string           `json:"type"` // "result" or "error"
	RequestID string           `json:"request_id"`
	Text      string           `json:"text,omitempty"`
	Findings  anonymize.Report `json:"findings,omitempty"`
	Items     []anonymize.Item `json:"items,omitempty"`
	Error     string           `json:"error,omitempty"`
	Code      string           `json:"code,omitempty"`
}

// handleAnonymizeWS answers every {text,strategy} frame with one result or
// error frame. A malformed frame gets an error frame; the connection stays open.
func (s *Server) handleAnonymizeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("api: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("api: websocket read ended", "err", err)
			}
			return
		}
		id := uuid.NewString()
		out := wsResponse{RequestID: id}

		var req anonymizeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			out.Type, out.Code, out.Error = "error", "invalid_request", err.Error()
		} else if res, err := s.anonymize(r.Context(), id, req.Text, s.strategyOrDefault(req.Strategy)); err != nil {
			_, code := classify(err)
			out.Type, out.Code, out.Error = "error", code, publicMessage(err, code)
		} else {
			out.Type, out.Text, out.Findings, out.Items = "result", res.Text, res.Findings, res.Items
		}

		if err := conn.WriteJSON(out); err != nil {
			slog.Debug("api: websocket write failed", "err", err)
			return
		}
	}
}

// anonymize runs the service and records metrics and a log line. Raw text
// never reaches the log; a fingerprint and length stand in for it.
func (s *Server) anonymize(ctx context.Context, requestID, text, strategy string) (*anonymize.Result, error) {
	start := time.Now()
	res, err := s.svc.Anonymize(ctx, text, strategy)
	took := time.Since(start)

	outcome := observability.OutcomeOK
	switch {
	case err == nil:
	case anonymize.IsValidation(err):
		outcome = observability.OutcomeInvalid
	case anonymize.IsDetectorFailure(err):
		outcome = observability.OutcomeDetectorFailure
	default:
		outcome = observability.OutcomeError
	}
	label := "unknown"
	if st, perr := anonymize.ParseStrategy(strategy); perr == nil {
		label = st.String()
	}
	s.metrics.ObserveRequest(label, outcome, took)

	attrs := []any{
		"request_id", requestID,
		"strategy", strategy,
		"text_fp", fingerprint(text),
		"text_len", len(text),
		"outcome", outcome,
		"took", took,
	}
	if err != nil {
		slog.Warn("api: anonymize failed", append(attrs, "err", err)...)
		return nil, err
	}
	counts := lo.MapValues(map[string][]anonymize.Finding(res.Findings), func(f []anonymize.Finding, _ string) int { return len(f) })
	s.metrics.ObserveFindings(counts)
	slog.Info("api: anonymized", append(attrs, "findings", res.Findings.Count())...)
	return res, nil
}

func (s *Server) strategyOrDefault(name string) string {
	if strings.TrimSpace(name) == "" {
		return s.opts.DefaultStrategy
	}
	return name
}

// classify maps a service error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case anonymize.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case anonymize.IsDetectorFailure(err):
		return http.StatusBadGateway, "detector_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// detectorFailureMessage stands in for detector errors, which can carry
// sidecar URLs and transport details that clients should not see.
const detectorFailureMessage = "PII detection is unavailable right now, nothing was anonymized"

// publicMessage returns the error text that is safe to send to a client.
func publicMessage(err error, code string) string {
	if code == "detector_failure" {
		return detectorFailureMessage
	}
	return err.Error()
}

func strategyNames() []string {
	return lo.Map(anonymize.Strategies(), func(s anonymize.Strategy, _ int) string { return s.String() })
}

// fingerprint returns a short blake2b digest of text for correlating log
// lines without logging the text.
func fingerprint(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// ---------- helpers ----------

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
