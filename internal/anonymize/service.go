package anonymize

import (
	"context"
	"errors"

	"github.com/samber/lo"
)

// DefaultEntities is the closed set of PII categories requested from the
// detectors unless configuration overrides it.
var DefaultEntities = []string{
	"CREDIT_CARD", "CRYPTO", "IBAN_CODE", "US_BANK_NUMBER", "US_ITIN",
	"UK_NHS", "IT_VAT_CODE", "AU_ABN", "AU_ACN", "AU_TFN",
	"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER", "US_SSN", "US_DRIVER_LICENSE",
	"US_PASSPORT", "IT_DRIVER_LICENSE", "IT_IDENTITY_CARD", "IT_PASSPORT",
	"ES_NIF", "SG_NRIC", "POLISH_PESEL", "IN_PAN", "IN_AADHAAR", "IN_PASSPORT", "IN_VEHICLE_REGISTRATION",
	"AU_MEDICARE", "MEDICAL_LICENSE", "DATE_TIME", "LOCATION", "IP_ADDRESS", "URL", "DOMAIN_NAME",
	"NRP", "EMPLOYEE_ID", "NATIONALITY", "RELIGION", "POLITICAL_GROUP",
}

// Service is the single entry point used by the web layer and the CLI:
// detect PII in a text, then anonymize it.
type Service struct {
	detector Detector
	engine   *Engine
	entities []string
	language string
}

// NewService wires a detector to an engine. An empty entities list means
// DefaultEntities; an empty language means "en".
func NewService(detector Detector, engine *Engine, entities []string, language string) *Service {
	if len(entities) == 0 {
		entities = DefaultEntities
	}
	if language == "" {
		language = "en"
	}
	if engine == nil {
		engine = NewEngine()
	}
	return &Service{
		detector: detector,
		engine:   engine,
		entities: lo.Uniq(entities),
		language: language,
	}
}

// Entities returns the entity types requested from the detector.
func (s *Service) Entities() []string {
	out := make([]string, len(s.entities))
	copy(out, s.entities)
	return out
}

// Language returns the language tag passed to the detector.
func (s *Service) Language() string { return s.language }

// Anonymize detects PII in text and replaces it using the named strategy.
//
// The strategy name is checked before detection runs. A detector failure is
// returned as a *DetectorError and nothing is anonymized.
func (s *Service) Anonymize(ctx context.Context, text, strategyName string) (*Result, error) {
	strategy, err := ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, invalid("text", "text is empty")
	}
	if s.detector == nil {
		return nil, &DetectorError{Err: errors.New("no detector configured")}
	}

	spans, err := s.detector.Detect(ctx, text, s.entities, s.language)
	if err != nil {
		var de *DetectorError
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, &DetectorError{Err: err}
	}
	return s.engine.Anonymize(text, spans, strategy)
}
