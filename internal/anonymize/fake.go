package anonymize

import (
	"encoding/hex"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/ethereum/go-ethereum/crypto"
)

// Generator produces a plausible but fictitious value for an entity type.
// It is never given the real value. ok is false when the entity type has no
// generator.
type Generator interface {
	Generate(entityType string) (value string, ok bool)
}

// FakeGenerator draws synthetic values from a private gofakeit source.
// A FakeGenerator is not safe for concurrent use; create one per request.
type FakeGenerator struct {
	f *gofakeit.Faker
}

// NewFakeGenerator returns a generator seeded with seed. A zero seed picks a
// random one.
func NewFakeGenerator(seed uint64) *FakeGenerator {
	return &FakeGenerator{f: gofakeit.New(seed)}
}

var religions = []string{"Christianity", "Islam", "Hinduism", "Buddhism", "Judaism"}

var politicalGroups = []string{"Party A", "Party B", "Party C", "Independent"}

// Generate implements Generator.
func (g *FakeGenerator) Generate(entityType string) (string, bool) {
	f := g.f
	switch entityType {
	case "PERSON":
		return f.Name(), true
	case "EMAIL_ADDRESS":
		return f.Email(), true
	case "PHONE_NUMBER":
		return f.Phone(), true
	case "US_SSN":
		return f.SSN(), true
	case "CREDIT_CARD":
		return f.CreditCardNumber(nil), true
	case "DATE_TIME":
		return f.Date().Format("2006-01-02 15:04:05"), true
	case "LOCATION":
		return f.City(), true
	case "IP_ADDRESS":
		return f.IPv4Address(), true
	case "URL":
		return f.URL(), true
	case "DOMAIN_NAME":
		return f.DomainName(), true
	case "US_BANK_NUMBER":
		return f.Numerify("##########"), true
	case "US_DRIVER_LICENSE":
		return strings.ToUpper(f.Lexify("?")) + f.Numerify("#######"), true
	case "US_PASSPORT":
		return f.Numerify("#########"), true
	case "CRYPTO":
		seed := []byte(f.Numerify("################################"))
		return hex.EncodeToString(crypto.Keccak256(seed)), true
	case "IBAN_CODE":
		return "GB" + f.Numerify("##") + strings.ToUpper(f.Lexify("????")) + f.Numerify("##############"), true
	case "EMPLOYEE_ID":
		return "EMP" + f.Numerify("######"), true
	case "NATIONALITY":
		return f.Country(), true
	case "RELIGION":
		return f.RandomString(religions), true
	case "POLITICAL_GROUP":
		return f.RandomString(politicalGroups), true
	}
	return "", false
}

// SupportedFakeTypes lists the entity types with a dedicated generator.
func SupportedFakeTypes() []string {
	return []string{
		"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER", "US_SSN", "CREDIT_CARD",
		"DATE_TIME", "LOCATION", "IP_ADDRESS", "URL", "DOMAIN_NAME",
		"US_BANK_NUMBER", "US_DRIVER_LICENSE", "US_PASSPORT", "CRYPTO",
		"IBAN_CODE", "EMPLOYEE_ID", "NATIONALITY", "RELIGION", "POLITICAL_GROUP",
	}
}
