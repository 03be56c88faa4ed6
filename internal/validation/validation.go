package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"microloan-funnel/internal/models"
)

var (
	offerIDRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)
	digitsRegex  = regexp.MustCompile(`^\d+$`)
)

const (
	MinAge  = 18
	MaxAge  = 99
	MinTerm = 1
	MaxTerm = 365
)

// Countries the funnel serves.
const (
	CountryRussia     = "russia"
	CountryKazakhstan = "kazakhstan"
)

// AmountRange is the inclusive range of loan amounts accepted for a country.
type AmountRange struct {
	Min int
	Max int
}

var amountLimits = map[string]AmountRange{
	CountryRussia:     {Min: 1000, Max: 50000},
	CountryKazakhstan: {Min: 10000, Max: 500000},
}

var paymentMethods = map[string]bool{
	"card":    true,
	"qiwi":    true,
	"yandex":  true,
	"bank":    true,
	"cash":    true,
	"contact": true,
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// AmountLimits returns the accepted amount range for a country.
func AmountLimits(country string) (AmountRange, bool) {
	r, ok := amountLimits[country]
	return r, ok
}

// IsKnownCountry reports whether the funnel serves the country.
func IsKnownCountry(country string) bool {
	_, ok := amountLimits[country]
	return ok
}

// ValidateOffer checks the invariants the catalog is expected to hold.
func ValidateOffer(offer models.Offer) error {
	if offer.ID == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}

	if !offerIDRegex.MatchString(offer.ID) {
		return &ValidationError{Field: "id", Message: "must contain only letters, digits, '_' or '-'"}
	}

	if strings.TrimSpace(offer.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}

	if offer.Limits.MinAmount < 0 || offer.Limits.MinAmount > offer.Limits.MaxAmount {
		return &ValidationError{Field: "limits.min_amount", Message: "must be non-negative and not exceed max_amount"}
	}

	if offer.Limits.MinAge < 0 || offer.Limits.MinAge > offer.Limits.MaxAge {
		return &ValidationError{Field: "limits.min_age", Message: "must be non-negative and not exceed max_age"}
	}

	if offer.LoanTerms.MinDays < 0 || offer.LoanTerms.MinDays > offer.LoanTerms.MaxDays {
		return &ValidationError{Field: "loan_terms.min_days", Message: "must be non-negative and not exceed max_days"}
	}

	m := offer.Metrics
	if m.CR < 0 || m.AR < 0 || m.EPC < 0 || m.EPL < 0 {
		return &ValidationError{Field: "metrics", Message: "must be non-negative"}
	}

	if offer.Priority.ManualBoost < 0 {
		return &ValidationError{Field: "priority.manual_boost", Message: "must be non-negative"}
	}

	seen := make(map[string]bool)
	for i, country := range offer.Geography.Countries {
		if country == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("geography.countries[%d]", i),
				Message: "must not be empty",
			}
		}
		if seen[country] {
			return &ValidationError{
				Field:   "geography.countries",
				Message: fmt.Sprintf("duplicate country: %s", country),
			}
		}
		seen[country] = true
	}

	for country, link := range offer.Geography.Links {
		if !ValidURL(link) {
			return &ValidationError{
				Field:   "geography." + country + "_link",
				Message: "must be an http(s) URL",
			}
		}
	}

	return nil
}

// ValidURL performs a light sanity check of a partner link.
func ValidURL(url string) bool {
	url = strings.TrimSpace(url)
	return (strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) && len(url) > 10
}

func ParseCountry(input string) (string, error) {
	country := strings.ToLower(SanitizeString(input))
	if country == "" {
		return "", &ValidationError{Field: "country", Message: "is required"}
	}
	if !IsKnownCountry(country) {
		return "", &ValidationError{Field: "country", Message: fmt.Sprintf("unsupported country: %s", country)}
	}
	return country, nil
}

func ParseAge(input string) (int, error) {
	age, err := parseNumber(input, "age")
	if err != nil {
		return 0, err
	}
	if age < MinAge || age > MaxAge {
		return 0, &ValidationError{
			Field:   "age",
			Message: fmt.Sprintf("must be between %d and %d", MinAge, MaxAge),
		}
	}
	return age, nil
}

// ParseAmount parses a requested amount and checks it against the country's
// limits. Spaces and thousands separators are accepted.
func ParseAmount(input, country string) (int, error) {
	cleaned := strings.NewReplacer(" ", "", ",", "", "_", "").Replace(input)
	amount, err := parseNumber(cleaned, "amount")
	if err != nil {
		return 0, err
	}

	limits, ok := AmountLimits(country)
	if !ok {
		return 0, &ValidationError{Field: "country", Message: "must be chosen before the amount"}
	}

	if amount < limits.Min || amount > limits.Max {
		return 0, &ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("must be between %d and %d", limits.Min, limits.Max),
		}
	}
	return amount, nil
}

func ParseTerm(input string) (int, error) {
	term, err := parseNumber(input, "term")
	if err != nil {
		return 0, err
	}
	if term < MinTerm || term > MaxTerm {
		return 0, &ValidationError{
			Field:   "term",
			Message: fmt.Sprintf("must be between %d and %d days", MinTerm, MaxTerm),
		}
	}
	return term, nil
}

func ParsePaymentMethod(input string) (string, error) {
	method := strings.ToLower(SanitizeString(input))
	if !paymentMethods[method] {
		return "", &ValidationError{Field: "payment_method", Message: fmt.Sprintf("unsupported payment method: %s", method)}
	}
	return method, nil
}

func ParseZeroPercent(input string) (bool, error) {
	switch strings.ToLower(SanitizeString(input)) {
	case "true", "yes", "1", "0%":
		return true, nil
	case "false", "no", "any":
		return false, nil
	}
	return false, &ValidationError{Field: "zero_percent_only", Message: "must be true or false"}
}

func parseNumber(input, field string) (int, error) {
	input = SanitizeString(input)
	if input == "" {
		return 0, &ValidationError{Field: field, Message: "is required"}
	}
	if !digitsRegex.MatchString(input) {
		return 0, &ValidationError{Field: field, Message: "must be a whole number"}
	}
	n, err := strconv.Atoi(input)
	if err != nil {
		return 0, &ValidationError{Field: field, Message: "is out of range"}
	}
	return n, nil
}

// ParseUserID parses the numeric identity used in partner links.
func ParseUserID(input string) (int64, error) {
	input = SanitizeString(input)
	if input == "" {
		return 0, &ValidationError{Field: "user_id", Message: "is required"}
	}
	id, err := strconv.ParseInt(input, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ValidationError{Field: "user_id", Message: "must be a positive integer"}
	}
	return id, nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
