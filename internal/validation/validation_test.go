package validation

import (
	"errors"
	"testing"

	"microloan-funnel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOffer() models.Offer {
	return models.Offer{
		ID:   "offer_001",
		Name: "Zaimer",
		Geography: models.Geography{
			Countries: []string{"russia"},
			Links:     map[string]string{"russia": "https://partner.example/r?sub={user_id}"},
		},
		Limits:    models.Limits{MinAmount: 1000, MaxAmount: 30000, MinAge: 18, MaxAge: 70},
		LoanTerms: models.LoanTerms{MinDays: 7, MaxDays: 30},
		Metrics:   models.Metrics{CR: 25.5, AR: 60, EPC: 180.5, EPL: 300},
		Priority:  models.Priority{ManualBoost: 5},
		Status:    models.Status{IsActive: true},
	}
}

func TestValidateOffer(t *testing.T) {
	require.NoError(t, ValidateOffer(validOffer()))

	tests := []struct {
		name   string
		mutate func(*models.Offer)
		field  string
	}{
		{"missing id", func(o *models.Offer) { o.ID = "" }, "id"},
		{"bad id", func(o *models.Offer) { o.ID = "offer 1" }, "id"},
		{"missing name", func(o *models.Offer) { o.Name = " " }, "name"},
		{"inverted amounts", func(o *models.Offer) { o.Limits.MinAmount = 50000 }, "limits.min_amount"},
		{"inverted ages", func(o *models.Offer) { o.Limits.MinAge = 80 }, "limits.min_age"},
		{"inverted terms", func(o *models.Offer) { o.LoanTerms.MinDays = 60 }, "loan_terms.min_days"},
		{"negative metric", func(o *models.Offer) { o.Metrics.EPC = -1 }, "metrics"},
		{"negative boost", func(o *models.Offer) { o.Priority.ManualBoost = -2 }, "priority.manual_boost"},
		{"duplicate country", func(o *models.Offer) { o.Geography.Countries = []string{"russia", "russia"} }, "geography.countries"},
		{"bad link", func(o *models.Offer) { o.Geography.Links["russia"] = "ftp://x" }, "geography.russia_link"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offer := validOffer()
			offer.Geography.Links = map[string]string{"russia": "https://partner.example/r?sub={user_id}"}
			tt.mutate(&offer)

			err := ValidateOffer(offer)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("15 000", CountryRussia)
	require.NoError(t, err)
	assert.Equal(t, 15000, amount)

	amount, err = ParseAmount("250,000", CountryKazakhstan)
	require.NoError(t, err)
	assert.Equal(t, 250000, amount)

	_, err = ParseAmount("60000", CountryRussia)
	assert.Error(t, err)

	_, err = ParseAmount("lots", CountryRussia)
	assert.Error(t, err)

	_, err = ParseAmount("15000", "")
	assert.Error(t, err)
}

func TestParseAge(t *testing.T) {
	age, err := ParseAge(" 30 ")
	require.NoError(t, err)
	assert.Equal(t, 30, age)

	for _, input := range []string{"17", "100", "-5", "thirty", ""} {
		_, err := ParseAge(input)
		assert.Error(t, err, input)
	}
}

func TestParseChoices(t *testing.T) {
	country, err := ParseCountry("Kazakhstan")
	require.NoError(t, err)
	assert.Equal(t, CountryKazakhstan, country)

	_, err = ParseCountry("atlantis")
	assert.Error(t, err)

	method, err := ParsePaymentMethod("CARD")
	require.NoError(t, err)
	assert.Equal(t, "card", method)

	_, err = ParsePaymentMethod("gold")
	assert.Error(t, err)

	zero, err := ParseZeroPercent("true")
	require.NoError(t, err)
	assert.True(t, zero)

	zero, err = ParseZeroPercent("any")
	require.NoError(t, err)
	assert.False(t, zero)

	_, err = ParseZeroPercent("maybe")
	assert.Error(t, err)

	term, err := ParseTerm("14")
	require.NoError(t, err)
	assert.Equal(t, 14, term)

	_, err = ParseTerm("0")
	assert.Error(t, err)
}

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID("123456789")
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), id)

	_, err = ParseUserID("abc")
	assert.Error(t, err)

	_, err = ParseUserID("0")
	assert.Error(t, err)
}
