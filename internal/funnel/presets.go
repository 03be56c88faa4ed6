package funnel

import (
	"fmt"
	"sort"
	"strconv"

	"microloan-funnel/internal/models"
	"microloan-funnel/internal/validation"
)

// Defaults used by popular presets when the profile has no preferences.
const (
	DefaultCountry = validation.CountryRussia
	DefaultAge     = 30
)

var countryChoices = []Choice{
	{Label: "Russia", Data: "country_" + validation.CountryRussia},
	{Label: "Kazakhstan", Data: "country_" + validation.CountryKazakhstan},
}

// Each bucket submits a representative age.
var ageChoices = []Choice{
	{Label: "18-25", Data: "age_22"},
	{Label: "26-35", Data: "age_30"},
	{Label: "36-50", Data: "age_43"},
	{Label: "51+", Data: "age_60"},
}

var amountPresets = map[string][]int{
	validation.CountryRussia:     {5000, 10000, 15000, 25000, 50000},
	validation.CountryKazakhstan: {50000, 100000, 150000, 250000, 500000},
}

var termChoices = []Choice{
	{Label: "7 days", Data: "term_7"},
	{Label: "14 days", Data: "term_14"},
	{Label: "21 days", Data: "term_21"},
	{Label: "30 days", Data: "term_30"},
}

var paymentChoices = []Choice{
	{Label: "Bank card", Data: "payment_card"},
	{Label: "QIWI", Data: "payment_qiwi"},
	{Label: "YooMoney", Data: "payment_yandex"},
	{Label: "Bank account", Data: "payment_bank"},
	{Label: "Cash", Data: "payment_cash"},
	{Label: "Contact", Data: "payment_contact"},
}

var zeroPercentChoices = []Choice{
	{Label: "Only 0% offers", Data: "zero_true"},
	{Label: "Any offers", Data: "zero_false"},
}

func amountChoices(country string) []Choice {
	presets := amountPresets[country]
	choices := make([]Choice, 0, len(presets))
	for _, amount := range presets {
		choices = append(choices, Choice{
			Label: groupThousands(amount),
			Data:  "amount_" + strconv.Itoa(amount),
		})
	}
	return choices
}

func groupThousands(n int) string {
	s := strconv.Itoa(n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + " " + s[i:]
	}
	return s
}

// popularPreset builds criteria for a one-tap search.
type popularPreset struct {
	label string
	build func(country string, age int) models.Criteria
}

func regionalPreset(ru, kz, term int, payment string, zero bool) func(string, int) models.Criteria {
	return func(country string, age int) models.Criteria {
		amount := ru
		if country == validation.CountryKazakhstan {
			amount = kz
		}
		return models.Criteria{
			Country:         country,
			Age:             age,
			Amount:          amount,
			Term:            term,
			PaymentMethod:   payment,
			ZeroPercentOnly: zero,
		}
	}
}

func fixedCountryPreset(country string, amount int) func(string, int) models.Criteria {
	return func(_ string, age int) models.Criteria {
		return models.Criteria{
			Country:       country,
			Age:           age,
			Amount:        amount,
			Term:          14,
			PaymentMethod: "card",
		}
	}
}

var popularPresets = map[string]popularPreset{
	"zero_percent": {"0% loans", regionalPreset(15000, 150000, 14, "card", true)},
	"instant":      {"To card in 5 minutes", regionalPreset(10000, 100000, 7, "card", false)},
	"cash":         {"Cash in hand", regionalPreset(20000, 200000, 14, "cash", false)},
	"big_amount":   {"Large amounts", regionalPreset(50000, 500000, 30, "card", false)},
	"no_docs":      {"No documents", regionalPreset(15000, 150000, 14, "card", false)},
	"bad_credit":   {"Bad credit history", regionalPreset(10000, 100000, 14, "card", false)},
	"russia":       {"For Russia", fixedCountryPreset(validation.CountryRussia, 25000)},
	"kazakhstan":   {"For Kazakhstan", fixedCountryPreset(validation.CountryKazakhstan, 250000)},
}

var popularOrder = []string{
	"zero_percent", "instant", "cash", "big_amount", "no_docs", "bad_credit", "russia", "kazakhstan",
}

// PresetCriteria returns the criteria of a popular preset for a profile.
func PresetCriteria(name string, p models.Profile) (models.Criteria, error) {
	preset, ok := popularPresets[name]
	if !ok {
		return models.Criteria{}, &validation.ValidationError{
			Field:   "preset",
			Message: fmt.Sprintf("unknown preset: %s", name),
		}
	}
	country, age := DefaultCountry, DefaultAge
	if p.Country != nil {
		country = *p.Country
	}
	if p.Age != nil {
		age = *p.Age
	}
	return preset.build(country, age), nil
}

// PresetNames lists the popular presets in display order.
func PresetNames() []string {
	names := append([]string(nil), popularOrder...)
	return names
}

func menuChoices(popular bool) []Choice {
	choices := []Choice{{Label: "Find a loan", Data: "start"}}
	if popular {
		for _, name := range popularOrder {
			choices = append(choices, Choice{Label: popularPresets[name].label, Data: "popular_" + name})
		}
	}
	return append(choices, Choice{Label: "Profile settings", Data: "change_profile_settings"})
}

func settingsChoices() []Choice {
	return []Choice{
		{Label: "Change country", Data: "edit_country"},
		{Label: "Change age", Data: "edit_age"},
		{Label: "Clear profile", Data: "clear_profile"},
		{Label: "Back", Data: "back_to_main"},
	}
}

func emptyChoices(popular bool) []Choice {
	choices := []Choice{{Label: "Change parameters", Data: "change_params"}}
	if popular {
		choices = append(choices, Choice{Label: "Popular offers", Data: "popular_zero_percent"})
	}
	return append(choices, Choice{Label: "Main menu", Data: "back_to_main"})
}

func rankedChoices(conv Conversation, offerID string) []Choice {
	var choices []Choice
	if conv.Index > 0 {
		choices = append(choices, Choice{Label: "Previous", Data: "prev_offer"})
	}
	if conv.Index < conv.Result.Len()-1 {
		choices = append(choices, Choice{Label: "Next", Data: "next_offer"})
	}
	return append(choices,
		Choice{Label: "Get loan", Data: "get_loan_" + offerID},
		Choice{Label: "Change parameters", Data: "change_params"},
	)
}

// knownPresets is used by input parsing; sorted for stable error text.
func knownPresets() []string {
	names := make([]string, 0, len(popularPresets))
	for name := range popularPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
