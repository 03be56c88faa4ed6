// Package matching selects the offers eligible for a set of criteria and
// orders them by commercial score.
package matching

import (
	"sort"

	"microloan-funnel/internal/models"
)

// MaxResults bounds the size of a ranked result.
const MaxResults = 10

// ZeroPercentBonus is added to offers that satisfy a zero-percent request.
const ZeroPercentBonus = 25.0

// Predicate is a hard exclusion rule: it returns false for offers that must
// not be shown.
type Predicate func(offer models.Offer, c models.Criteria) bool

// Predicates are applied in this order; the first failing one excludes the offer.
var Predicates = []Predicate{
	isActive,
	isBoosted,
	servesCountry,
	fitsAge,
	fitsAmount,
	matchesZeroPercent,
}

func isActive(o models.Offer, _ models.Criteria) bool {
	return o.Status.IsActive
}

func isBoosted(o models.Offer, _ models.Criteria) bool {
	return o.Priority.ManualBoost != 0
}

func servesCountry(o models.Offer, c models.Criteria) bool {
	return o.Geography.Supports(c.Country)
}

func fitsAge(o models.Offer, c models.Criteria) bool {
	return o.Limits.MinAge <= c.Age && c.Age <= o.Limits.MaxAge
}

func fitsAmount(o models.Offer, c models.Criteria) bool {
	return o.Limits.MinAmount <= c.Amount && c.Amount <= o.Limits.MaxAmount
}

func matchesZeroPercent(o models.Offer, c models.Criteria) bool {
	return !c.ZeroPercentOnly || o.ZeroPercent
}

// Eligible reports whether the offer passes every predicate.
func Eligible(offer models.Offer, c models.Criteria) bool {
	for _, p := range Predicates {
		if !p(offer, c) {
			return false
		}
	}
	return true
}

// Filter returns the offers eligible for the criteria, in catalog order.
// An empty result is not an error.
func Filter(c models.Criteria, catalog []models.Offer) []models.Offer {
	eligible := make([]models.Offer, 0, len(catalog))
	for _, offer := range catalog {
		if Eligible(offer, c) {
			eligible = append(eligible, offer)
		}
	}
	return eligible
}

// Score computes the ranking score of an offer for the criteria. It depends
// only on the offer metrics, its manual boost, its zero-percent flag and the
// zero-percent preference of the criteria.
func Score(offer models.Offer, c models.Criteria) float64 {
	base := offer.Metrics.CR*2.0 + offer.Metrics.EPC/50
	bonus := 0.0
	if c.ZeroPercentOnly && offer.ZeroPercent {
		bonus = ZeroPercentBonus
	}
	return base*float64(offer.Priority.ManualBoost) + bonus
}

// Rank filters the catalog and orders the eligible offers by descending
// score. Equal scores keep catalog order. The result holds at most
// MaxResults offers.
func Rank(c models.Criteria, catalog []models.Offer) models.RankedResult {
	eligible := Filter(c, catalog)

	scored := make([]models.ScoredOffer, len(eligible))
	for i, offer := range eligible {
		scored[i] = models.ScoredOffer{Offer: offer, Score: Score(offer, c)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > MaxResults {
		scored = scored[:MaxResults]
	}

	return models.RankedResult{Criteria: c, Offers: scored}
}
