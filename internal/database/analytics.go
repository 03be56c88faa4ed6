package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"microloan-funnel/internal/models"
)

// AnalyticsSummary aggregates users, sessions and clicks over the last days.
func (db *DB) AnalyticsSummary(ctx context.Context, days int) (models.AnalyticsSummary, error) {
	if days <= 0 {
		days = 7
	}
	since := db.now().AddDate(0, 0, -days).Format(time.RFC3339)

	summary := models.AnalyticsSummary{
		Days:                days,
		TopOffers:           []models.OfferClicks{},
		CountryDistribution: []models.CountryClicks{},
	}

	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users
		WHERE created_at >= ? OR last_activity >= ?`, since, since).Scan(&summary.TotalUsers)
	if err != nil {
		return summary, fmt.Errorf("failed to count users: %w", err)
	}

	var completed int
	err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(completed), 0)
		FROM sessions WHERE session_start >= ?`, since).Scan(&summary.TotalSessions, &completed)
	if err != nil {
		return summary, fmt.Errorf("failed to count sessions: %w", err)
	}

	err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM link_clicks
		WHERE clicked_at >= ?`, since).Scan(&summary.TotalClicks)
	if err != nil {
		return summary, fmt.Errorf("failed to count clicks: %w", err)
	}

	if summary.TotalSessions > 0 {
		summary.SessionCompletionRate = round2(float64(completed) / float64(summary.TotalSessions) * 100)
		summary.ClickThroughRate = round2(float64(summary.TotalClicks) / float64(summary.TotalSessions) * 100)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT offer_id, COUNT(*) AS clicks FROM link_clicks
		WHERE clicked_at >= ?
		GROUP BY offer_id ORDER BY clicks DESC, offer_id ASC LIMIT 5`, since)
	if err != nil {
		return summary, fmt.Errorf("failed to query top offers: %w", err)
	}
	for rows.Next() {
		var oc models.OfferClicks
		if err := rows.Scan(&oc.OfferID, &oc.Clicks); err != nil {
			rows.Close()
			return summary, fmt.Errorf("failed to scan top offer: %w", err)
		}
		summary.TopOffers = append(summary.TopOffers, oc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("error iterating top offers: %w", err)
	}

	rows, err = db.conn.QueryContext(ctx, `SELECT COALESCE(country, ''), COUNT(*) AS clicks FROM link_clicks
		WHERE clicked_at >= ?
		GROUP BY country ORDER BY clicks DESC`, since)
	if err != nil {
		return summary, fmt.Errorf("failed to query country distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cc models.CountryClicks
		if err := rows.Scan(&cc.Country, &cc.Clicks); err != nil {
			return summary, fmt.Errorf("failed to scan country clicks: %w", err)
		}
		summary.CountryDistribution = append(summary.CountryDistribution, cc)
	}
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("error iterating country distribution: %w", err)
	}

	return summary, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
