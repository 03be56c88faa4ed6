package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"microloan-funnel/internal/models"
)

const profileColumns = `telegram_id, username, first_name, country, age,
	total_sessions, total_link_clicks, created_at, last_activity`

// GetProfile returns the profile of a user or ErrNotFound.
func (db *DB) GetProfile(ctx context.Context, userID int64) (models.Profile, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM users WHERE telegram_id = ?`, userID)

	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("failed to get profile %d: %w", userID, err)
	}
	return profile, nil
}

// GetOrCreateProfile refreshes the contact data and activity of an existing
// user or inserts a new row. It reports whether the row was created.
func (db *DB) GetOrCreateProfile(ctx context.Context, identity models.UserIdentity) (models.Profile, bool, error) {
	now := db.timestamp()

	res, err := db.conn.ExecContext(ctx, `UPDATE users SET
			username = COALESCE(NULLIF(?, ''), username),
			first_name = COALESCE(NULLIF(?, ''), first_name),
			last_activity = ?
		WHERE telegram_id = ?`,
		identity.Username, identity.FirstName, now, identity.UserID)
	if err != nil {
		return models.Profile{}, false, fmt.Errorf("failed to touch profile %d: %w", identity.UserID, err)
	}

	created := false
	if n, _ := res.RowsAffected(); n == 0 {
		res, err = db.conn.ExecContext(ctx, `INSERT INTO users (
				telegram_id, username, first_name, created_at, last_activity
			) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(telegram_id) DO NOTHING`,
			identity.UserID, nullString(identity.Username), nullString(identity.FirstName), now, now)
		if err != nil {
			return models.Profile{}, false, fmt.Errorf("failed to create profile %d: %w", identity.UserID, err)
		}
		n, _ := res.RowsAffected()
		created = n == 1
	}

	profile, err := db.GetProfile(ctx, identity.UserID)
	if err != nil {
		return models.Profile{}, false, err
	}
	return profile, created, nil
}

// UpdateProfilePreferences merges the non-nil fields of update into the
// profile. It returns ErrNotFound when the user has no profile.
func (db *DB) UpdateProfilePreferences(ctx context.Context, userID int64, update models.ProfileUpdate) error {
	if update.Empty() {
		return nil
	}

	var sets []string
	var args []interface{}

	if update.Country != nil {
		sets = append(sets, "country = ?")
		args = append(args, *update.Country)
	}
	if update.Age != nil {
		sets = append(sets, "age = ?")
		args = append(args, *update.Age)
	}
	sets = append(sets, "last_activity = ?")
	args = append(args, db.timestamp(), userID)

	query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE telegram_id = ?"
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearProfile resets country and age. Lifetime counters are kept.
func (db *DB) ClearProfile(ctx context.Context, userID int64) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE users
		SET country = NULL, age = NULL, last_activity = ?
		WHERE telegram_id = ?`, db.timestamp(), userID)
	if err != nil {
		return fmt.Errorf("failed to clear profile %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserStats returns the lifetime counters of a user.
func (db *DB) UserStats(ctx context.Context, userID int64) (models.UserStats, error) {
	profile, err := db.GetProfile(ctx, userID)
	if err != nil {
		return models.UserStats{}, err
	}

	stats := models.UserStats{
		TotalSessions:   profile.TotalSessions,
		TotalLinkClicks: profile.TotalLinkClicks,
	}
	if stats.TotalSessions > 0 {
		stats.ConversionRate = float64(stats.TotalLinkClicks) / float64(stats.TotalSessions) * 100
	}
	return stats, nil
}

func (db *DB) incrementSessions(ctx context.Context, userID int64) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE users
		SET total_sessions = total_sessions + 1, last_activity = ?
		WHERE telegram_id = ?`, db.timestamp(), userID)
	if err != nil {
		return fmt.Errorf("failed to increment sessions for %d: %w", userID, err)
	}
	return nil
}

func (db *DB) incrementClicks(ctx context.Context, userID int64) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE users
		SET total_link_clicks = total_link_clicks + 1, last_activity = ?
		WHERE telegram_id = ?`, db.timestamp(), userID)
	if err != nil {
		return fmt.Errorf("failed to increment clicks for %d: %w", userID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (models.Profile, error) {
	var (
		p                   models.Profile
		username, firstName sql.NullString
		country             sql.NullString
		age                 sql.NullInt64
		createdAt, lastSeen string
	)

	err := row.Scan(&p.UserID, &username, &firstName, &country, &age,
		&p.TotalSessions, &p.TotalLinkClicks, &createdAt, &lastSeen)
	if err != nil {
		return models.Profile{}, err
	}

	p.Username = username.String
	p.FirstName = firstName.String
	if country.Valid {
		c := country.String
		p.Country = &c
	}
	if age.Valid {
		a := int(age.Int64)
		p.Age = &a
	}
	p.CreatedAt = parseTime(createdAt)
	p.LastActivity = parseTime(lastSeen)
	return p, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
