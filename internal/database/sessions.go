package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"microloan-funnel/internal/models"
)

// InsertSession stores a new session for an existing user and increments
// the user's session counter. It returns ErrNotFound when the user has no
// profile row.
func (db *DB) InsertSession(ctx context.Context, s models.Session) error {
	started := s.StartedAt
	if started.IsZero() {
		started = db.now()
	}

	res, err := db.conn.ExecContext(ctx, `INSERT INTO sessions (
			id, user_id, country, age, amount_requested, term_days,
			payment_method, zero_percent_only, shown_offers, session_start
		)
		SELECT ?, telegram_id, ?, ?, ?, ?, ?, ?, ?, ?
		FROM users WHERE telegram_id = ?`,
		s.ID,
		nullString(s.Criteria.Country),
		nullInt(s.Criteria.Age),
		nullInt(s.Criteria.Amount),
		nullInt(s.Criteria.Term),
		nullString(s.Criteria.PaymentMethod),
		s.Criteria.ZeroPercentOnly,
		serializeOfferIDs(s.ShownOffers),
		started.UTC().Format(time.RFC3339),
		s.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", s.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return db.incrementSessions(ctx, s.UserID)
}

// UpdateSessionAmount records the requested amount on a session.
func (db *DB) UpdateSessionAmount(ctx context.Context, sessionID string, amount int) error {
	return db.updateSession(ctx, sessionID, `UPDATE sessions SET amount_requested = ? WHERE id = ?`, amount, sessionID)
}

// UpdateSessionCriteria overwrites the criteria snapshot of a session.
func (db *DB) UpdateSessionCriteria(ctx context.Context, sessionID string, c models.Criteria) error {
	return db.updateSession(ctx, sessionID, `UPDATE sessions SET
			country = ?, age = ?, amount_requested = ?, term_days = ?,
			payment_method = ?, zero_percent_only = ?
		WHERE id = ?`,
		nullString(c.Country), nullInt(c.Age), nullInt(c.Amount), nullInt(c.Term),
		nullString(c.PaymentMethod), c.ZeroPercentOnly, sessionID)
}

// SetShownOffers replaces the last shown batch of a session.
func (db *DB) SetShownOffers(ctx context.Context, sessionID string, offerIDs []string) error {
	return db.updateSession(ctx, sessionID, `UPDATE sessions SET shown_offers = ? WHERE id = ?`,
		serializeOfferIDs(offerIDs), sessionID)
}

// MarkSessionClicked sets the clicked offer of a session if none is set yet.
// It reports whether this call set it. Later calls leave the session intact.
func (db *DB) MarkSessionClicked(ctx context.Context, sessionID, offerID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE sessions
		SET clicked_offer_id = ?, completed = 1, session_end = ?
		WHERE id = ? AND clicked_offer_id IS NULL`,
		offerID, db.timestamp(), sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark session %s clicked: %w", sessionID, err)
	}

	n, _ := res.RowsAffected()
	if n == 1 {
		return true, nil
	}

	if _, err := db.GetSession(ctx, sessionID); err != nil {
		return false, err
	}
	return false, nil
}

// InsertLinkClick appends a click to the audit log and increments the
// user's click counter.
func (db *DB) InsertLinkClick(ctx context.Context, userID int64, sessionID, offerID, country string) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO link_clicks (
			user_id, session_id, offer_id, country, clicked_at
		) VALUES (?, ?, ?, ?, ?)`,
		userID, nullString(sessionID), offerID, nullString(country), db.timestamp())
	if err != nil {
		return fmt.Errorf("failed to insert link click: %w", err)
	}

	return db.incrementClicks(ctx, userID)
}

// GetSession returns a session by id or ErrNotFound.
func (db *DB) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var (
		s                 models.Session
		country, payment  sql.NullString
		age, amount, term sql.NullInt64
		shown             string
		clicked           sql.NullString
		started           string
		ended             sql.NullString
	)

	err := db.conn.QueryRowContext(ctx, `SELECT id, user_id, country, age, amount_requested,
			term_days, payment_method, zero_percent_only, shown_offers, completed,
			clicked_offer_id, session_start, session_end
		FROM sessions WHERE id = ?`, sessionID).Scan(
		&s.ID, &s.UserID, &country, &age, &amount,
		&term, &payment, &s.Criteria.ZeroPercentOnly, &shown, &s.Completed,
		&clicked, &started, &ended,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	s.Criteria.Country = country.String
	s.Criteria.Age = int(age.Int64)
	s.Criteria.Amount = int(amount.Int64)
	s.Criteria.Term = int(term.Int64)
	s.Criteria.PaymentMethod = payment.String
	s.ShownOffers = deserializeOfferIDs(shown)
	if clicked.Valid {
		id := clicked.String
		s.ClickedOfferID = &id
	}
	s.StartedAt = parseTime(started)
	if ended.Valid {
		t := parseTime(ended.String)
		s.EndedAt = &t
	}

	return s, nil
}

func (db *DB) updateSession(ctx context.Context, sessionID, query string, args ...interface{}) error {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
