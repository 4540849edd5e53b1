package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Conversations ---

func (s *Store) CreateConversation(c Conversation) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, title, source, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.Source, fmtTime(c.CreatedAt),
	)
	return err
}

func (s *Store) GetConversation(id, userID string) (Conversation, error) {
	var c Conversation
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, title, source, created_at
		FROM conversations WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Source, &createdAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *Store) ListConversations(userID string, limit int) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, source, created_at
		FROM conversations WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		var c Conversation
		var createdAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Source, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Text Units ---

const textUnitCols = `id, user_id, kind, conversation_id, event_id, seq, raw_text, extraction_status, created_at, updated_at`

func scanTextUnit(scan func(dest ...any) error) (TextUnit, error) {
	var u TextUnit
	var convID, eventID sql.NullString
	var createdAt, updatedAt string
	if err := scan(&u.ID, &u.UserID, &u.Kind, &convID, &eventID, &u.Seq, &u.RawText, &u.ExtractionStatus, &createdAt, &updatedAt); err != nil {
		return TextUnit{}, err
	}
	u.ConversationID = convID.String
	u.EventID = eventID.String
	var err error
	if u.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return TextUnit{}, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
		return TextUnit{}, err
	}
	return u, nil
}

// CreateTextUnits inserts a batch of units in one transaction, used by
// ingestion so a multi-segment conversation lands whole or not at all.
func (s *Store) CreateTextUnits(units []TextUnit) error {
	if len(units) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	for _, u := range units {
		status := u.ExtractionStatus
		if status == "" {
			status = "unprocessed"
		}
		if _, err := tx.Exec(`
			INSERT INTO text_units (id, user_id, kind, conversation_id, event_id, seq, raw_text, extraction_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.UserID, u.Kind, nullString(u.ConversationID), nullString(u.EventID),
			u.Seq, u.RawText, status, fmtTime(u.CreatedAt), fmtTime(u.UpdatedAt),
		); err != nil {
			return fmt.Errorf("inserting text unit %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetTextUnit(id, userID string) (TextUnit, error) {
	row := s.db.QueryRow(`SELECT `+textUnitCols+` FROM text_units WHERE id = ? AND user_id = ?`, id, userID)
	u, err := scanTextUnit(row.Scan)
	if err == sql.ErrNoRows {
		return TextUnit{}, ErrNotFound
	}
	return u, err
}

func (s *Store) ListTextUnits(userID, status, conversationID string, limit, offset int) ([]TextUnit, error) {
	query := `SELECT ` + textUnitCols + ` FROM text_units WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND extraction_status = ?`
		args = append(args, status)
	}
	if conversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at ASC, seq ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TextUnit
	for rows.Next() {
		u, err := scanTextUnit(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// ClaimTextUnit moves a unit into 'processing' as a single conditional
// update, so the guard and the transition cannot race. Without force the
// claim is refused (ErrConflict) when the unit is already processing or
// completed; force claims regardless of current status.
func (s *Store) ClaimTextUnit(id, userID string, force bool) error {
	now := fmtTime(time.Now())
	var res sql.Result
	var err error
	if force {
		res, err = s.db.Exec(`
			UPDATE text_units SET extraction_status = 'processing', updated_at = ?
			WHERE id = ? AND user_id = ?`, now, id, userID)
	} else {
		res, err = s.db.Exec(`
			UPDATE text_units SET extraction_status = 'processing', updated_at = ?
			WHERE id = ? AND user_id = ? AND extraction_status NOT IN ('processing', 'completed')`, now, id, userID)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Zero rows: either the unit does not exist or the guard blocked the claim.
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM text_units WHERE id = ? AND user_id = ?`, id, userID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *Store) SetTextUnitStatus(id, userID, status string) error {
	res, err := s.db.Exec(`
		UPDATE text_units SET extraction_status = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		status, fmtTime(time.Now()), id, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertEventUnit creates or refreshes the single text unit backing a
// calendar event's notes. A refresh resets the unit to 'unprocessed' so the
// new text becomes eligible for extraction; a unit mid-run is left alone and
// the caller gets ErrConflict.
func (s *Store) UpsertEventUnit(eventID, userID, rawText, newID string) (TextUnit, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return TextUnit{}, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	row := tx.QueryRow(`SELECT `+textUnitCols+` FROM text_units WHERE event_id = ? AND user_id = ? AND kind = 'event'`, eventID, userID)
	u, err := scanTextUnit(row.Scan)
	switch {
	case err == sql.ErrNoRows:
		u = TextUnit{
			ID:               newID,
			UserID:           userID,
			Kind:             "event",
			EventID:          eventID,
			RawText:          rawText,
			ExtractionStatus: "unprocessed",
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if _, err := tx.Exec(`
			INSERT INTO text_units (id, user_id, kind, conversation_id, event_id, seq, raw_text, extraction_status, created_at, updated_at)
			VALUES (?, ?, 'event', NULL, ?, 0, ?, 'unprocessed', ?, ?)`,
			u.ID, u.UserID, u.EventID, u.RawText, fmtTime(now), fmtTime(now),
		); err != nil {
			return TextUnit{}, fmt.Errorf("inserting event unit: %w", err)
		}
	case err != nil:
		return TextUnit{}, err
	default:
		if u.ExtractionStatus == "processing" {
			return TextUnit{}, ErrConflict
		}
		if _, err := tx.Exec(`
			UPDATE text_units SET raw_text = ?, extraction_status = 'unprocessed', updated_at = ?
			WHERE id = ?`, rawText, fmtTime(now), u.ID,
		); err != nil {
			return TextUnit{}, fmt.Errorf("updating event unit: %w", err)
		}
		u.RawText = rawText
		u.ExtractionStatus = "unprocessed"
		u.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return TextUnit{}, err
	}
	return u, nil
}

// GetEventUnit returns the single text unit backing a calendar event's
// notes, if one exists yet.
func (s *Store) GetEventUnit(eventID, userID string) (TextUnit, error) {
	row := s.db.QueryRow(`SELECT `+textUnitCols+` FROM text_units WHERE event_id = ? AND user_id = ? AND kind = 'event'`, eventID, userID)
	u, err := scanTextUnit(row.Scan)
	if err == sql.ErrNoRows {
		return TextUnit{}, ErrNotFound
	}
	return u, err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
