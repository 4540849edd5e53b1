package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Candidates ---

const candidateCols = `id, user_id, text_unit_id, run_id, signal_type, label, description,
	confidence_level, excerpt, excerpt_location, risk_of_misinterpretation, why_surfaced,
	ambiguity_note, constraint_type, trust_evidence, action_suggested, related_themes,
	temporal_context, suggested_links, review_status, review_note, deferred_until,
	promotion_status, created_at, updated_at, reviewed_at`

func scanCandidate(scan func(dest ...any) error) (Candidate, error) {
	var c Candidate
	var deferredUntil, reviewedAt sql.NullString
	var createdAt, updatedAt string
	if err := scan(
		&c.ID, &c.UserID, &c.TextUnitID, &c.RunID, &c.SignalType, &c.Label, &c.Description,
		&c.ConfidenceLevel, &c.Excerpt, &c.ExcerptLocation, &c.RiskOfMisinterpretation, &c.WhySurfaced,
		&c.AmbiguityNote, &c.ConstraintType, &c.TrustEvidence, &c.ActionSuggested, &c.RelatedThemes,
		&c.TemporalContext, &c.SuggestedLinks, &c.ReviewStatus, &c.ReviewNote, &deferredUntil,
		&c.PromotionStatus, &createdAt, &updatedAt, &reviewedAt,
	); err != nil {
		return Candidate{}, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return Candidate{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
		return Candidate{}, err
	}
	if c.DeferredUntil, err = parseNullTime(deferredUntil, "deferred_until"); err != nil {
		return Candidate{}, err
	}
	if c.ReviewedAt, err = parseNullTime(reviewedAt, "reviewed_at"); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

// ReplaceCandidates deletes every candidate stored for the unit and inserts
// the new set, all inside one transaction. Re-running extraction therefore
// leaves exactly one generation of candidates; a failed insert rolls the
// delete back too and nothing is lost.
func (s *Store) ReplaceCandidates(textUnitID, userID string, cands []Candidate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM candidates WHERE text_unit_id = ? AND user_id = ?`, textUnitID, userID); err != nil {
		return fmt.Errorf("deleting prior candidates: %w", err)
	}

	now := fmtTime(time.Now())
	for _, c := range cands {
		status := c.ReviewStatus
		if status == "" {
			status = "pending"
		}
		relatedThemes := c.RelatedThemes
		if relatedThemes == "" {
			relatedThemes = "[]"
		}
		suggestedLinks := c.SuggestedLinks
		if suggestedLinks == "" {
			suggestedLinks = "[]"
		}
		if _, err := tx.Exec(`
			INSERT INTO candidates (id, user_id, text_unit_id, run_id, signal_type, label, description,
				confidence_level, excerpt, excerpt_location, risk_of_misinterpretation, why_surfaced,
				ambiguity_note, constraint_type, trust_evidence, action_suggested, related_themes,
				temporal_context, suggested_links, review_status, review_note, deferred_until,
				promotion_status, created_at, updated_at, reviewed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, NULL)`,
			c.ID, userID, textUnitID, c.RunID, c.SignalType, c.Label, c.Description,
			c.ConfidenceLevel, c.Excerpt, c.ExcerptLocation, c.RiskOfMisinterpretation, c.WhySurfaced,
			c.AmbiguityNote, c.ConstraintType, c.TrustEvidence, c.ActionSuggested, relatedThemes,
			c.TemporalContext, suggestedLinks, status, c.ReviewNote, c.PromotionStatus, now, now,
		); err != nil {
			return fmt.Errorf("inserting candidate %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetCandidate(id, userID string) (Candidate, error) {
	row := s.db.QueryRow(`SELECT `+candidateCols+` FROM candidates WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanCandidate(row.Scan)
	if err == sql.ErrNoRows {
		return Candidate{}, ErrNotFound
	}
	return c, err
}

// ListCandidates returns candidates in arrival order (oldest first). Both
// filters are optional.
func (s *Store) ListCandidates(userID, reviewStatus, textUnitID string, limit, offset int) ([]Candidate, error) {
	query := `SELECT ` + candidateCols + ` FROM candidates WHERE user_id = ?`
	args := []any{userID}
	if reviewStatus != "" {
		query += ` AND review_status = ?`
		args = append(args, reviewStatus)
	}
	if textUnitID != "" {
		query += ` AND text_unit_id = ?`
		args = append(args, textUnitID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *Store) CountCandidates(userID, reviewStatus string) (int, error) {
	query := `SELECT COUNT(*) FROM candidates WHERE user_id = ?`
	args := []any{userID}
	if reviewStatus != "" {
		query += ` AND review_status = ?`
		args = append(args, reviewStatus)
	}
	var n int
	err := s.db.QueryRow(query, args...).Scan(&n)
	return n, err
}

// MarkCandidateReviewed records a reject or defer outcome. deferredUntil is
// stored only when non-zero.
func (s *Store) MarkCandidateReviewed(id, userID, reviewStatus, note string, deferredUntil time.Time) error {
	now := fmtTime(time.Now())
	res, err := s.db.Exec(`
		UPDATE candidates SET review_status = ?, review_note = ?, deferred_until = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		reviewStatus, note, fmtNullTime(deferredUntil), now, now, id, userID,
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

// MarkCandidateAccepted flips the review status after the signal row exists.
func (s *Store) MarkCandidateAccepted(id, userID, note string) error {
	now := fmtTime(time.Now())
	res, err := s.db.Exec(`
		UPDATE candidates SET review_status = 'accepted', promotion_status = 'promoted', review_note = ?, deferred_until = NULL, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		note, now, now, id, userID,
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

// UpdateCandidateContent persists the editable descriptive fields. Review
// bookkeeping columns are deliberately not touched here.
func (s *Store) UpdateCandidateContent(c Candidate) error {
	res, err := s.db.Exec(`
		UPDATE candidates SET signal_type = ?, label = ?, description = ?, confidence_level = ?,
			excerpt = ?, excerpt_location = ?, risk_of_misinterpretation = ?, constraint_type = ?,
			trust_evidence = ?, action_suggested = ?, related_themes = ?, temporal_context = ?,
			suggested_links = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		c.SignalType, c.Label, c.Description, c.ConfidenceLevel,
		c.Excerpt, c.ExcerptLocation, c.RiskOfMisinterpretation, c.ConstraintType,
		c.TrustEvidence, c.ActionSuggested, c.RelatedThemes, c.TemporalContext,
		c.SuggestedLinks, fmtTime(time.Now()), c.ID, c.UserID,
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
