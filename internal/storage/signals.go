package storage

import (
	"database/sql"
	"strings"
	"time"
)

// --- Signals ---

const signalCols = `id, user_id, approved_from_candidate_id, signal_type, label, description,
	confidence_level, excerpt, excerpt_location, why_surfaced, ambiguity_note, constraint_type,
	trust_evidence, user_weight, action_required, notes, status, text_unit_id, run_id,
	created_at, updated_at`

func scanSignal(scan func(dest ...any) error) (Signal, error) {
	var sig Signal
	var userWeight sql.NullFloat64
	var actionRequired int
	var createdAt, updatedAt string
	if err := scan(
		&sig.ID, &sig.UserID, &sig.ApprovedFromCandidateID, &sig.SignalType, &sig.Label, &sig.Description,
		&sig.ConfidenceLevel, &sig.Excerpt, &sig.ExcerptLocation, &sig.WhySurfaced, &sig.AmbiguityNote, &sig.ConstraintType,
		&sig.TrustEvidence, &userWeight, &actionRequired, &sig.Notes, &sig.Status, &sig.TextUnitID, &sig.RunID,
		&createdAt, &updatedAt,
	); err != nil {
		return Signal{}, err
	}
	if userWeight.Valid {
		w := userWeight.Float64
		sig.UserWeight = &w
	}
	sig.ActionRequired = actionRequired != 0
	var err error
	if sig.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return Signal{}, err
	}
	if sig.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
		return Signal{}, err
	}
	return sig, nil
}

// CreateSignal inserts a signal row. The unique constraint on
// approved_from_candidate_id makes a duplicate insert fail; callers turn that
// into an idempotent lookup via IsUniqueViolation.
func (s *Store) CreateSignal(sig Signal) error {
	var userWeight sql.NullFloat64
	if sig.UserWeight != nil {
		userWeight = sql.NullFloat64{Float64: *sig.UserWeight, Valid: true}
	}
	actionRequired := 0
	if sig.ActionRequired {
		actionRequired = 1
	}
	status := sig.Status
	if status == "" {
		status = "open"
	}
	now := fmtTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO signals (id, user_id, approved_from_candidate_id, signal_type, label, description,
			confidence_level, excerpt, excerpt_location, why_surfaced, ambiguity_note, constraint_type,
			trust_evidence, user_weight, action_required, notes, status, text_unit_id, run_id,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.UserID, sig.ApprovedFromCandidateID, sig.SignalType, sig.Label, sig.Description,
		sig.ConfidenceLevel, sig.Excerpt, sig.ExcerptLocation, sig.WhySurfaced, sig.AmbiguityNote, sig.ConstraintType,
		sig.TrustEvidence, userWeight, actionRequired, sig.Notes, status, sig.TextUnitID, sig.RunID,
		now, now,
	)
	return err
}

func (s *Store) GetSignal(id, userID string) (Signal, error) {
	row := s.db.QueryRow(`SELECT `+signalCols+` FROM signals WHERE id = ? AND user_id = ?`, id, userID)
	sig, err := scanSignal(row.Scan)
	if err == sql.ErrNoRows {
		return Signal{}, ErrNotFound
	}
	return sig, err
}

// GetSignalByCandidate is the accept idempotency lookup.
func (s *Store) GetSignalByCandidate(candidateID, userID string) (Signal, error) {
	row := s.db.QueryRow(`SELECT `+signalCols+` FROM signals WHERE approved_from_candidate_id = ? AND user_id = ?`, candidateID, userID)
	sig, err := scanSignal(row.Scan)
	if err == sql.ErrNoRows {
		return Signal{}, ErrNotFound
	}
	return sig, err
}

// ListSignals returns signals newest first. q is a plain case-insensitive
// substring filter over label and description; there is no relevance order.
func (s *Store) ListSignals(userID, status, q string, limit, offset int) ([]Signal, error) {
	query := `SELECT ` + signalCols + ` FROM signals WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if q != "" {
		query += ` AND (lower(label) LIKE ? OR lower(description) LIKE ?)`
		needle := "%" + strings.ToLower(q) + "%"
		args = append(args, needle, needle)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Signal
	for rows.Next() {
		sig, err := scanSignal(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, sig)
	}
	return results, rows.Err()
}

// SignalUpdate carries the owner-editable signal fields; nil means leave as is.
type SignalUpdate struct {
	Status     *string
	Notes      *string
	UserWeight *float64
}

func (s *Store) UpdateSignal(id, userID string, upd SignalUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{fmtTime(time.Now())}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *upd.Notes)
	}
	if upd.UserWeight != nil {
		sets = append(sets, "user_weight = ?")
		args = append(args, *upd.UserWeight)
	}
	args = append(args, id, userID)

	res, err := s.db.Exec(`UPDATE signals SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
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
