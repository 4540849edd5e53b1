package storage

import (
	"database/sql"
)

// --- Extraction Runs ---

// CreateExtractionRun writes one audit record. Runs are immutable once
// written; there is no update method on purpose.
func (s *Store) CreateExtractionRun(run ExtractionRun) error {
	_, err := s.db.Exec(`
		INSERT INTO extraction_runs (id, user_id, text_unit_id, model, status, error_type, error_details, raw_output, candidate_count, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.UserID, run.TextUnitID, run.Model, run.Status, run.ErrorType,
		run.ErrorDetails, run.RawOutput, run.CandidateCount, run.DurationMS, fmtTime(run.CreatedAt),
	)
	return err
}

func (s *Store) GetExtractionRun(id, userID string) (ExtractionRun, error) {
	var run ExtractionRun
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, text_unit_id, model, status, error_type, error_details, raw_output, candidate_count, duration_ms, created_at
		FROM extraction_runs WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&run.ID, &run.UserID, &run.TextUnitID, &run.Model, &run.Status, &run.ErrorType,
		&run.ErrorDetails, &run.RawOutput, &run.CandidateCount, &run.DurationMS, &createdAt)
	if err == sql.ErrNoRows {
		return ExtractionRun{}, ErrNotFound
	}
	if err != nil {
		return ExtractionRun{}, err
	}
	if run.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return ExtractionRun{}, err
	}
	return run, nil
}

func (s *Store) ListExtractionRuns(userID, textUnitID string, limit int) ([]ExtractionRun, error) {
	query := `SELECT id, user_id, text_unit_id, model, status, error_type, error_details, raw_output, candidate_count, duration_ms, created_at
		FROM extraction_runs WHERE user_id = ?`
	args := []any{userID}
	if textUnitID != "" {
		query += ` AND text_unit_id = ?`
		args = append(args, textUnitID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ExtractionRun
	for rows.Next() {
		var run ExtractionRun
		var createdAt string
		if err := rows.Scan(&run.ID, &run.UserID, &run.TextUnitID, &run.Model, &run.Status, &run.ErrorType,
			&run.ErrorDetails, &run.RawOutput, &run.CandidateCount, &run.DurationMS, &createdAt); err != nil {
			return nil, err
		}
		if run.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
			return nil, err
		}
		results = append(results, run)
	}
	return results, rows.Err()
}
