package storage

import (
	"database/sql"
	"time"
)

// --- Events ---

const eventCols = `id, user_id, source_id, external_event_id, title, description, location,
	starts_at, ends_at, attendees, created_at, updated_at`

func scanEvent(scan func(dest ...any) error) (Event, error) {
	var ev Event
	var endsAt sql.NullString
	var startsAt, createdAt, updatedAt string
	if err := scan(
		&ev.ID, &ev.UserID, &ev.SourceID, &ev.ExternalEventID, &ev.Title, &ev.Description, &ev.Location,
		&startsAt, &endsAt, &ev.Attendees, &createdAt, &updatedAt,
	); err != nil {
		return Event{}, err
	}
	var err error
	if ev.StartsAt, err = parseTime(startsAt, "starts_at"); err != nil {
		return Event{}, err
	}
	if ev.EndsAt, err = parseNullTime(endsAt, "ends_at"); err != nil {
		return Event{}, err
	}
	if ev.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return Event{}, err
	}
	if ev.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// UpsertEvent inserts the event or, when (source_id, external_event_id)
// already exists, updates it in place. Returns the stored row's id, which on
// conflict is the original one, not ev.ID.
func (s *Store) UpsertEvent(ev Event) (string, error) {
	attendees := ev.Attendees
	if attendees == "" {
		attendees = "[]"
	}
	now := fmtTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO events (id, user_id, source_id, external_event_id, title, description, location, starts_at, ends_at, attendees, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, external_event_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			attendees = excluded.attendees,
			updated_at = excluded.updated_at`,
		ev.ID, ev.UserID, ev.SourceID, ev.ExternalEventID, ev.Title, ev.Description, ev.Location,
		fmtTime(ev.StartsAt), fmtNullTime(ev.EndsAt), attendees, now, now,
	)
	if err != nil {
		return "", err
	}

	var id string
	err = s.db.QueryRow(`SELECT id FROM events WHERE source_id = ? AND external_event_id = ?`,
		ev.SourceID, ev.ExternalEventID).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetEvent(id, userID string) (Event, error) {
	row := s.db.QueryRow(`SELECT `+eventCols+` FROM events WHERE id = ? AND user_id = ?`, id, userID)
	ev, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return Event{}, ErrNotFound
	}
	return ev, err
}

// ListEvents returns events in start-time order, most recent start first.
func (s *Store) ListEvents(userID string, limit, offset int) ([]Event, error) {
	rows, err := s.db.Query(`SELECT `+eventCols+` FROM events WHERE user_id = ?
		ORDER BY starts_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Event
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, ev)
	}
	return results, rows.Err()
}

// --- Event Notes ---

// AppendEventNote stores a note with the next seq for its event. Seq is
// assigned inside a transaction so the append order survives timestamps that
// land in the same second.
func (s *Store) AppendEventNote(n EventNote) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(seq) + 1, 0) FROM event_notes
		WHERE event_id = ? AND user_id = ?`, n.EventID, n.UserID).Scan(&seq); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO event_notes (id, user_id, event_id, seq, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.EventID, seq, n.Body, fmtTime(n.CreatedAt),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// ListEventNotes returns an event's notes in append order, the order they
// are joined into the event's text unit.
func (s *Store) ListEventNotes(eventID, userID string) ([]EventNote, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, event_id, seq, body, created_at
		FROM event_notes WHERE event_id = ? AND user_id = ?
		ORDER BY seq ASC`, eventID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EventNote
	for rows.Next() {
		var n EventNote
		var createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.EventID, &n.Seq, &n.Body, &createdAt); err != nil {
			return nil, err
		}
		if n.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
			return nil, err
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// --- Calendar Feeds ---

func (s *Store) CreateFeed(f CalendarFeed) error {
	_, err := s.db.Exec(`
		INSERT INTO calendar_feeds (id, user_id, name, url, last_synced_at, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Name, f.URL, fmtNullTime(f.LastSyncedAt), f.LastError, fmtTime(f.CreatedAt),
	)
	return err
}

func (s *Store) GetFeed(id, userID string) (CalendarFeed, error) {
	var f CalendarFeed
	var lastSynced sql.NullString
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, name, url, last_synced_at, last_error, created_at
		FROM calendar_feeds WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&f.ID, &f.UserID, &f.Name, &f.URL, &lastSynced, &f.LastError, &createdAt)
	if err == sql.ErrNoRows {
		return CalendarFeed{}, ErrNotFound
	}
	if err != nil {
		return CalendarFeed{}, err
	}
	if f.LastSyncedAt, err = parseNullTime(lastSynced, "last_synced_at"); err != nil {
		return CalendarFeed{}, err
	}
	if f.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return CalendarFeed{}, err
	}
	return f, nil
}

func (s *Store) ListFeeds(userID string) ([]CalendarFeed, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, url, last_synced_at, last_error, created_at
		FROM calendar_feeds WHERE user_id = ?
		ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CalendarFeed
	for rows.Next() {
		var f CalendarFeed
		var lastSynced sql.NullString
		var createdAt string
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &f.URL, &lastSynced, &f.LastError, &createdAt); err != nil {
			return nil, err
		}
		if f.LastSyncedAt, err = parseNullTime(lastSynced, "last_synced_at"); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

func (s *Store) UpdateFeedSyncState(id, userID string, syncedAt time.Time, lastError string) error {
	res, err := s.db.Exec(`
		UPDATE calendar_feeds SET last_synced_at = ?, last_error = ? WHERE id = ? AND user_id = ?`,
		fmtNullTime(syncedAt), lastError, id, userID,
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

func (s *Store) DeleteFeed(id, userID string) error {
	res, err := s.db.Exec(`DELETE FROM calendar_feeds WHERE id = ? AND user_id = ?`, id, userID)
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
