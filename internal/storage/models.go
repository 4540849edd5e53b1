package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a guarded status transition is refused,
// for example claiming a text unit that is already processing.
var ErrConflict = errors.New("conflict")

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"` // "paste", "upload", "mcp"
	CreatedAt time.Time `json:"created_at"`
}

// TextUnit is the atomic input to one extraction run: a conversation
// segment or the note context of a calendar event.
type TextUnit struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Kind             string    `json:"kind"` // "conversation" or "event"
	ConversationID   string    `json:"conversation_id,omitempty"`
	EventID          string    `json:"event_id,omitempty"`
	Seq              int       `json:"seq"`
	RawText          string    `json:"raw_text"`
	ExtractionStatus string    `json:"extraction_status"` // "unprocessed", "processing", "completed", "no_signals_found", "failed"
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ExtractionRun is the immutable audit record of one extraction attempt.
type ExtractionRun struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	TextUnitID     string    `json:"text_unit_id"`
	Model          string    `json:"model"`
	Status         string    `json:"status"` // "success", "partial", "failed"
	ErrorType      string    `json:"error_type,omitempty"`
	ErrorDetails   string    `json:"error_details,omitempty"` // JSON array stored as text
	RawOutput      string    `json:"raw_output,omitempty"`
	CandidateCount int       `json:"candidate_count"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

type Candidate struct {
	ID                      string    `json:"id"`
	UserID                  string    `json:"user_id"`
	TextUnitID              string    `json:"text_unit_id"`
	RunID                   string    `json:"run_id"`
	SignalType              string    `json:"signal_type"` // "pattern", "opportunity", "warning", "insight", "promise"
	Label                   string    `json:"label"`
	Description             string    `json:"description"`
	ConfidenceLevel         string    `json:"confidence_level"` // "explicit", "inferred"
	Excerpt                 string    `json:"excerpt"`
	ExcerptLocation         string    `json:"excerpt_location"`
	RiskOfMisinterpretation string    `json:"risk_of_misinterpretation"` // "low", "medium", "high"
	WhySurfaced             string    `json:"why_surfaced"`
	AmbiguityNote           string    `json:"ambiguity_note"`
	ConstraintType          string    `json:"constraint_type"`
	TrustEvidence           string    `json:"trust_evidence"`
	ActionSuggested         string    `json:"action_suggested"`
	RelatedThemes           string    `json:"related_themes"` // JSON array stored as text
	TemporalContext         string    `json:"temporal_context"`
	SuggestedLinks          string    `json:"suggested_links"` // JSON array stored as text
	ReviewStatus            string    `json:"review_status"`   // "pending", "accepted", "rejected", "deferred"
	ReviewNote              string    `json:"review_note,omitempty"`
	DeferredUntil           time.Time `json:"deferred_until,omitzero"` // zero unless review_status is "deferred"
	PromotionStatus         string    `json:"promotion_status,omitempty"` // "" until accepted, then "promoted"
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
	ReviewedAt              time.Time `json:"reviewed_at,omitzero"` // zero until first review action
}

// Signal is the durable record a candidate becomes on acceptance.
// ApprovedFromCandidateID is unique and serves as the idempotency key.
type Signal struct {
	ID                      string    `json:"id"`
	UserID                  string    `json:"user_id"`
	ApprovedFromCandidateID string    `json:"approved_from_candidate_id"`
	SignalType              string    `json:"signal_type"`
	Label                   string    `json:"label"`
	Description             string    `json:"description"`
	ConfidenceLevel         string    `json:"confidence_level"`
	Excerpt                 string    `json:"excerpt"`
	ExcerptLocation         string    `json:"excerpt_location"`
	WhySurfaced             string    `json:"why_surfaced"`
	AmbiguityNote           string    `json:"ambiguity_note"`
	ConstraintType          string    `json:"constraint_type"`
	TrustEvidence           string    `json:"trust_evidence"`
	UserWeight              *float64  `json:"user_weight"` // owner-supplied only, never computed
	ActionRequired          bool      `json:"action_required"`
	Notes                   string    `json:"notes"`
	Status                  string    `json:"status"` // "open", "closed"
	TextUnitID              string    `json:"text_unit_id"`
	RunID                   string    `json:"run_id"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

type Event struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	SourceID        string    `json:"source_id"`
	ExternalEventID string    `json:"external_event_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at,omitzero"` // zero when the source had no end time
	Attendees       string    `json:"attendees"`        // JSON array stored as text
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type EventNote struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Seq       int       `json:"seq"` // append order within the event
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type CalendarFeed struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	LastSyncedAt time.Time `json:"last_synced_at,omitzero"` // zero when never synced
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"payload_json"`
	Status      string    `json:"status"` // "pending", "running", "completed", "failed"
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
}
