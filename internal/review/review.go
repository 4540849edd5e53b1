// Package review implements the candidate review state machine. Accept,
// reject, defer, and edit are the only legitimate paths by which a stored
// candidate changes review state, and accept is the only path that creates
// a durable signal.
package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calmweave/keepsake/internal/storage"
)

var (
	// ErrAlreadyReviewed is returned when an action targets a candidate
	// whose review status is terminal (accepted or rejected).
	ErrAlreadyReviewed = errors.New("candidate already reviewed")

	// ErrDeferDate is returned when defer is called without a timestamp.
	// The system never computes a default defer duration.
	ErrDeferDate = errors.New("defer requires a deferred_until timestamp")

	// ErrEmptyEdit is returned when an edit payload changes no fields.
	ErrEmptyEdit = errors.New("edit changes no fields")
)

// Manager applies review actions to candidates.
type Manager struct {
	store *storage.Store
}

func New(store *storage.Store) *Manager {
	return &Manager{store: store}
}

// AcceptOptions carries the human-supplied parts of an accept. Elevated
// marks the resulting signal action_required; the system never sets that
// on its own.
type AcceptOptions struct {
	Elevated bool
	Notes    string
}

// AcceptResult reports the signal an accept resolved to. AlreadyExisted is
// true when the signal predates this call (idempotent replay).
type AcceptResult struct {
	SignalID       string
	AlreadyExisted bool
}

// Accept promotes a candidate into a signal.
//
// The ordering here carries the idempotency guarantee. The signal lookup
// runs before anything else, so a replay returns the existing signal even
// when the candidate's flag was never flipped or the candidate row is gone.
// The signal is written before the candidate's status changes, so a crash
// between the two writes leaves the signal as the recoverable source of
// truth. A failed status flip after the signal exists is logged and not
// surfaced; a later accept of the same candidate reconciles the flag.
func (m *Manager) Accept(candidateID, userID string, opts AcceptOptions) (AcceptResult, error) {
	existing, err := m.store.GetSignalByCandidate(candidateID, userID)
	switch {
	case err == nil:
		m.reconcile(candidateID, userID)
		return AcceptResult{SignalID: existing.ID, AlreadyExisted: true}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return AcceptResult{}, fmt.Errorf("checking for existing signal: %w", err)
	}

	cand, err := m.store.GetCandidate(candidateID, userID)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("loading candidate: %w", err)
	}
	if !reviewable(cand) {
		return AcceptResult{}, fmt.Errorf("%w: review status is %q", ErrAlreadyReviewed, cand.ReviewStatus)
	}

	now := time.Now()
	sig := storage.Signal{
		ID:                      uuid.New().String(),
		UserID:                  userID,
		ApprovedFromCandidateID: cand.ID,
		SignalType:              cand.SignalType,
		Label:                   cand.Label,
		Description:             cand.Description,
		ConfidenceLevel:         cand.ConfidenceLevel,
		Excerpt:                 cand.Excerpt,
		ExcerptLocation:         cand.ExcerptLocation,
		WhySurfaced:             cand.WhySurfaced,
		AmbiguityNote:           cand.AmbiguityNote,
		ConstraintType:          cand.ConstraintType,
		TrustEvidence:           cand.TrustEvidence,
		ActionRequired:          opts.Elevated,
		Notes:                   opts.Notes,
		Status:                  "open",
		TextUnitID:              cand.TextUnitID,
		RunID:                   cand.RunID,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := m.store.CreateSignal(sig); err != nil {
		if storage.IsUniqueViolation(err) {
			// Lost a race with a concurrent accept of the same candidate.
			winner, lookupErr := m.store.GetSignalByCandidate(candidateID, userID)
			if lookupErr != nil {
				return AcceptResult{}, fmt.Errorf("signal exists but could not be loaded: %w", lookupErr)
			}
			return AcceptResult{SignalID: winner.ID, AlreadyExisted: true}, nil
		}
		return AcceptResult{}, fmt.Errorf("creating signal: %w", err)
	}

	if err := m.store.MarkCandidateAccepted(cand.ID, userID, opts.Notes); err != nil {
		slog.Warn("review: signal created but candidate status not flipped",
			"candidate", cand.ID, "signal", sig.ID, "error", err)
	}
	return AcceptResult{SignalID: sig.ID, AlreadyExisted: false}, nil
}

// reconcile flips a candidate left behind by an earlier interrupted accept.
// Missing candidates are fine: a later re-extraction replaces candidate rows
// while the signal stays.
func (m *Manager) reconcile(candidateID, userID string) {
	cand, err := m.store.GetCandidate(candidateID, userID)
	if err != nil || !reviewable(cand) {
		return
	}
	if err := m.store.MarkCandidateAccepted(cand.ID, userID, cand.ReviewNote); err != nil {
		slog.Warn("review: could not reconcile candidate status on replay",
			"candidate", cand.ID, "error", err)
	}
}

// Reject marks a candidate rejected. Rejection is terminal.
func (m *Manager) Reject(candidateID, userID, note string) error {
	cand, err := m.store.GetCandidate(candidateID, userID)
	if err != nil {
		return fmt.Errorf("loading candidate: %w", err)
	}
	if !reviewable(cand) {
		return fmt.Errorf("%w: review status is %q", ErrAlreadyReviewed, cand.ReviewStatus)
	}
	if err := m.store.MarkCandidateReviewed(cand.ID, userID, "rejected", note, time.Time{}); err != nil {
		return fmt.Errorf("rejecting candidate: %w", err)
	}
	return nil
}

// Defer parks a candidate until the caller-supplied timestamp. Deferred
// candidates stay reviewable, so a defer can be followed by any action.
func (m *Manager) Defer(candidateID, userID string, until time.Time, note string) error {
	if until.IsZero() {
		return ErrDeferDate
	}
	cand, err := m.store.GetCandidate(candidateID, userID)
	if err != nil {
		return fmt.Errorf("loading candidate: %w", err)
	}
	if !reviewable(cand) {
		return fmt.Errorf("%w: review status is %q", ErrAlreadyReviewed, cand.ReviewStatus)
	}
	if err := m.store.MarkCandidateReviewed(cand.ID, userID, "deferred", note, until); err != nil {
		return fmt.Errorf("deferring candidate: %w", err)
	}
	return nil
}

// EditPatch holds the editable candidate fields. A nil pointer leaves the
// stored value untouched. Review bookkeeping (status, note, defer date) is
// not part of the patch and cannot be edited.
type EditPatch struct {
	Label                   *string   `json:"label"`
	Description             *string   `json:"description"`
	ConfidenceLevel         *string   `json:"confidence_level"`
	RiskOfMisinterpretation *string   `json:"risk_of_misinterpretation"`
	ConstraintType          *string   `json:"constraint_type"`
	TrustEvidence           *string   `json:"trust_evidence"`
	ActionSuggested         *string   `json:"action_suggested"`
	RelatedThemes           *[]string `json:"related_themes"`
	TemporalContext         *string   `json:"temporal_context"`
	SuggestedLinks          *[]string `json:"suggested_links"`
	SourceExcerpt           *string   `json:"source_excerpt"`
	ExcerptLocation         *string   `json:"excerpt_location"`
}

func (p EditPatch) empty() bool {
	return p.Label == nil && p.Description == nil && p.ConfidenceLevel == nil &&
		p.RiskOfMisinterpretation == nil && p.ConstraintType == nil &&
		p.TrustEvidence == nil && p.ActionSuggested == nil &&
		p.RelatedThemes == nil && p.TemporalContext == nil &&
		p.SuggestedLinks == nil && p.SourceExcerpt == nil && p.ExcerptLocation == nil
}

// Edit rewrites allow-listed fields in place. The owner's words are stored
// verbatim; the vocabulary guard governs machine output, not human edits.
func (m *Manager) Edit(candidateID, userID string, patch EditPatch) error {
	if patch.empty() {
		return ErrEmptyEdit
	}
	cand, err := m.store.GetCandidate(candidateID, userID)
	if err != nil {
		return fmt.Errorf("loading candidate: %w", err)
	}
	if !reviewable(cand) {
		return fmt.Errorf("%w: review status is %q", ErrAlreadyReviewed, cand.ReviewStatus)
	}

	if patch.Label != nil {
		cand.Label = *patch.Label
	}
	if patch.Description != nil {
		cand.Description = *patch.Description
	}
	if patch.ConfidenceLevel != nil {
		cand.ConfidenceLevel = *patch.ConfidenceLevel
	}
	if patch.RiskOfMisinterpretation != nil {
		cand.RiskOfMisinterpretation = *patch.RiskOfMisinterpretation
	}
	if patch.ConstraintType != nil {
		cand.ConstraintType = *patch.ConstraintType
	}
	if patch.TrustEvidence != nil {
		cand.TrustEvidence = *patch.TrustEvidence
	}
	if patch.ActionSuggested != nil {
		cand.ActionSuggested = *patch.ActionSuggested
	}
	if patch.RelatedThemes != nil {
		cand.RelatedThemes = marshalList(*patch.RelatedThemes)
	}
	if patch.TemporalContext != nil {
		cand.TemporalContext = *patch.TemporalContext
	}
	if patch.SuggestedLinks != nil {
		cand.SuggestedLinks = marshalList(*patch.SuggestedLinks)
	}
	if patch.SourceExcerpt != nil {
		cand.Excerpt = *patch.SourceExcerpt
	}
	if patch.ExcerptLocation != nil {
		cand.ExcerptLocation = *patch.ExcerptLocation
	}

	if err := m.store.UpdateCandidateContent(cand); err != nil {
		return fmt.Errorf("updating candidate: %w", err)
	}
	return nil
}

func reviewable(c storage.Candidate) bool {
	return c.ReviewStatus == "pending" || c.ReviewStatus == "deferred"
}

func marshalList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}
