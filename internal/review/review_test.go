package review

import (
	"errors"
	"testing"
	"time"

	"github.com/calmweave/keepsake/internal/storage"
)

func openTestManager(t *testing.T) (*Manager, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.CreateConversation(storage.Conversation{
		ID: "conv-1", UserID: "local", Title: "chat", Source: "paste", CreatedAt: now,
	}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return New(s), s
}

// seedCandidate stores one candidate on its own text unit and returns the
// stored row.
func seedCandidate(t *testing.T, s *storage.Store, id, reviewStatus string) storage.Candidate {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	unitID := "unit-" + id
	if err := s.CreateTextUnits([]storage.TextUnit{{
		ID:             unitID,
		UserID:         "local",
		Kind:           "conversation",
		ConversationID: "conv-1",
		RawText:        "Sarah: the rosemary needs repotting",
		CreatedAt:      now,
		UpdatedAt:      now,
	}}); err != nil {
		t.Fatalf("CreateTextUnits: %v", err)
	}

	cand := storage.Candidate{
		ID:                      id,
		UserID:                  "local",
		TextUnitID:              unitID,
		RunID:                   "run-" + id,
		SignalType:              "pattern",
		Label:                   "Gardening keeps coming up",
		Description:             "Plant care comes up in most chats with Sarah.",
		ConfidenceLevel:         "inferred",
		Excerpt:                 "the rosemary needs repotting",
		ExcerptLocation:         "line 1",
		RiskOfMisinterpretation: "medium",
		WhySurfaced:             "Repeated mentions of plant care across conversations.",
		AmbiguityNote:           "Could be small talk rather than a real interest.",
		ConstraintType:          "observed",
		TrustEvidence:           "direct quote",
		ReviewStatus:            reviewStatus,
	}
	if err := s.ReplaceCandidates(unitID, "local", []storage.Candidate{cand}); err != nil {
		t.Fatalf("ReplaceCandidates: %v", err)
	}
	stored, err := s.GetCandidate(id, "local")
	if err != nil {
		t.Fatalf("GetCandidate after seed: %v", err)
	}
	return stored
}

func ptr[T any](v T) *T { return &v }

func TestAccept_CreatesSignal(t *testing.T) {
	m, s := openTestManager(t)
	cand := seedCandidate(t, s, "cand-1", "pending")

	res, err := m.Accept("cand-1", "local", AcceptOptions{Elevated: true, Notes: "worth keeping"})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.AlreadyExisted {
		t.Error("AlreadyExisted = true on first accept")
	}
	if res.SignalID == "" {
		t.Fatal("SignalID is empty")
	}

	sig, err := s.GetSignal(res.SignalID, "local")
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if sig.ApprovedFromCandidateID != "cand-1" {
		t.Errorf("ApprovedFromCandidateID = %q, want cand-1", sig.ApprovedFromCandidateID)
	}
	if sig.Label != cand.Label {
		t.Errorf("Label = %q, want %q", sig.Label, cand.Label)
	}
	if sig.Description != cand.Description {
		t.Errorf("Description = %q, want %q", sig.Description, cand.Description)
	}
	if sig.ConfidenceLevel != cand.ConfidenceLevel {
		t.Errorf("ConfidenceLevel = %q, want %q", sig.ConfidenceLevel, cand.ConfidenceLevel)
	}
	if sig.Excerpt != cand.Excerpt {
		t.Errorf("Excerpt = %q, want %q", sig.Excerpt, cand.Excerpt)
	}
	if sig.ConstraintType != cand.ConstraintType {
		t.Errorf("ConstraintType = %q, want %q", sig.ConstraintType, cand.ConstraintType)
	}
	if sig.TrustEvidence != cand.TrustEvidence {
		t.Errorf("TrustEvidence = %q, want %q", sig.TrustEvidence, cand.TrustEvidence)
	}
	if sig.TextUnitID != cand.TextUnitID || sig.RunID != cand.RunID {
		t.Errorf("provenance = (%q, %q), want (%q, %q)", sig.TextUnitID, sig.RunID, cand.TextUnitID, cand.RunID)
	}
	if !sig.ActionRequired {
		t.Error("ActionRequired = false after an elevated accept")
	}
	if sig.Notes != "worth keeping" {
		t.Errorf("Notes = %q, want %q", sig.Notes, "worth keeping")
	}
	if sig.Status != "open" {
		t.Errorf("Status = %q, want open", sig.Status)
	}
	if sig.UserWeight != nil {
		t.Errorf("UserWeight = %v, want nil (never computed)", *sig.UserWeight)
	}

	updated, err := s.GetCandidate("cand-1", "local")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if updated.ReviewStatus != "accepted" {
		t.Errorf("review status = %q, want accepted", updated.ReviewStatus)
	}
	if updated.PromotionStatus != "promoted" {
		t.Errorf("promotion status = %q, want promoted", updated.PromotionStatus)
	}
	if updated.ReviewNote != "worth keeping" {
		t.Errorf("review note = %q, want %q", updated.ReviewNote, "worth keeping")
	}
	if updated.ReviewedAt.IsZero() {
		t.Error("ReviewedAt not set")
	}
}

func TestAccept_SecondCallReturnsExistingSignal(t *testing.T) {
	m, s := openTestManager(t)
	seedCandidate(t, s, "cand-1", "pending")

	first, err := m.Accept("cand-1", "local", AcceptOptions{})
	if err != nil {
		t.Fatalf("first Accept: %v", err)
	}
	second, err := m.Accept("cand-1", "local", AcceptOptions{})
	if err != nil {
		t.Fatalf("second Accept: %v", err)
	}
	if !second.AlreadyExisted {
		t.Error("AlreadyExisted = false on replay")
	}
	if second.SignalID != first.SignalID {
		t.Errorf("replay signal id = %q, want %q", second.SignalID, first.SignalID)
	}

	sigs, err := s.ListSignals("local", "", "", 100, 0)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(sigs) != 1 {
		t.Errorf("signal rows = %d, want exactly 1", len(sigs))
	}
}

// TestAccept_RetryAfterInterruptedFlip simulates a crash between the signal
// write and the candidate status flip: the signal exists, the candidate is
// still pending. The retry must find the signal and repair the flag.
func TestAccept_RetryAfterInterruptedFlip(t *testing.T) {
	m, s := openTestManager(t)
	cand := seedCandidate(t, s, "cand-1", "pending")

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.CreateSignal(storage.Signal{
		ID:                      "sig-pre",
		UserID:                  "local",
		ApprovedFromCandidateID: "cand-1",
		SignalType:              cand.SignalType,
		Label:                   cand.Label,
		Description:             cand.Description,
		ConfidenceLevel:         cand.ConfidenceLevel,
		Excerpt:                 cand.Excerpt,
		Status:                  "open",
		TextUnitID:              cand.TextUnitID,
		RunID:                   cand.RunID,
		CreatedAt:               now,
		UpdatedAt:               now,
	}); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	res, err := m.Accept("cand-1", "local", AcceptOptions{})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !res.AlreadyExisted {
		t.Error("AlreadyExisted = false, want true")
	}
	if res.SignalID != "sig-pre" {
		t.Errorf("SignalID = %q, want sig-pre", res.SignalID)
	}

	sigs, err := s.ListSignals("local", "", "", 100, 0)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(sigs) != 1 {
		t.Errorf("signal rows = %d, want exactly 1", len(sigs))
	}

	repaired, err := s.GetCandidate("cand-1", "local")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if repaired.ReviewStatus != "accepted" {
		t.Errorf("review status = %q, want accepted after reconcile", repaired.ReviewStatus)
	}
}

func TestAccept_RejectedCandidateIsRefused(t *testing.T) {
	m, s := openTestManager(t)
	seedCandidate(t, s, "cand-1", "rejected")

	_, err := m.Accept("cand-1", "local", AcceptOptions{})
	if !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("error = %v, want ErrAlreadyReviewed", err)
	}

	sigs, err := s.ListSignals("local", "", "", 100, 0)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(sigs) != 0 {
		t.Errorf("signal rows = %d, want 0", len(sigs))
	}
}

func TestAccept_FromDeferred(t *testing.T) {
	m, s := openTestManager(t)
	seedCandidate(t, s, "cand-1", "pending")

	until := time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC)
	if err := m.Defer("cand-1", "local", until, "come back to this"); err != nil {
		t.Fatalf("Defer: %v", err)
	}

	res, err := m.Accept("cand-1", "local", AcceptOptions{})
	if err != nil {
		t.Fatalf("Accept after defer: %v", err)
	}
	if res.AlreadyExisted {
		t.Error("AlreadyExisted = true on first accept")
	}

	sig, err := s.GetSignal(res.SignalID, "local")
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if sig.ActionRequired {
		t.Error("ActionRequired = true without the elevated flag")
	}

	cand, err := s.GetCandidate("cand-1", "local")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if cand.ReviewStatus != "accepted" {
		t.Errorf("review status = %q, want accepted", cand.ReviewStatus)
	}
	if !cand.DeferredUntil.IsZero() {
		t.Errorf("DeferredUntil = %v, want cleared", cand.DeferredUntil)
	}
}

func TestAccept_CandidateNotFound(t *testing.T) {
	m, _ := openTestManager(t)

	_, err := m.Accept("ghost", "local", AcceptOptions{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want storage.ErrNotFound", err)
	}
}

func TestReject(t *testing.T) {
	m, s := openTestManager(t)
	seedCandidate(t, s, "cand-1", "pending")

	if err := m.Reject("cand-1", "local", "not a real pattern"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	cand, err := s.GetCandidate("cand-1", "local")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if cand.ReviewStatus != "rejected" {
		t.Errorf("review status = %q, want rejected", cand.ReviewStatus)
	}
	if cand.ReviewNote != "not a real pattern" {
		t.Errorf("review note = %q, want %q", cand.ReviewNote, "not a real pattern")
	}
	if cand.ReviewedAt.IsZero() {
		t.Error("ReviewedAt not set")
	}

	if err := m.Reject("cand-1", "local", "again"); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("second Reject error = %v, want ErrAlreadyReviewed", err)
	}
}

func TestReject_CrossUserIsNotFound(t *testing.T) {
	m, s := openTestManager(t)
	seedCandidate(t, s, "cand-1", "pending")

	if err := m.Reject("cand-1", "someone-else", ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want storage.ErrNotFound", err)
	}
}

func TestDefer_RequiresTimestamp(t *testing.T) {
	m, s := openTestManager(t)
	seedCandidate(t, s, "cand-1", "pending")

	err := m.Defer("cand-1", "local", time.Time{}, "")
	if !errors.Is(err, ErrDeferDate) {
		t.Fatalf("error = %v, want ErrDeferDate", err)
	}

	cand, err := s.GetCandidate("cand-1", "local")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if cand.ReviewStatus != "pending" {
		t.Errorf("review status = %q, want pending (untouched)", cand.ReviewStatus)
	}
}

func TestDefer_IsRevisitable(t *testing.T) {
	m, s := openTestManager(t)
	seedCandidate(t, s, "cand-1", "pending")

	until := time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC)
	if err := m.Defer("cand-1", "local", until, "after the trip"); err != nil {
		t.Fatalf("Defer: %v", err)
	}
	cand, err := s.GetCandidate("cand-1", "local")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if cand.ReviewStatus != "deferred" {
		t.Errorf("review status = %q, want deferred", cand.ReviewStatus)
	}
	if !cand.DeferredUntil.Equal(until) {
		t.Errorf("DeferredUntil = %v, want %v", cand.DeferredUntil, until)
	}

	later := until.AddDate(0, 1, 0)
	if err := m.Defer("cand-1", "local", later, "still travelling"); err != nil {
		t.Fatalf("second Defer: %v", err)
	}
	cand, err = s.GetCandidate("cand-1", "local")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if !cand.DeferredUntil.Equal(later) {
		t.Errorf("DeferredUntil = %v, want %v", cand.DeferredUntil, later)
	}
}

func TestEdit_AppliesPatch(t *testing.T) {
	m, s := openTestManager(t)
	before := seedCandidate(t, s, "cand-1", "pending")

	patch := EditPatch{
		Label:           ptr("Gardening is a shared thread"),
		RelatedThemes:   ptr([]string{"gardening", "sarah"}),
		SourceExcerpt:   ptr("rosemary needs repotting soon"),
		TemporalContext: ptr("spring 2026"),
		SuggestedLinks:  ptr([]string{"conv-1"}),
	}
	if err := m.Edit("cand-1", "local", patch); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	got, err := s.GetCandidate("cand-1", "local")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if got.Label != "Gardening is a shared thread" {
		t.Errorf("Label = %q, want the edited value", got.Label)
	}
	if got.RelatedThemes != `["gardening","sarah"]` {
		t.Errorf("RelatedThemes = %q, want %q", got.RelatedThemes, `["gardening","sarah"]`)
	}
	if got.Excerpt != "rosemary needs repotting soon" {
		t.Errorf("Excerpt = %q, want the edited value", got.Excerpt)
	}
	if got.TemporalContext != "spring 2026" {
		t.Errorf("TemporalContext = %q, want %q", got.TemporalContext, "spring 2026")
	}
	if got.SuggestedLinks != `["conv-1"]` {
		t.Errorf("SuggestedLinks = %q, want %q", got.SuggestedLinks, `["conv-1"]`)
	}

	// Fields outside the patch stay as stored.
	if got.Description != before.Description {
		t.Errorf("Description changed: %q -> %q", before.Description, got.Description)
	}
	if got.WhySurfaced != before.WhySurfaced {
		t.Errorf("WhySurfaced changed: %q -> %q", before.WhySurfaced, got.WhySurfaced)
	}
	if got.ReviewStatus != "pending" {
		t.Errorf("review status = %q, edit must not change it", got.ReviewStatus)
	}
}

func TestEdit_EmptyPatch(t *testing.T) {
	m, s := openTestManager(t)
	seedCandidate(t, s, "cand-1", "pending")

	if err := m.Edit("cand-1", "local", EditPatch{}); !errors.Is(err, ErrEmptyEdit) {
		t.Fatalf("error = %v, want ErrEmptyEdit", err)
	}
}

func TestEdit_AllowedFromDeferred(t *testing.T) {
	m, s := openTestManager(t)
	seedCandidate(t, s, "cand-1", "pending")

	until := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if err := m.Defer("cand-1", "local", until, ""); err != nil {
		t.Fatalf("Defer: %v", err)
	}
	if err := m.Edit("cand-1", "local", EditPatch{Label: ptr("Edited while deferred")}); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	got, err := s.GetCandidate("cand-1", "local")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if got.Label != "Edited while deferred" {
		t.Errorf("Label = %q, want the edited value", got.Label)
	}
	if got.ReviewStatus != "deferred" {
		t.Errorf("review status = %q, want deferred", got.ReviewStatus)
	}
}

// TestReviewedCandidateIsImmutable covers the guard across all three
// mutating actions once a candidate reached a terminal status.
func TestReviewedCandidateIsImmutable(t *testing.T) {
	m, s := openTestManager(t)
	before := seedCandidate(t, s, "cand-1", "accepted")

	if err := m.Reject("cand-1", "local", "no"); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("Reject error = %v, want ErrAlreadyReviewed", err)
	}
	until := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	if err := m.Defer("cand-1", "local", until, ""); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("Defer error = %v, want ErrAlreadyReviewed", err)
	}
	if err := m.Edit("cand-1", "local", EditPatch{Label: ptr("Sneaky rewrite")}); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("Edit error = %v, want ErrAlreadyReviewed", err)
	}

	after, err := s.GetCandidate("cand-1", "local")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if after.Label != before.Label {
		t.Errorf("Label changed: %q -> %q", before.Label, after.Label)
	}
	if after.ReviewStatus != "accepted" {
		t.Errorf("review status = %q, want accepted", after.ReviewStatus)
	}
	if !after.DeferredUntil.IsZero() {
		t.Errorf("DeferredUntil = %v, want zero", after.DeferredUntil)
	}
}
