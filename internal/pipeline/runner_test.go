package pipeline

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/calmweave/keepsake/internal/storage"
	"github.com/calmweave/keepsake/internal/validate"
	"github.com/calmweave/keepsake/internal/vocab"
)

func newTestRunner(t *testing.T) (*Runner, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, validate.New(vocab.Default())), s
}

func seedUnit(t *testing.T, s *storage.Store, id, text string) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.CreateConversation(storage.Conversation{
		ID: "conv-1", UserID: "local", Title: "chat", Source: "paste", CreatedAt: now,
	}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.CreateTextUnits([]storage.TextUnit{{
		ID:             id,
		UserID:         "local",
		Kind:           "conversation",
		ConversationID: "conv-1",
		RawText:        text,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}); err != nil {
		t.Fatalf("CreateTextUnits: %v", err)
	}
}

func latestRun(t *testing.T, s *storage.Store, unitID string) storage.ExtractionRun {
	t.Helper()
	runs, err := s.ListExtractionRuns("local", unitID, 10)
	if err != nil {
		t.Fatalf("ListExtractionRuns: %v", err)
	}
	if len(runs) == 0 {
		t.Fatal("no extraction runs recorded")
	}
	return runs[0]
}

func countRuns(t *testing.T, s *storage.Store, unitID string) int {
	t.Helper()
	runs, err := s.ListExtractionRuns("local", unitID, 100)
	if err != nil {
		t.Fatalf("ListExtractionRuns: %v", err)
	}
	return len(runs)
}

func TestRun_Success(t *testing.T) {
	r, s := newTestRunner(t)
	seedUnit(t, s, "unit-1", "Sarah: let's sync tomorrow at 3pm\nBen: sure, sounds good to me")

	out, err := r.Run("local", "unit-1", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Valid {
		t.Fatalf("valid = false, errors = %v", out.Errors)
	}
	if out.Status != "success" {
		t.Errorf("status = %q, want %q", out.Status, "success")
	}
	if out.UnitStatus != "completed" {
		t.Errorf("unit status = %q, want %q", out.UnitStatus, "completed")
	}
	if out.CandidatesGenerated == 0 {
		t.Error("no candidates generated from cue-bearing text")
	}

	unit, err := s.GetTextUnit("unit-1", "local")
	if err != nil {
		t.Fatalf("GetTextUnit: %v", err)
	}
	if unit.ExtractionStatus != "completed" {
		t.Errorf("stored unit status = %q, want %q", unit.ExtractionStatus, "completed")
	}

	stored, err := s.ListCandidates("local", "", "unit-1", 100, 0)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(stored) != out.CandidatesGenerated {
		t.Errorf("stored %d candidates, outcome says %d", len(stored), out.CandidatesGenerated)
	}
	for _, c := range stored {
		if c.ReviewStatus != "pending" {
			t.Errorf("candidate %s review status = %q, want pending", c.ID, c.ReviewStatus)
		}
		if c.RunID != out.RunID {
			t.Errorf("candidate %s run id = %q, want %q", c.ID, c.RunID, out.RunID)
		}
	}

	run := latestRun(t, s, "unit-1")
	if run.ID != out.RunID {
		t.Errorf("run id = %q, want %q", run.ID, out.RunID)
	}
	if run.Status != out.Status {
		t.Errorf("audit status = %q, outcome status = %q", run.Status, out.Status)
	}
	if run.CandidateCount != out.CandidatesGenerated {
		t.Errorf("audit candidate count = %d, want %d", run.CandidateCount, out.CandidatesGenerated)
	}
	if run.Model != "heuristic-v1" {
		t.Errorf("audit model = %q, want %q", run.Model, "heuristic-v1")
	}
}

func TestRun_ForceReplaceIsIdempotent(t *testing.T) {
	r, s := newTestRunner(t)
	seedUnit(t, s, "unit-1", "Sarah: let's sync tomorrow at 3pm\nBen: can you send the photos?")

	first, err := r.Run("local", "unit-1", Options{})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := r.Run("local", "unit-1", Options{Force: true})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if first.CandidatesGenerated != second.CandidatesGenerated {
		t.Errorf("candidate counts differ across identical runs: %d vs %d",
			first.CandidatesGenerated, second.CandidatesGenerated)
	}

	stored, err := s.ListCandidates("local", "", "unit-1", 100, 0)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(stored) != second.CandidatesGenerated {
		t.Errorf("stored %d candidates after re-run, want %d (not doubled)", len(stored), second.CandidatesGenerated)
	}

	if n := countRuns(t, s, "unit-1"); n != 2 {
		t.Errorf("audit runs = %d, want 2 (one per attempt)", n)
	}

	unit, _ := s.GetTextUnit("unit-1", "local")
	if unit.ExtractionStatus != "completed" {
		t.Errorf("unit status = %q, want completed", unit.ExtractionStatus)
	}
}

func TestRun_ConflictWithoutForce(t *testing.T) {
	r, s := newTestRunner(t)
	seedUnit(t, s, "unit-1", "Sarah: let's sync tomorrow at 3pm")

	if _, err := r.Run("local", "unit-1", Options{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	_, err := r.Run("local", "unit-1", Options{})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second Run error = %v, want storage.ErrConflict", err)
	}

	// A refused claim performs no extraction, so no audit record is added.
	if n := countRuns(t, s, "unit-1"); n != 1 {
		t.Errorf("audit runs = %d, want 1", n)
	}
}

func TestRun_ForbiddenContentFailsClosed(t *testing.T) {
	r, s := newTestRunner(t)
	seedUnit(t, s, "unit-1", "Ben: I'm stuck on the visa form and it feels urgent to me")

	out, err := r.Run("local", "unit-1", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Valid {
		t.Fatal("valid = true for output quoting a forbidden term")
	}
	if out.Status != "failed" {
		t.Errorf("status = %q, want %q", out.Status, "failed")
	}
	if out.ErrorType != "forbidden_content" {
		t.Errorf("errorType = %q, want %q", out.ErrorType, "forbidden_content")
	}
	if out.UnitStatus != "failed" {
		t.Errorf("unit status = %q, want %q", out.UnitStatus, "failed")
	}

	stored, err := s.ListCandidates("local", "", "unit-1", 100, 0)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("stored %d candidates from a failed run, want 0", len(stored))
	}

	run := latestRun(t, s, "unit-1")
	if run.Status != "failed" {
		t.Errorf("audit status = %q, want failed", run.Status)
	}
	if run.ErrorType != "forbidden_content" {
		t.Errorf("audit errorType = %q, want forbidden_content", run.ErrorType)
	}
	if !strings.Contains(run.ErrorDetails, "urgent") {
		t.Errorf("audit details = %q, want the offending term recorded", run.ErrorDetails)
	}
}

func TestRun_FailedRunKeepsPriorCandidates(t *testing.T) {
	r, s := newTestRunner(t)

	id, err := s.UpsertEvent(storage.Event{
		ID:              "ev-1",
		UserID:          "local",
		SourceID:        "manual",
		ExternalEventID: "uid-1",
		Title:           "Walk",
		StartsAt:        time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
		Attendees:       `["Sarah"]`,
	})
	if err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}
	unit, err := s.UpsertEventUnit(id, "local", "Sarah offered to water the plants next week.", "unit-ev")
	if err != nil {
		t.Fatalf("UpsertEventUnit: %v", err)
	}

	first, err := r.Run("local", unit.ID, Options{})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.CandidatesGenerated == 0 {
		t.Fatal("first run generated no candidates")
	}

	// New notes that will trip the vocabulary guard on re-extraction.
	if _, err := s.UpsertEventUnit(id, "local", "Sarah said the repair is urgent, she offered to call.", "unused"); err != nil {
		t.Fatalf("UpsertEventUnit rewrite: %v", err)
	}

	second, err := r.Run("local", unit.ID, Options{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Valid {
		t.Fatal("second run valid = true, want guard rejection")
	}

	// Failed output is discarded wholesale; the earlier accepted set stays.
	stored, err := s.ListCandidates("local", "", unit.ID, 100, 0)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(stored) != first.CandidatesGenerated {
		t.Errorf("stored %d candidates after failed re-run, want %d", len(stored), first.CandidatesGenerated)
	}
}

func TestRun_NoSignalsFound(t *testing.T) {
	r, s := newTestRunner(t)
	seedUnit(t, s, "unit-1", "ok\nfine\nbye")

	out, err := r.Run("local", "unit-1", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Valid {
		t.Fatalf("valid = false, errors = %v", out.Errors)
	}
	if out.CandidatesGenerated != 0 {
		t.Fatalf("candidates = %d, want 0", out.CandidatesGenerated)
	}
	if out.UnitStatus != "no_signals_found" {
		t.Errorf("unit status = %q, want %q", out.UnitStatus, "no_signals_found")
	}

	run := latestRun(t, s, "unit-1")
	if run.Status != "success" {
		t.Errorf("audit status = %q, want success", run.Status)
	}
	if run.CandidateCount != 0 {
		t.Errorf("audit candidate count = %d, want 0", run.CandidateCount)
	}
}

func TestRun_UnknownModel(t *testing.T) {
	r, s := newTestRunner(t)
	seedUnit(t, s, "unit-1", "Sarah: let's sync tomorrow at 3pm")

	_, err := r.Run("local", "unit-1", Options{Model: "cloud-v2"})
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("error = %v, want ErrUnknownModel", err)
	}

	// Nothing ran: no audit record, unit untouched.
	runs, err := s.ListExtractionRuns("local", "unit-1", 10)
	if err != nil {
		t.Fatalf("ListExtractionRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("audit runs = %d, want 0", len(runs))
	}
	unit, err := s.GetTextUnit("unit-1", "local")
	if err != nil {
		t.Fatalf("GetTextUnit: %v", err)
	}
	if unit.ExtractionStatus != "unprocessed" {
		t.Errorf("unit status = %q, want unprocessed", unit.ExtractionStatus)
	}
}

func TestRun_UnitNotFound(t *testing.T) {
	r, _ := newTestRunner(t)

	_, err := r.Run("local", "missing", Options{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want storage.ErrNotFound", err)
	}
}

func TestRun_EventVariant(t *testing.T) {
	r, s := newTestRunner(t)

	id, err := s.UpsertEvent(storage.Event{
		ID:              "ev-1",
		UserID:          "local",
		SourceID:        "manual",
		ExternalEventID: "uid-1",
		Title:           "Dinner",
		StartsAt:        time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC),
		Attendees:       `["Dana Hall","Igor"]`,
	})
	if err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}
	unit, err := s.UpsertEventUnit(id, "local", "Dana Hall offered to host next time.\nBring the photo album.", "unit-ev")
	if err != nil {
		t.Fatalf("UpsertEventUnit: %v", err)
	}

	out, err := r.Run("local", unit.ID, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Valid {
		t.Fatalf("valid = false, errors = %v", out.Errors)
	}
	if out.UnitStatus != "completed" {
		t.Errorf("unit status = %q, want completed", out.UnitStatus)
	}

	stored, err := s.ListCandidates("local", "", unit.ID, 100, 0)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	var mention bool
	for _, c := range stored {
		if c.SignalType == "pattern" && strings.Contains(c.Label, "Dana Hall") {
			mention = true
		}
		if strings.Contains(c.Label, "Igor") {
			t.Errorf("attendee %q not present in notes produced candidate %q", "Igor", c.Label)
		}
	}
	if !mention {
		t.Error("no attendee-mention candidate for Dana Hall")
	}
}

type stubEngine struct {
	name string
	raw  []byte
	err  error
}

func (e stubEngine) Name() string { return e.name }
func (e stubEngine) Run(storage.TextUnit, []string) ([]byte, error) {
	return e.raw, e.err
}

func TestRun_MalformedEngineOutput(t *testing.T) {
	r, s := newTestRunner(t)
	seedUnit(t, s, "unit-1", "Sarah: let's sync tomorrow at 3pm")
	r.Register(stubEngine{name: "stub-bad", raw: []byte("not json at all")})

	out, err := r.Run("local", "unit-1", Options{Model: "stub-bad"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Valid {
		t.Fatal("valid = true for malformed output")
	}
	if out.ErrorType != "invalid_json" {
		t.Errorf("errorType = %q, want %q", out.ErrorType, "invalid_json")
	}
	if out.UnitStatus != "failed" {
		t.Errorf("unit status = %q, want failed", out.UnitStatus)
	}

	run := latestRun(t, s, "unit-1")
	if run.Model != "stub-bad" {
		t.Errorf("audit model = %q, want stub-bad", run.Model)
	}
	if run.Status != "failed" {
		t.Errorf("audit status = %q, want failed", run.Status)
	}
	if run.RawOutput != "not json at all" {
		t.Errorf("audit raw output = %q, want the engine bytes", run.RawOutput)
	}
}

func TestRun_EngineErrorStillAudited(t *testing.T) {
	r, s := newTestRunner(t)
	seedUnit(t, s, "unit-1", "Sarah: let's sync tomorrow at 3pm")
	r.Register(stubEngine{name: "stub-err", err: errors.New("engine crashed")})

	out, err := r.Run("local", "unit-1", Options{Model: "stub-err"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Valid {
		t.Fatal("valid = true for an engine failure")
	}
	if out.Status != "failed" {
		t.Errorf("status = %q, want failed", out.Status)
	}

	if n := countRuns(t, s, "unit-1"); n != 1 {
		t.Errorf("audit runs = %d, want 1", n)
	}
}
