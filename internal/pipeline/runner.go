// Package pipeline orchestrates extraction runs: it claims a text unit,
// invokes an extraction engine, validates the output, writes the audit
// record, and persists candidates only when validation passed.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calmweave/keepsake/internal/extract"
	"github.com/calmweave/keepsake/internal/storage"
	"github.com/calmweave/keepsake/internal/validate"
)

// DefaultModel is the engine used when a run names none.
const DefaultModel = "heuristic-v1"

var (
	// ErrUnknownModel means the requested engine is not registered. No run
	// record is written because no extraction was attempted.
	ErrUnknownModel = errors.New("unknown model")

	// ErrAuditWrite means the run's audit record could not be persisted. A
	// run without an audit record is treated as a run that did not happen.
	ErrAuditWrite = errors.New("audit write failed")
)

// Engine produces a serialized extraction response for one text unit. The
// output is untrusted: it goes through the validator before anything is
// stored, whichever engine produced it.
type Engine interface {
	Name() string
	Run(unit storage.TextUnit, attendees []string) ([]byte, error)
}

// HeuristicEngine wraps the deterministic rule-based extractor.
type HeuristicEngine struct {
	extractor *extract.Extractor
}

func NewHeuristicEngine() HeuristicEngine {
	return HeuristicEngine{extractor: extract.New()}
}

func (HeuristicEngine) Name() string { return DefaultModel }

func (e HeuristicEngine) Run(unit storage.TextUnit, attendees []string) ([]byte, error) {
	var resp extract.Response
	if unit.Kind == "event" {
		resp = e.extractor.EventNotes(unit.RawText, attendees)
	} else {
		resp = e.extractor.Transcript(unit.RawText)
	}
	return json.Marshal(resp)
}

// Options modify one extraction run.
type Options struct {
	Model string // empty selects DefaultModel
	Force bool   // re-run a unit that is already processing or completed
}

// Outcome reports one completed extraction attempt. Valid=false with a nil
// error is a recorded, audited validation failure, not an internal fault.
type Outcome struct {
	RunID               string
	Status              string
	ErrorType           string
	Errors              []string
	Valid               bool
	CandidatesGenerated int
	UnitStatus          string
}

// Runner coordinates the extract-validate-audit-persist sequence.
type Runner struct {
	store   *storage.Store
	val     *validate.Validator
	engines map[string]Engine
}

// New creates a Runner with the heuristic engine registered.
func New(store *storage.Store, val *validate.Validator) *Runner {
	r := &Runner{
		store:   store,
		val:     val,
		engines: make(map[string]Engine),
	}
	r.Register(NewHeuristicEngine())
	return r
}

// Register adds an engine. Not safe to call once runs are being served.
func (r *Runner) Register(e Engine) {
	r.engines[e.Name()] = e
}

// Run executes one extraction run on a text unit:
//
//  1. Resolve the engine; an unknown model aborts before any mutation.
//  2. Load the unit (ownership-scoped) and, for event units, the attendees.
//  3. Claim the unit: one conditional update flips it to 'processing', so
//     concurrent runs cannot both pass the guard. Without force a unit that
//     is already processing or completed yields storage.ErrConflict.
//  4. Invoke the engine and validate its serialized response.
//  5. Write the audit record. This happens on every path that reached the
//     engine; if the write fails the unit is failed and ErrAuditWrite
//     returned, because an unaudited run must not count.
//  6. Persist: validation failure fails the unit and keeps existing
//     candidates untouched; zero candidates marks no_signals_found; otherwise
//     the unit's candidates are replaced in one transaction and the unit
//     completes.
func (r *Runner) Run(userID, textUnitID string, opts Options) (Outcome, error) {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	engine, ok := r.engines[model]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	unit, err := r.store.GetTextUnit(textUnitID, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading text unit: %w", err)
	}

	var attendees []string
	if unit.Kind == "event" && unit.EventID != "" {
		ev, err := r.store.GetEvent(unit.EventID, userID)
		switch {
		case err == nil:
			if err := json.Unmarshal([]byte(ev.Attendees), &attendees); err != nil {
				slog.Warn("extraction: unreadable attendee list, scanning without it", "event", unit.EventID, "error", err)
			}
		case errors.Is(err, storage.ErrNotFound):
			// Orphaned unit; extract from the notes alone.
		default:
			return Outcome{}, fmt.Errorf("loading event: %w", err)
		}
	}

	if err := r.store.ClaimTextUnit(unit.ID, userID, opts.Force); err != nil {
		return Outcome{}, fmt.Errorf("claiming text unit: %w", err)
	}

	start := time.Now()
	raw, engineErr := engine.Run(unit, attendees)
	duration := time.Since(start)

	variant := validate.Segment
	if unit.Kind == "event" {
		variant = validate.Event
	}

	var res validate.Result
	var resp extract.Response
	if engineErr != nil {
		res = validate.Result{
			Valid:     false,
			Errors:    []string{fmt.Sprintf("engine %s returned no response: %v", model, engineErr)},
			Status:    "failed",
			ErrorType: "invalid_json",
		}
	} else {
		res = r.val.Response(raw, variant)
		if res.Valid {
			if err := json.Unmarshal(raw, &resp); err != nil {
				res = validate.Result{
					Valid:     false,
					Errors:    []string{fmt.Sprintf("response does not decode: %v", err)},
					Status:    "failed",
					ErrorType: "invalid_json",
				}
			}
		}
	}

	run := storage.ExtractionRun{
		ID:             uuid.New().String(),
		UserID:         userID,
		TextUnitID:     unit.ID,
		Model:          model,
		Status:         res.Status,
		ErrorType:      res.ErrorType,
		ErrorDetails:   marshalDetails(res.Errors),
		RawOutput:      string(raw),
		CandidateCount: len(resp.Candidates),
		DurationMS:     duration.Milliseconds(),
		CreatedAt:      time.Now(),
	}
	if err := r.store.CreateExtractionRun(run); err != nil {
		if serr := r.store.SetTextUnitStatus(unit.ID, userID, "failed"); serr != nil {
			slog.Warn("extraction: failing unit after audit write failure", "unit", unit.ID, "error", serr)
		}
		return Outcome{}, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	out := Outcome{
		RunID:               run.ID,
		Status:              res.Status,
		ErrorType:           res.ErrorType,
		Errors:              res.Errors,
		Valid:               res.Valid,
		CandidatesGenerated: len(resp.Candidates),
	}

	if !res.Valid {
		if err := r.store.SetTextUnitStatus(unit.ID, userID, "failed"); err != nil {
			return out, fmt.Errorf("marking unit failed: %w", err)
		}
		out.UnitStatus = "failed"
		return out, nil
	}

	if len(resp.Candidates) == 0 {
		if err := r.store.SetTextUnitStatus(unit.ID, userID, "no_signals_found"); err != nil {
			return out, fmt.Errorf("marking unit no_signals_found: %w", err)
		}
		out.UnitStatus = "no_signals_found"
		return out, nil
	}

	cands := make([]storage.Candidate, len(resp.Candidates))
	for i, c := range resp.Candidates {
		cands[i] = storage.Candidate{
			ID:                      uuid.New().String(),
			UserID:                  userID,
			TextUnitID:              unit.ID,
			RunID:                   run.ID,
			SignalType:              c.SignalType,
			Label:                   c.Label,
			Description:             c.Description,
			ConfidenceLevel:         c.ConfidenceLevel,
			Excerpt:                 c.Excerpt,
			ExcerptLocation:         c.ExcerptLocation,
			RiskOfMisinterpretation: c.RiskOfMisinterpretation,
			WhySurfaced:             c.WhySurfaced,
			AmbiguityNote:           c.AmbiguityNote,
			ReviewStatus:            "pending",
		}
	}
	if err := r.store.ReplaceCandidates(unit.ID, userID, cands); err != nil {
		if serr := r.store.SetTextUnitStatus(unit.ID, userID, "failed"); serr != nil {
			slog.Warn("extraction: failing unit after replace failure", "unit", unit.ID, "error", serr)
		}
		return out, fmt.Errorf("replacing candidates: %w", err)
	}
	if err := r.store.SetTextUnitStatus(unit.ID, userID, "completed"); err != nil {
		return out, fmt.Errorf("marking unit completed: %w", err)
	}
	out.UnitStatus = "completed"
	return out, nil
}

func marshalDetails(errs []string) string {
	if len(errs) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
