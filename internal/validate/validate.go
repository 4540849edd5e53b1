// Package validate enforces the extraction output contract: shape, required
// fields, enum membership, length bounds, and the forbidden-vocabulary
// policy. Anything ambiguous fails closed; no candidate reaches storage
// without passing here first.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/calmweave/keepsake/internal/vocab"
)

// Variant selects the per-candidate field requirements. Segment extraction
// additionally requires the rationale pairing (why_surfaced, ambiguity_note);
// event extraction does not.
type Variant int

const (
	Segment Variant = iota
	Event
)

// Result is the validation outcome. Status is the run status the audit
// record stores: "success", "partial" (data-quality defects), or "failed"
// (malformed output or a policy breach).
type Result struct {
	Valid     bool
	Errors    []string
	Status    string
	ErrorType string
}

var (
	signalTypes      = []string{"pattern", "opportunity", "warning", "insight", "promise"}
	confidenceLevels = []string{"explicit", "inferred"}
	riskLevels       = []string{"low", "medium", "high"}
	runStatuses      = []string{"success", "partial", "failed"}
)

// Validator checks serialized extraction responses. The guard is injected so
// the forbidden-term policy has one source of truth across all call sites.
type Validator struct {
	guard vocab.Guard
}

// New returns a Validator using the given vocabulary guard.
func New(guard vocab.Guard) *Validator {
	return &Validator{guard: guard}
}

// Response validates a full serialized extraction response. Check order:
//
//  1. the raw bytes must decode to a JSON object, else invalid_json;
//  2. the whole serialized response is scanned for forbidden terms, and any
//     hit fails the run immediately, bypassing every later check; a policy
//     breach anywhere, including inside free-text rationale, poisons the
//     entire output;
//  3. top-level shape (status enum, candidates and errors arrays);
//  4. per-candidate required fields, enums, and length bounds.
//
// Only steps 1 and 2 force status "failed"; accumulated shape and field
// defects yield "partial" with errorType missing_required_fields.
func (v *Validator) Response(raw []byte, variant Variant) Result {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{
			Valid:     false,
			Errors:    []string{fmt.Sprintf("response is not valid JSON: %v", err)},
			Status:    "failed",
			ErrorType: "invalid_json",
		}
	}
	obj, ok := decoded.(map[string]any)
	if !ok || obj == nil {
		return Result{
			Valid:     false,
			Errors:    []string{"response is not a JSON object"},
			Status:    "failed",
			ErrorType: "invalid_json",
		}
	}

	if hits := v.guard.Scan(string(raw)); len(hits) > 0 {
		errs := make([]string, len(hits))
		for i, term := range hits {
			errs[i] = fmt.Sprintf("forbidden term %q found in response", term)
		}
		return Result{Valid: false, Errors: errs, Status: "failed", ErrorType: "forbidden_content"}
	}

	var errs []string

	status, _ := obj["status"].(string)
	if !contains(runStatuses, status) {
		errs = append(errs, fmt.Sprintf("status must be one of %s", strings.Join(runStatuses, ", ")))
	}

	cands, ok := obj["candidates"].([]any)
	if !ok {
		errs = append(errs, "candidates must be an array")
	}
	if _, ok := obj["errors"].([]any); !ok {
		errs = append(errs, "errors must be an array")
	}

	for i, item := range cands {
		errs = append(errs, v.candidateErrors(item, i, variant)...)
	}

	if len(errs) > 0 {
		return Result{Valid: false, Errors: errs, Status: "partial", ErrorType: "missing_required_fields"}
	}
	return Result{Valid: true, Status: "success"}
}

// MapOutput checks serialized map output (conversation maps) against the
// vocabulary guard. Map generation has no candidate contract, but the policy
// still applies to every byte served.
func (v *Validator) MapOutput(raw []byte) Result {
	if hits := v.guard.Scan(string(raw)); len(hits) > 0 {
		errs := make([]string, len(hits))
		for i, term := range hits {
			errs[i] = fmt.Sprintf("forbidden term %q found in response", term)
		}
		return Result{Valid: false, Errors: errs, Status: "failed", ErrorType: "forbidden_content"}
	}
	return Result{Valid: true, Status: "success"}
}

func (v *Validator) candidateErrors(raw any, i int, variant Variant) []string {
	cand, ok := raw.(map[string]any)
	if !ok {
		return []string{fmt.Sprintf("candidates[%d] must be an object", i)}
	}

	var errs []string

	required := []string{"signal_type", "label", "description", "confidence_level", "excerpt", "risk_of_misinterpretation"}
	if variant == Segment {
		required = append(required, "why_surfaced", "ambiguity_note")
	}
	for _, field := range required {
		if s, _ := cand[field].(string); s == "" {
			errs = append(errs, fmt.Sprintf("candidates[%d].%s must be a non-empty string", i, field))
		}
	}

	if s, _ := cand["signal_type"].(string); s != "" && !contains(signalTypes, s) {
		errs = append(errs, fmt.Sprintf("candidates[%d].signal_type must be one of %s", i, strings.Join(signalTypes, ", ")))
	}
	if s, _ := cand["confidence_level"].(string); s != "" && !contains(confidenceLevels, s) {
		errs = append(errs, fmt.Sprintf("candidates[%d].confidence_level must be one of %s", i, strings.Join(confidenceLevels, ", ")))
	}
	if s, _ := cand["risk_of_misinterpretation"].(string); s != "" && !contains(riskLevels, s) {
		errs = append(errs, fmt.Sprintf("candidates[%d].risk_of_misinterpretation must be one of %s", i, strings.Join(riskLevels, ", ")))
	}

	if s, _ := cand["label"].(string); s != "" {
		if n := utf8.RuneCountInString(s); n < 5 || n > 100 {
			errs = append(errs, fmt.Sprintf("candidates[%d].label must be 5-100 characters", i))
		}
	}
	if s, _ := cand["description"].(string); s != "" {
		if n := utf8.RuneCountInString(s); n < 10 || n > 500 {
			errs = append(errs, fmt.Sprintf("candidates[%d].description must be 10-500 characters", i))
		}
	}

	return errs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
