package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calmweave/keepsake/internal/pipeline"
	"github.com/calmweave/keepsake/internal/review"
	"github.com/calmweave/keepsake/internal/storage"
)

func handleListTextUnits(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)
		status := r.URL.Query().Get("status")
		conversationID := r.URL.Query().Get("conversation")

		units, err := deps.Store.ListTextUnits(deps.userID(), status, conversationID, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list text units: %v", err)
			return
		}
		if units == nil {
			units = []storage.TextUnit{}
		}
		writeJSON(w, http.StatusOK, units)
	}
}

func handleGetTextUnit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		unit, err := deps.Store.GetTextUnit(id, deps.userID())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "text unit not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get text unit: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, unit)
	}
}

type extractRequest struct {
	Model string `json:"model"`
	Force bool   `json:"force"`
}

func handleExtract(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		out, err := deps.Runner.Run(deps.userID(), id, pipeline.Options{
			Model: req.Model,
			Force: req.Force,
		})
		switch {
		case errors.Is(err, pipeline.ErrUnknownModel):
			httpError(w, http.StatusUnprocessableEntity, "validation_error", "unknown model %q", req.Model)
			return
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "text unit not found")
			return
		case errors.Is(err, storage.ErrConflict):
			httpError(w, http.StatusConflict, "conflict", "text unit already processing or completed; re-run with force")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "extraction failed: %v", err)
			return
		}

		if !out.Valid {
			httpErrorDetails(w, http.StatusUnprocessableEntity, out.ErrorType, out.RunID, out.Errors, "extraction output rejected")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"ai_run_id":            out.RunID,
			"status":               out.Status,
			"candidates_generated": out.CandidatesGenerated,
			"unit_status":          out.UnitStatus,
		})
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		run, err := deps.Store.GetExtractionRun(id, deps.userID())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

// --- Candidates ---

func handleListCandidates(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)
		status := r.URL.Query().Get("status")
		textUnitID := r.URL.Query().Get("text_unit")

		cands, err := deps.Store.ListCandidates(deps.userID(), status, textUnitID, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list candidates: %v", err)
			return
		}
		if cands == nil {
			cands = []storage.Candidate{}
		}
		writeJSON(w, http.StatusOK, cands)
	}
}

func handleGetCandidate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		cand, err := deps.Store.GetCandidate(id, deps.userID())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "candidate not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get candidate: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, cand)
	}
}

type reviewRequest struct {
	Action        string            `json:"action"`
	Note          string            `json:"note"`
	Elevated      bool              `json:"elevated"`
	DeferredUntil string            `json:"deferred_until"`
	Edit          *review.EditPatch `json:"edit"`
}

func handleReview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		userID := deps.userID()

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		switch req.Action {
		case "accept":
			res, err := deps.Review.Accept(id, userID, review.AcceptOptions{
				Elevated: req.Elevated,
				Notes:    req.Note,
			})
			if err != nil {
				reviewError(w, err)
				return
			}
			code := http.StatusCreated
			if res.AlreadyExisted {
				code = http.StatusOK
			}
			writeJSON(w, code, map[string]any{
				"status":          "accepted",
				"signal_id":       res.SignalID,
				"already_existed": res.AlreadyExisted,
			})

		case "reject":
			if err := deps.Review.Reject(id, userID, req.Note); err != nil {
				reviewError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})

		case "defer":
			if req.DeferredUntil == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", review.ErrDeferDate)
				return
			}
			until, err := time.Parse(time.RFC3339, req.DeferredUntil)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "deferred_until must be RFC 3339: %v", err)
				return
			}
			if err := deps.Review.Defer(id, userID, until, req.Note); err != nil {
				reviewError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deferred"})

		case "edit":
			var patch review.EditPatch
			if req.Edit != nil {
				patch = *req.Edit
			}
			if err := deps.Review.Edit(id, userID, patch); err != nil {
				reviewError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})

		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action must be one of accept, reject, defer, edit")
		}
	}
}

func reviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "candidate not found")
	case errors.Is(err, review.ErrAlreadyReviewed):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, review.ErrDeferDate), errors.Is(err, review.ErrEmptyEdit):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "review failed: %v", err)
	}
}

// --- Signals ---

func handleListSignals(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)
		status := r.URL.Query().Get("status")
		q := r.URL.Query().Get("q")

		sigs, err := deps.Store.ListSignals(deps.userID(), status, q, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list signals: %v", err)
			return
		}
		if sigs == nil {
			sigs = []storage.Signal{}
		}
		writeJSON(w, http.StatusOK, sigs)
	}
}

func handleGetSignal(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sig, err := deps.Store.GetSignal(id, deps.userID())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "signal not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get signal: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sig)
	}
}

type signalPatch struct {
	Status     *string  `json:"status"`
	Notes      *string  `json:"notes"`
	UserWeight *float64 `json:"user_weight"`
}

func handlePatchSignal(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		userID := deps.userID()

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req signalPatch
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Status == nil && req.Notes == nil && req.UserWeight == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "nothing to update")
			return
		}
		if req.Status != nil && *req.Status != "open" && *req.Status != "closed" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "status must be open or closed")
			return
		}

		err := deps.Store.UpdateSignal(id, userID, storage.SignalUpdate{
			Status:     req.Status,
			Notes:      req.Notes,
			UserWeight: req.UserWeight,
		})
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "signal not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update signal: %v", err)
			return
		}

		sig, err := deps.Store.GetSignal(id, userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load signal: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sig)
	}
}
