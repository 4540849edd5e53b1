package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/calmweave/keepsake/internal/pipeline"
	"github.com/calmweave/keepsake/internal/profile"
	"github.com/calmweave/keepsake/internal/review"
	"github.com/calmweave/keepsake/internal/storage"
	"github.com/calmweave/keepsake/internal/validate"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxIngestBodySize = 10 << 20 // 10MB

// DefaultUserID is the single owner of a local keepsake instance.
const DefaultUserID = "local"

// AppDeps holds everything the REST handlers need.
type AppDeps struct {
	Store       *storage.Store
	Profile     *profile.Manager
	Runner      *pipeline.Runner
	Review      *review.Manager
	Validator   *validate.Validator
	Token       string
	UserID      string   // defaults to DefaultUserID when empty
	CORSOrigins []string // empty disables CORS headers entirely
}

func (d AppDeps) userID() string {
	if d.UserID == "" {
		return DefaultUserID
	}
	return d.UserID
}

// NewHandler returns the full REST API. Everything under /v1 requires the
// bearer token; /health does not.
func NewHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/conversations", handleCreateConversation(deps))
		r.Get("/conversations", handleListConversations(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Get("/conversations/{id}/map", handleConversationMap(deps))

		r.Get("/text-units", handleListTextUnits(deps))
		r.Get("/text-units/{id}", handleGetTextUnit(deps))
		r.Post("/text-units/{id}/extract", handleExtract(deps))

		r.Get("/runs/{id}", handleGetRun(deps))

		r.Get("/candidates", handleListCandidates(deps))
		r.Get("/candidates/{id}", handleGetCandidate(deps))
		r.Post("/candidates/{id}/review", handleReview(deps))

		r.Get("/signals", handleListSignals(deps))
		r.Get("/signals/{id}", handleGetSignal(deps))
		r.Patch("/signals/{id}", handlePatchSignal(deps))

		r.Post("/events", handleUpsertEvents(deps))
		r.Get("/events", handleListEvents(deps))
		r.Get("/events/{id}", handleGetEvent(deps))
		r.Post("/events/{id}/notes", handleAppendEventNote(deps))
		r.Get("/events/{id}/notes", handleListEventNotes(deps))

		r.Post("/feeds", handleCreateFeed(deps))
		r.Get("/feeds", handleListFeeds(deps))
		r.Delete("/feeds/{id}", handleDeleteFeed(deps))
		r.Post("/feeds/{id}/sync", handleSyncFeed(deps))

		r.Get("/profile", handleGetProfile(deps))
		r.Patch("/profile", handlePatchProfile(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// httpErrorDetails is httpError with the validator's per-finding details and
// the audit run id attached, so a rejected response stays traceable.
func httpErrorDetails(w http.ResponseWriter, code int, errType, runID string, details []string, msg string) {
	errBody := map[string]any{
		"message": msg,
		"type":    errType,
	}
	if len(details) > 0 {
		errBody["details"] = details
	}
	body := map[string]any{"error": errBody}
	if runID != "" {
		body["ai_run_id"] = runID
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
