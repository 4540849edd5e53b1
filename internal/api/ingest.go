package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/calmweave/keepsake/internal/hubs"
	"github.com/calmweave/keepsake/internal/ingest"
	"github.com/calmweave/keepsake/internal/redact"
	"github.com/calmweave/keepsake/internal/storage"
	"github.com/calmweave/keepsake/internal/transcript"
)

var errNoContent = errors.New("no text content")

type conversationRequest struct {
	Title         string `json:"title"`
	Text          string `json:"text"`
	ContentBase64 string `json:"content_base64"`
	ContentType   string `json:"content_type"` // "text", "html", "pdf"; applies to content_base64 only
}

func handleCreateConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req conversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" && req.ContentBase64 == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of text or content_base64 is required")
			return
		}

		text, source, err := resolveContent(req)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		conv, units, err := ingestTranscript(deps.Store, deps.userID(), req.Title, source, text)
		if errors.Is(err, errNoContent) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content contains no text")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store conversation: %v", err)
			return
		}

		unitIDs := make([]string, len(units))
		for i, u := range units {
			unitIDs[i] = u.ID
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation_id": conv.ID,
			"text_unit_ids":   unitIDs,
			"status":          "stored",
		})
	}
}

// resolveContent turns the request into plain transcript text plus the
// source label recorded on the conversation.
func resolveContent(req conversationRequest) (string, string, error) {
	if req.ContentBase64 == "" {
		return req.Text, "paste", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		return "", "", errors.New("invalid base64 content")
	}

	switch req.ContentType {
	case "", "text":
		return string(decoded), "upload", nil
	case "html":
		text, err := flattenHTML(bytes.NewReader(decoded))
		if err != nil {
			return "", "", fmt.Errorf("parsing html: %w", err)
		}
		return text, "upload", nil
	case "pdf":
		text, err := pdfText(decoded)
		if err != nil {
			return "", "", fmt.Errorf("parsing pdf: %w", err)
		}
		return text, "upload", nil
	default:
		return "", "", fmt.Errorf("unsupported content_type %q", req.ContentType)
	}
}

// ingestTranscript scrubs contact details, segments the text and stores the
// conversation with its text units. Shared by the REST and MCP surfaces.
func ingestTranscript(store *storage.Store, userID, title, source, text string) (storage.Conversation, []storage.TextUnit, error) {
	scrubbed := redact.Scrub(text)
	segments := transcript.Segment(scrubbed, transcript.DefaultSegmentLines)
	if len(segments) == 0 {
		return storage.Conversation{}, nil, errNoContent
	}

	conv := storage.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateConversation(conv); err != nil {
		return storage.Conversation{}, nil, err
	}

	units := make([]storage.TextUnit, len(segments))
	for i, seg := range segments {
		units[i] = storage.TextUnit{
			ID:             uuid.New().String(),
			UserID:         userID,
			Kind:           "conversation",
			ConversationID: conv.ID,
			Seq:            i,
			RawText:        seg,
		}
	}
	if err := store.CreateTextUnits(units); err != nil {
		return storage.Conversation{}, nil, err
	}
	return conv, units, nil
}

// flattenHTML extracts the visible text of an HTML document, one text node
// per line. Script and style bodies are dropped.
func flattenHTML(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String(), nil
}

func pdfText(data []byte) (string, error) {
	rd, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := rd.GetPlainText()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", err
	}
	return b.String(), nil
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)

		convs, err := deps.Store.ListConversations(deps.userID(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}
		if convs == nil {
			convs = []storage.Conversation{}
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		conv, err := deps.Store.GetConversation(id, deps.userID())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleConversationMap(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		userID := deps.userID()

		if _, err := deps.Store.GetConversation(id, userID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		units, err := deps.Store.ListTextUnits(userID, "", id, 1000, 0)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list text units: %v", err)
			return
		}

		var lines []transcript.Line
		for _, u := range units {
			lines = append(lines, transcript.ParseLines(u.RawText)...)
		}

		m := hubs.Build(id, lines)
		b, err := json.Marshal(m)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal map: %v", err)
			return
		}

		// The bytes served are exactly the bytes the guard scanned.
		if res := deps.Validator.MapOutput(b); !res.Valid {
			httpErrorDetails(w, http.StatusUnprocessableEntity, res.ErrorType, "", res.Errors, "map output failed the vocabulary guard")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	}
}

// --- Events ---

type eventPayload struct {
	SourceID        string     `json:"source_id"`
	ExternalEventID string     `json:"external_event_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Location        string     `json:"location"`
	StartsAt        time.Time  `json:"starts_at"`
	EndsAt          *time.Time `json:"ends_at"`
	Attendees       []string   `json:"attendees"`
}

type eventsRequest struct {
	Events []eventPayload `json:"events"`
}

func handleUpsertEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req eventsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Events) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "events is required and must not be empty")
			return
		}

		// Validate every entry before touching the store.
		for i, ev := range req.Events {
			if ev.SourceID == "" || ev.ExternalEventID == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "events[%d]: source_id and external_event_id are required", i)
				return
			}
			if ev.StartsAt.IsZero() {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "events[%d]: starts_at is required", i)
				return
			}
		}

		userID := deps.userID()
		ids := make([]string, 0, len(req.Events))
		for i, ev := range req.Events {
			attendees := "[]"
			if len(ev.Attendees) > 0 {
				b, err := json.Marshal(ev.Attendees)
				if err != nil {
					httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal attendees: %v", err)
					return
				}
				attendees = string(b)
			}
			rec := storage.Event{
				ID:              uuid.New().String(),
				UserID:          userID,
				SourceID:        ev.SourceID,
				ExternalEventID: ev.ExternalEventID,
				Title:           ev.Title,
				Description:     ev.Description,
				Location:        ev.Location,
				StartsAt:        ev.StartsAt.UTC(),
				Attendees:       attendees,
			}
			if ev.EndsAt != nil {
				rec.EndsAt = ev.EndsAt.UTC()
			}
			id, err := deps.Store.UpsertEvent(rec)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "events[%d]: %v", i, err)
				return
			}
			ids = append(ids, id)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status": "stored",
			"ids":    ids,
		})
	}
}

func handleListEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)

		events, err := deps.Store.ListEvents(deps.userID(), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list events: %v", err)
			return
		}
		if events == nil {
			events = []storage.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func handleGetEvent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		ev, err := deps.Store.GetEvent(id, deps.userID())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get event: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	}
}

type noteRequest struct {
	Body string `json:"body"`
}

func handleAppendEventNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req noteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Body) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "body is required")
			return
		}

		noteID, unit, err := appendEventNote(deps.Store, deps.userID(), eventID, req.Body)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		if errors.Is(err, storage.ErrConflict) {
			httpError(w, http.StatusConflict, "conflict", "extraction in progress for this event's notes")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to append note: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"note_id":      noteID,
			"text_unit_id": unit.ID,
			"unit_status":  unit.ExtractionStatus,
		})
	}
}

// appendEventNote stores the note and refreshes the event's text unit with
// all notes joined. A unit mid-extraction rejects the append before anything
// is written. Shared by the REST and MCP surfaces.
func appendEventNote(store *storage.Store, userID, eventID, body string) (string, storage.TextUnit, error) {
	if _, err := store.GetEvent(eventID, userID); err != nil {
		return "", storage.TextUnit{}, err
	}

	existing, err := store.GetEventUnit(eventID, userID)
	switch {
	case err == nil:
		if existing.ExtractionStatus == "processing" {
			return "", storage.TextUnit{}, storage.ErrConflict
		}
	case errors.Is(err, storage.ErrNotFound):
		// First note for this event.
	default:
		return "", storage.TextUnit{}, err
	}

	scrubbed := redact.Scrub(body)
	note := storage.EventNote{
		ID:        uuid.New().String(),
		UserID:    userID,
		EventID:   eventID,
		Body:      scrubbed,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.AppendEventNote(note); err != nil {
		return "", storage.TextUnit{}, err
	}

	notes, err := store.ListEventNotes(eventID, userID)
	if err != nil {
		return "", storage.TextUnit{}, err
	}
	bodies := make([]string, len(notes))
	for i, n := range notes {
		bodies[i] = n.Body
	}

	unit, err := store.UpsertEventUnit(eventID, userID, strings.Join(bodies, "\n"), uuid.New().String())
	if err != nil {
		return "", storage.TextUnit{}, err
	}
	return note.ID, unit, nil
}

func handleListEventNotes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "id")

		if _, err := deps.Store.GetEvent(eventID, deps.userID()); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "event not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get event: %v", err)
			return
		}

		notes, err := deps.Store.ListEventNotes(eventID, deps.userID())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list notes: %v", err)
			return
		}
		if notes == nil {
			notes = []storage.EventNote{}
		}
		writeJSON(w, http.StatusOK, notes)
	}
}

// --- Calendar feeds ---

type feedRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func handleCreateFeed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req feedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		feed := storage.CalendarFeed{
			ID:        uuid.New().String(),
			UserID:    deps.userID(),
			Name:      req.Name,
			URL:       req.URL,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateFeed(feed); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create feed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, feed)
	}
}

func handleListFeeds(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feeds, err := deps.Store.ListFeeds(deps.userID())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list feeds: %v", err)
			return
		}
		if feeds == nil {
			feeds = []storage.CalendarFeed{}
		}
		writeJSON(w, http.StatusOK, feeds)
	}
}

func handleDeleteFeed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteFeed(id, deps.userID())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "feed not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete feed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleSyncFeed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		userID := deps.userID()

		if _, err := deps.Store.GetFeed(id, userID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "feed not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get feed: %v", err)
			return
		}

		job := ingest.SyncJob(id, userID)
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue sync: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "queued",
			"job_id": job.ID,
		})
	}
}

// --- Profile ---

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.GetProfile()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for key, value := range fields {
			if err := deps.Profile.SetField(key, value); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to set field %q: %v", key, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}
