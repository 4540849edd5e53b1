package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calmweave/keepsake/internal/hubs"
	"github.com/calmweave/keepsake/internal/pipeline"
	"github.com/calmweave/keepsake/internal/profile"
	"github.com/calmweave/keepsake/internal/review"
	"github.com/calmweave/keepsake/internal/storage"
	"github.com/calmweave/keepsake/internal/validate"
	"github.com/calmweave/keepsake/internal/vocab"
)

const testToken = "test-token-12345"

func newTestDeps(t *testing.T) (AppDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	val := validate.New(vocab.Default())
	deps := AppDeps{
		Store:     store,
		Profile:   profile.NewManager(store),
		Runner:    pipeline.New(store, val),
		Review:    review.New(store),
		Validator: val,
		Token:     testToken,
	}
	return deps, store
}

func setupHandler(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	deps, store := newTestDeps(t)
	return NewHandler(deps), store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// ingestText stores a transcript over the API and returns the conversation
// and text unit IDs.
func ingestText(t *testing.T, h http.Handler, text string) (string, []string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"title": "test conversation", "text": text})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/conversations", string(body), testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("ingest status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		ConversationID string   `json:"conversation_id"`
		TextUnitIDs    []string `json:"text_unit_ids"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode ingest response: %v", err)
	}
	if resp.ConversationID == "" || len(resp.TextUnitIDs) == 0 {
		t.Fatalf("incomplete ingest response: %+v", resp)
	}
	return resp.ConversationID, resp.TextUnitIDs
}

func TestHealth_NoAuth(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %q, want ok status", rr.Body.String())
	}
}

func TestCreateConversation_Text(t *testing.T) {
	h, store := setupHandler(t)

	convID, unitIDs := ingestText(t, h, "Sarah: let's sync tomorrow at 3pm")
	if len(unitIDs) != 1 {
		t.Fatalf("got %d text units, want 1", len(unitIDs))
	}

	conv, err := store.GetConversation(convID, "local")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Source != "paste" {
		t.Errorf("Source = %q, want %q", conv.Source, "paste")
	}

	unit, err := store.GetTextUnit(unitIDs[0], "local")
	if err != nil {
		t.Fatalf("GetTextUnit: %v", err)
	}
	if unit.RawText != "Sarah: let's sync tomorrow at 3pm" {
		t.Errorf("RawText = %q", unit.RawText)
	}
	if unit.Kind != "conversation" {
		t.Errorf("Kind = %q, want %q", unit.Kind, "conversation")
	}
	if unit.ExtractionStatus != "unprocessed" {
		t.Errorf("ExtractionStatus = %q, want %q", unit.ExtractionStatus, "unprocessed")
	}
}

func TestCreateConversation_RedactsContacts(t *testing.T) {
	h, store := setupHandler(t)

	_, unitIDs := ingestText(t, h, "Sarah: reach me at sarah.h@example.com or 555-867-5309")

	unit, err := store.GetTextUnit(unitIDs[0], "local")
	if err != nil {
		t.Fatalf("GetTextUnit: %v", err)
	}
	if strings.Contains(unit.RawText, "sarah.h@example.com") {
		t.Errorf("stored text still carries the email: %q", unit.RawText)
	}
	if strings.Contains(unit.RawText, "555-867-5309") {
		t.Errorf("stored text still carries the phone number: %q", unit.RawText)
	}
	if !strings.Contains(unit.RawText, "[redacted-email]") {
		t.Errorf("missing email placeholder: %q", unit.RawText)
	}
	if !strings.Contains(unit.RawText, "[redacted-phone]") {
		t.Errorf("missing phone placeholder: %q", unit.RawText)
	}
}

func TestCreateConversation_SegmentsLongTranscript(t *testing.T) {
	h, store := setupHandler(t)

	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "Sarah: message number %d in a fairly long conversation\n", i)
	}
	convID, unitIDs := ingestText(t, h, b.String())

	if len(unitIDs) != 3 {
		t.Fatalf("got %d text units, want 3", len(unitIDs))
	}

	units, err := store.ListTextUnits("local", "", convID, 10, 0)
	if err != nil {
		t.Fatalf("ListTextUnits: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("stored %d units, want 3", len(units))
	}
	for i, u := range units {
		if u.Seq != i {
			t.Errorf("units[%d].Seq = %d, want %d", i, u.Seq, i)
		}
	}
}

func TestCreateConversation_Base64HTML(t *testing.T) {
	h, store := setupHandler(t)

	page := `<html><body><p>Sarah: hello from the garden</p><script>var x = 1;</script></body></html>`
	body, _ := json.Marshal(map[string]string{
		"title":          "upload",
		"content_base64": base64.StdEncoding.EncodeToString([]byte(page)),
		"content_type":   "html",
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/conversations", string(body), testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		ConversationID string   `json:"conversation_id"`
		TextUnitIDs    []string `json:"text_unit_ids"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)

	conv, err := store.GetConversation(resp.ConversationID, "local")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Source != "upload" {
		t.Errorf("Source = %q, want %q", conv.Source, "upload")
	}

	unit, err := store.GetTextUnit(resp.TextUnitIDs[0], "local")
	if err != nil {
		t.Fatalf("GetTextUnit: %v", err)
	}
	if unit.RawText != "Sarah: hello from the garden" {
		t.Errorf("RawText = %q, want flattened text without script body", unit.RawText)
	}
}

func TestCreateConversation_UnsupportedContentType(t *testing.T) {
	h, _ := setupHandler(t)

	body, _ := json.Marshal(map[string]string{
		"content_base64": base64.StdEncoding.EncodeToString([]byte("data")),
		"content_type":   "docx",
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/conversations", string(body), testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateConversation_MissingContent(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/conversations", `{"title":"empty"}`, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateConversation_NoAuth(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/conversations", `{"text":"hello"}`, ""))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestListConversations(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/conversations", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("empty list body = %q, want %q", body, "[]")
	}

	ingestText(t, h, "Sarah: first")
	ingestText(t, h, "Ben: second")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/conversations", "", testToken))

	var convs []storage.Conversation
	json.NewDecoder(rr.Body).Decode(&convs)
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/conversations/nonexistent", "", testToken))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestConversationMap(t *testing.T) {
	h, _ := setupHandler(t)

	convID, _ := ingestText(t, h, "Sarah: the garden needs water\nBen: the garden looks dry")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/conversations/"+convID+"/map", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var m hubs.Map
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("decode map: %v", err)
	}
	if m.ConversationID != convID {
		t.Errorf("ConversationID = %q, want %q", m.ConversationID, convID)
	}
	if len(m.Hubs) != 3 {
		t.Fatalf("got %d hubs, want 3: %+v", len(m.Hubs), m.Hubs)
	}
	if m.Hubs[0].Kind != "person" || m.Hubs[0].Name != "Ben" {
		t.Errorf("hubs[0] = %+v, want person Ben", m.Hubs[0])
	}
	if m.Hubs[2].Kind != "theme" || m.Hubs[2].Name != "garden" || m.Hubs[2].Mentions != 2 {
		t.Errorf("hubs[2] = %+v, want theme garden with 2 mentions", m.Hubs[2])
	}
}

func TestConversationMap_ForbiddenTermFailsClosed(t *testing.T) {
	h, _ := setupHandler(t)

	convID, _ := ingestText(t, h, "Sarah: rank the garden tasks for me\nBen: the garden is overgrown")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/conversations/"+convID+"/map", "", testToken))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusUnprocessableEntity, rr.Body.String())
	}

	var resp struct {
		Error struct {
			Type    string   `json:"type"`
			Details []string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Type != "forbidden_content" {
		t.Errorf("error type = %q, want %q", resp.Error.Type, "forbidden_content")
	}
	if len(resp.Error.Details) == 0 {
		t.Error("expected details naming the forbidden term")
	}
}

func TestConversationMap_NotFound(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/conversations/nonexistent/map", "", testToken))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestUpsertEvents(t *testing.T) {
	h, _ := setupHandler(t)

	body := `{"events":[{"source_id":"manual","external_event_id":"ext-1","title":"Dinner with Ben","starts_at":"2026-09-01T18:00:00Z","attendees":["Ben"]}]}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events", body, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Status string   `json:"status"`
		IDs    []string `json:"ids"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Status != "stored" || len(resp.IDs) != 1 {
		t.Fatalf("response = %+v, want stored with 1 id", resp)
	}

	// Same source and external ID resolves to the same event.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("repeat status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var second struct {
		IDs []string `json:"ids"`
	}
	json.NewDecoder(rr.Body).Decode(&second)
	if second.IDs[0] != resp.IDs[0] {
		t.Errorf("repeat upsert id = %q, want existing %q", second.IDs[0], resp.IDs[0])
	}
}

func TestUpsertEvents_MissingStartsAt(t *testing.T) {
	h, _ := setupHandler(t)

	body := `{"events":[{"source_id":"manual","external_event_id":"ext-1","title":"Dinner"}]}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events", body, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func createTestEvent(t *testing.T, h http.Handler) string {
	t.Helper()
	body := `{"events":[{"source_id":"manual","external_event_id":"ext-note","title":"Piano recital","starts_at":"2026-09-02T17:00:00Z"}]}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("event upsert status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		IDs []string `json:"ids"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	return resp.IDs[0]
}

func TestAppendEventNote(t *testing.T) {
	h, store := setupHandler(t)
	eventID := createTestEvent(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events/"+eventID+"/notes", `{"body":"Maya was nervous before going on"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		NoteID     string `json:"note_id"`
		TextUnitID string `json:"text_unit_id"`
		UnitStatus string `json:"unit_status"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.NoteID == "" || resp.TextUnitID == "" {
		t.Fatalf("incomplete response: %+v", resp)
	}
	if resp.UnitStatus != "unprocessed" {
		t.Errorf("unit_status = %q, want %q", resp.UnitStatus, "unprocessed")
	}

	// A second note joins the unit text.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events/"+eventID+"/notes", `{"body":"she played beautifully in the end"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("second note status = %d; body = %s", rr.Code, rr.Body.String())
	}

	unit, err := store.GetEventUnit(eventID, "local")
	if err != nil {
		t.Fatalf("GetEventUnit: %v", err)
	}
	want := "Maya was nervous before going on\nshe played beautifully in the end"
	if unit.RawText != want {
		t.Errorf("unit RawText = %q, want %q", unit.RawText, want)
	}
	if unit.ID != resp.TextUnitID {
		t.Errorf("unit ID changed across notes: %q -> %q", resp.TextUnitID, unit.ID)
	}
}

func TestAppendEventNote_ConflictWhileProcessing(t *testing.T) {
	h, store := setupHandler(t)
	eventID := createTestEvent(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events/"+eventID+"/notes", `{"body":"first note"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("first note status = %d", rr.Code)
	}

	unit, err := store.GetEventUnit(eventID, "local")
	if err != nil {
		t.Fatalf("GetEventUnit: %v", err)
	}
	if err := store.ClaimTextUnit(unit.ID, "local", false); err != nil {
		t.Fatalf("ClaimTextUnit: %v", err)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events/"+eventID+"/notes", `{"body":"second note"}`, testToken))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusConflict, rr.Body.String())
	}

	// Nothing was written for the rejected append.
	notes, err := store.ListEventNotes(eventID, "local")
	if err != nil {
		t.Fatalf("ListEventNotes: %v", err)
	}
	if len(notes) != 1 {
		t.Errorf("got %d notes, want 1", len(notes))
	}
}

func TestAppendEventNote_EventNotFound(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events/nonexistent/notes", `{"body":"note"}`, testToken))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestListEventNotes(t *testing.T) {
	h, _ := setupHandler(t)
	eventID := createTestEvent(t, h)

	for _, body := range []string{`{"body":"one"}`, `{"body":"two"}`} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events/"+eventID+"/notes", body, testToken))
		if rr.Code != http.StatusOK {
			t.Fatalf("note status = %d", rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/events/"+eventID+"/notes", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var notes []storage.EventNote
	json.NewDecoder(rr.Body).Decode(&notes)
	if len(notes) != 2 {
		t.Fatalf("got %d notes, want 2", len(notes))
	}
	if notes[0].Body != "one" || notes[1].Body != "two" {
		t.Errorf("notes out of order: %q, %q", notes[0].Body, notes[1].Body)
	}
}

func TestFeeds_CreateListSyncDelete(t *testing.T) {
	h, store := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/feeds", `{"name":"family","url":"https://calendar.example.com/family.ics"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var feed storage.CalendarFeed
	json.NewDecoder(rr.Body).Decode(&feed)
	if feed.ID == "" {
		t.Fatal("feed ID missing")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/feeds", "", testToken))
	var feeds []storage.CalendarFeed
	json.NewDecoder(rr.Body).Decode(&feeds)
	if len(feeds) != 1 {
		t.Fatalf("got %d feeds, want 1", len(feeds))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/feeds/"+feed.ID+"/sync", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("sync status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var syncResp map[string]string
	json.NewDecoder(rr.Body).Decode(&syncResp)
	if syncResp["status"] != "queued" || syncResp["job_id"] == "" {
		t.Fatalf("sync response = %+v", syncResp)
	}

	var jobType, payload string
	err := store.DB().QueryRow(`SELECT type, payload_json FROM jobs WHERE id = ?`, syncResp["job_id"]).Scan(&jobType, &payload)
	if err != nil {
		t.Fatalf("querying job: %v", err)
	}
	if jobType != "calendar_sync" {
		t.Errorf("job type = %q, want %q", jobType, "calendar_sync")
	}
	if !strings.Contains(payload, feed.ID) {
		t.Errorf("job payload %q missing feed id", payload)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/v1/feeds/"+feed.ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/feeds", "", testToken))
	feeds = nil
	json.NewDecoder(rr.Body).Decode(&feeds)
	if len(feeds) != 0 {
		t.Fatalf("got %d feeds after delete, want 0", len(feeds))
	}
}

func TestSyncFeed_NotFound(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/feeds/nonexistent/sync", "", testToken))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestCreateFeed_MissingURL(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/feeds", `{"name":"no url"}`, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetProfile(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/profile", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestPatchProfile(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/v1/profile", `{"display_name":"Avery","timezone":"Europe/Amsterdam"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/profile", "", testToken))

	var p profile.Profile
	json.NewDecoder(rr.Body).Decode(&p)
	if p.DisplayName != "Avery" {
		t.Errorf("DisplayName = %q, want %q", p.DisplayName, "Avery")
	}
	if p.Timezone != "Europe/Amsterdam" {
		t.Errorf("Timezone = %q, want %q", p.Timezone, "Europe/Amsterdam")
	}
}

func TestPatchProfile_UnknownKey(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/v1/profile", `{"favorite_color":"green"}`, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
