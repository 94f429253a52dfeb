package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/yuzhe-s/chat-memo/internal/notes"
)

func decodeBody[T any](t *testing.T, body string) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("failed to decode body %s: %v", body, err)
	}
	return payload
}

func itoa(value uint) string {
	return strconv.FormatUint(uint64(value), 10)
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err != errMissingNotesService {
		t.Fatalf("expected missing notes service error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{NotesService: &notes.Service{}}); err != errMissingIdentityStore {
		t.Fatalf("expected missing identity store error, got %v", err)
	}
}

func TestSessionIssuesStableIdentity(t *testing.T) {
	server := newTestServer(t)

	first := server.get(t, "/api/session")
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	cookie := identityCookie(t, first)
	if !cookie.HttpOnly {
		t.Fatalf("expected identity cookie to be http only")
	}
	issued := decodeBody[sessionResponse](t, first.Body.String())
	if issued.UserID == "" {
		t.Fatalf("expected a user id")
	}

	second := server.get(t, "/api/session", cookie)
	if again := decodeBody[sessionResponse](t, second.Body.String()); again.UserID != issued.UserID {
		t.Fatalf("expected identity %q to be stable, got %q", issued.UserID, again.UserID)
	}
}

func TestNoteEndpoints(t *testing.T) {
	server := newTestServer(t)
	public := server.createNote(t, notes.NoteDraft{Title: "public", IsPublic: true, TagNames: []string{"go"}})
	server.createNote(t, notes.NoteDraft{Title: "hidden"})

	listed := decodeBody[notesResponse](t, server.get(t, "/api/notes").Body.String())
	if len(listed.Notes) != 1 || listed.Notes[0].ID != public.ID {
		t.Fatalf("expected only the public note, got %#v", listed.Notes)
	}

	viewed := server.get(t, "/api/notes/"+itoa(public.ID))
	if viewed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", viewed.Code)
	}
	if note := decodeBody[noteResponse](t, viewed.Body.String()).Note; note.ViewCount != 1 || len(note.Tags) != 1 {
		t.Fatalf("unexpected viewed note: %#v", note)
	}

	testCases := []struct {
		name     string
		target   string
		status   int
		expected string
	}{
		{name: "missing-note", target: "/api/notes/9999", status: http.StatusNotFound, expected: `{"error":"note_not_found"}`},
		{name: "malformed-id", target: "/api/notes/abc", status: http.StatusBadRequest, expected: `{"error":"invalid_note_id"}`},
		{name: "malformed-share-key", target: "/api/share/bad!", status: http.StatusBadRequest, expected: `{"error":"invalid_share_key"}`},
		{name: "unknown-share-key", target: "/api/share/ZZZZZZZZ", status: http.StatusNotFound, expected: `{"error":"note_not_found"}`},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := server.get(t, testCase.target)
			if recorder.Code != testCase.status {
				t.Fatalf("expected %d, got %d", testCase.status, recorder.Code)
			}
			if recorder.Body.String() != testCase.expected {
				t.Fatalf("unexpected body: %s", recorder.Body.String())
			}
		})
	}

	shared := server.get(t, "/api/share/"+strings.ToLower(*public.ShareKey))
	if shared.Code != http.StatusOK {
		t.Fatalf("expected share lookup to normalise the key, got %d", shared.Code)
	}
	if note := decodeBody[noteResponse](t, shared.Body.String()).Note; note.ID != public.ID || note.ViewCount != 2 {
		t.Fatalf("unexpected shared note: %#v", note)
	}
}

func TestSearchAndTagEndpoints(t *testing.T) {
	server := newTestServer(t)
	server.createNote(t, notes.NoteDraft{Title: "Go release notes", IsPublic: true, TagNames: []string{"go", "release"}})
	server.createNote(t, notes.NoteDraft{Title: "Go meetup", IsPublic: true, TagNames: []string{"go"}})
	server.createNote(t, notes.NoteDraft{Title: "Rust notes", IsPublic: true, TagNames: []string{"release"}})

	testCases := []struct {
		name     string
		target   string
		expected int
	}{
		{name: "text", target: "/api/search?q=go", expected: 2},
		{name: "text-and-tags", target: "/api/search?q=notes&tags=release", expected: 2},
		{name: "all-tags-repeated", target: "/api/search?tags=go&tags=release", expected: 1},
		{name: "all-tags-comma", target: "/api/search?tags=go,release", expected: 1},
		{name: "no-match", target: "/api/search?q=python", expected: 0},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			result := decodeBody[notesResponse](t, server.get(t, testCase.target).Body.String())
			if len(result.Notes) != testCase.expected {
				t.Fatalf("expected %d notes, got %d", testCase.expected, len(result.Notes))
			}
		})
	}

	if recorder := server.get(t, "/api/search?q="+strings.Repeat("x", 201)); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected oversized query to be rejected, got %d", recorder.Code)
	}

	tags := decodeBody[tagsResponse](t, server.get(t, "/api/tags").Body.String())
	if len(tags.Tags) != 2 {
		t.Fatalf("expected two tags, got %#v", tags.Tags)
	}
	for _, tag := range tags.Tags {
		if tag.NoteCount != 2 {
			t.Fatalf("expected each tag on two notes, got %#v", tag)
		}
	}
}

func TestAdminRequiresPassword(t *testing.T) {
	server := newTestServer(t)
	server.createNote(t, notes.NoteDraft{Title: "private note"})
	if _, err := server.notes.CreateTag(context.Background(), "zeta", ""); err != nil {
		t.Fatalf("unexpected tag error: %v", err)
	}
	if _, err := server.notes.CreateTag(context.Background(), "alpha", ""); err != nil {
		t.Fatalf("unexpected tag error: %v", err)
	}

	if recorder := server.get(t, "/admin?password=wrong"); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}

	recorder := server.get(t, "/admin?password="+testAdminPassword)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	response := decodeBody[adminResponse](t, recorder.Body.String())
	if response.Stats.TotalNotes != 1 || response.Stats.ActiveTags != 2 || response.Stats.TotalMessages != 0 {
		t.Fatalf("unexpected stats: %#v", response.Stats)
	}
	if response.Stats.TotalVisitors != 2 {
		t.Fatalf("expected both admin requests to be counted as visitors, got %d", response.Stats.TotalVisitors)
	}
	if len(response.Notes) != 1 || response.Notes[0].IsPublic {
		t.Fatalf("expected private notes in the admin view, got %#v", response.Notes)
	}
	if len(response.Tags) != 2 || response.Tags[0].Name != "alpha" {
		t.Fatalf("expected tags sorted by name, got %#v", response.Tags)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	server := newTestServer(t)

	health := server.get(t, "/healthz")
	if health.Code != http.StatusOK || health.Body.String() != `{"status":"ok"}` {
		t.Fatalf("unexpected health response: %d %s", health.Code, health.Body.String())
	}
	if len(health.Result().Cookies()) != 0 {
		t.Fatalf("expected health checks not to issue identities")
	}

	server.get(t, "/api/notes/42")
	scrape := server.get(t, "/metrics")
	if scrape.Code != http.StatusOK {
		t.Fatalf("expected metrics to be served, got %d", scrape.Code)
	}
	if !strings.Contains(scrape.Body.String(), `chatmemo_http_requests_total{method="GET",path="/api/notes/:id",status="404"}`) {
		t.Fatalf("expected route template label in metrics output")
	}
}

func TestAccessLogRecordsRequests(t *testing.T) {
	server := newTestServer(t)
	server.get(t, "/api/session")

	entries := server.logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/api/session" || fields["status"] != int64(http.StatusOK) {
		t.Fatalf("unexpected access log fields: %#v", fields)
	}
	if userID, _ := fields["user_id"].(string); userID == "" {
		t.Fatalf("expected access log to carry the user id")
	}
}
