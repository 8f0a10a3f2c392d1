package misskey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/fediverse"
)

func TestNew_RejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"ftp://example.social", "example.social"} {
		if _, err := New(u, "token", nil); err == nil {
			t.Errorf("New(%q) accepted a non-http(s) URL", u)
		}
	}
}

func TestClient_CreateNote(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notes/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"createdNote": map[string]any{"id": "note-42"},
		})
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "secret-token", nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	id, err := c.CreateNote(context.Background(), "hello", fediverse.PostOptions{
		ReplyTo:    "note-1",
		Visibility: fediverse.VisibilityDirect,
	})
	if err != nil {
		t.Fatalf("CreateNote() error: %v", err)
	}
	if id != "note-42" {
		t.Errorf("CreateNote() id = %q, want note-42", id)
	}

	// Misskey carries the token and reply target in the JSON body.
	if gotBody["i"] != "secret-token" {
		t.Error("token not sent in request body")
	}
	if gotBody["text"] != "hello" || gotBody["replyId"] != "note-1" || gotBody["visibility"] != "specified" {
		t.Errorf("request body = %v", gotBody)
	}
}

func TestClient_CreateNoteError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "token", nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = c.CreateNote(context.Background(), "hello", fediverse.PostOptions{})
	if !errors.Is(err, fediverse.ErrPost) {
		t.Errorf("CreateNote() error = %v, want ErrPost", err)
	}
}

func TestClient_Me(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/i" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":       "bot-id",
			"username": "fedibot",
			"host":     "",
		})
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "token", nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	me, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me() error: %v", err)
	}
	if me.ID != "bot-id" || me.Username != "fedibot" {
		t.Errorf("Me() = %+v", me)
	}
	// An empty host means the local instance.
	if me.Host == "" {
		t.Error("Me() left Host empty, want the instance host")
	}
}
