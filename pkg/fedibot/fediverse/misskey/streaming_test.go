package misskey

import (
	"context"
	"testing"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/fediverse"
)

func testStream(t *testing.T) *Stream {
	t.Helper()
	c, err := New("https://example.social", "token", nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return NewStream(c, nil)
}

func TestHandleFrame_Mention(t *testing.T) {
	t.Parallel()
	s := testStream(t)

	frame := `{
		"type": "channel",
		"body": {
			"id": "sub-1",
			"type": "mention",
			"body": {
				"id": "note-1",
				"userId": "user-1",
				"text": "@bot hello",
				"replyId": "note-0",
				"visibility": "specified",
				"mentions": ["bot-id"],
				"files": [
					{"type": "image/png", "url": "https://files/a.png"},
					{"type": "video/mp4", "url": "https://files/b.mp4"},
					{"type": "application/pdf", "url": "https://files/c.pdf"}
				]
			}
		}
	}`
	s.handleFrame(context.Background(), []byte(frame))

	var note *fediverse.Note
	select {
	case note = <-s.mentions:
	default:
		t.Fatal("mention frame did not emit a note")
	}

	if note.ID != "note-1" || note.AuthorID != "user-1" || note.ReplyToID != "note-0" {
		t.Errorf("note = %+v", note)
	}
	if note.Visibility != fediverse.VisibilityDirect {
		t.Errorf("Visibility = %q, want specified", note.Visibility)
	}
	wantTypes := []string{"image", "video", "file"}
	if len(note.Attachments) != len(wantTypes) {
		t.Fatalf("attachments = %+v, want 3", note.Attachments)
	}
	for i, want := range wantTypes {
		if note.Attachments[i].Type != want {
			t.Errorf("attachment %d type = %q, want %q", i, note.Attachments[i].Type, want)
		}
	}
}

func TestHandleFrame_ReactionNotification(t *testing.T) {
	t.Parallel()
	s := testStream(t)

	frame := `{
		"type": "channel",
		"body": {
			"id": "sub-1",
			"type": "notification",
			"body": {
				"type": "reaction",
				"userId": "user-1",
				"reaction": "🎉",
				"note": {"id": "note-1"}
			}
		}
	}`
	s.handleFrame(context.Background(), []byte(frame))

	select {
	case r := <-s.reactions:
		if r.NoteID != "note-1" || r.UserID != "user-1" || r.Emoji != "🎉" {
			t.Errorf("reaction = %+v", r)
		}
	default:
		t.Fatal("reaction notification did not emit")
	}
}

func TestHandleFrame_IgnoredFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
	}{
		{"not a channel frame", `{"type": "noteUpdated", "body": {}}`},
		{"unrelated channel event", `{"type": "channel", "body": {"type": "renote", "body": {}}}`},
		{"non-reaction notification", `{"type": "channel", "body": {"type": "notification", "body": {"type": "follow", "userId": "u1"}}}`},
		{"reaction without note", `{"type": "channel", "body": {"type": "notification", "body": {"type": "reaction", "userId": "u1"}}}`},
		{"malformed json", `{"type": "channel", "bo`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testStream(t)
			s.handleFrame(context.Background(), []byte(tt.frame))

			select {
			case note := <-s.mentions:
				t.Errorf("unexpected mention emitted: %+v", note)
			case r := <-s.reactions:
				t.Errorf("unexpected reaction emitted: %+v", r)
			default:
			}
		})
	}
}

func TestBroadType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime string
		want string
	}{
		{"image/webp", "image"},
		{"video/webm", "video"},
		{"audio/ogg", "audio"},
		{"text/plain", "file"},
		{"", "file"},
	}
	for _, tt := range tests {
		if got := broadType(tt.mime); got != tt.want {
			t.Errorf("broadType(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}
