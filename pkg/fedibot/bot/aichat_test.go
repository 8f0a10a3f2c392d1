package bot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/ai"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/fediverse"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/mediacache"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/store"
)

// ---------- Fakes ----------

type fakeGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  [][]ai.Message
}

func (g *fakeGenerator) Generate(_ context.Context, msgs []ai.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, msgs)
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type postedNote struct {
	Text string
	Opts fediverse.PostOptions
}

type fakePoster struct {
	mu    sync.Mutex
	seq   int
	err   error
	posts []postedNote
}

func (p *fakePoster) CreateNote(_ context.Context, text string, opts fediverse.PostOptions) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.seq++
	p.posts = append(p.posts, postedNote{Text: text, Opts: opts})
	return fmt.Sprintf("post-%d", p.seq), nil
}

func (p *fakePoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}

func (p *fakePoster) last(t *testing.T) postedNote {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.posts) == 0 {
		t.Fatal("nothing was posted")
	}
	return p.posts[len(p.posts)-1]
}

// ---------- Fixture ----------

type chatFixture struct {
	module   *AIChat
	contexts *store.ContextStore
	perms    *store.PermissionRegistry
	gen      *fakeGenerator
	poster   *fakePoster
}

func newChatFixture(t *testing.T, openCommands bool) *chatFixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &chatFixture{
		contexts: store.NewContextStore(db, nil),
		perms:    store.NewPermissionRegistry(db, nil),
		gen:      &fakeGenerator{response: "generated reply"},
		poster:   &fakePoster{},
	}
	f.module = NewAIChat(
		AIChatConfig{BotID: "bot", OpenCommands: openCommands},
		f.contexts, f.perms,
		mediacache.New(time.Hour, 0, nil),
		f.gen, f.poster, nil,
	)
	return f
}

func (f *chatFixture) permit(t *testing.T, userID string) {
	t.Helper()
	if err := f.perms.Add(context.Background(), userID, "test"); err != nil {
		t.Fatalf("permit %s: %v", userID, err)
	}
}

func mentionNote(id, author, text string) *fediverse.Note {
	return &fediverse.Note{
		ID:         id,
		AuthorID:   author,
		Text:       text,
		Visibility: fediverse.VisibilityHome,
		Mentions:   []string{"bot"},
	}
}

// ---------- Decision pipeline ----------

func TestAIChat_NewConversation(t *testing.T) {
	t.Parallel()
	f := newChatFixture(t, false)
	f.permit(t, "u1")
	ctx := context.Background()

	if err := f.module.handleMention(ctx, mentionNote("n1", "u1", "@bot hello")); err != nil {
		t.Fatalf("handleMention() error: %v", err)
	}

	// Single-turn prompt with the sanitized text.
	if f.gen.calls() != 1 {
		t.Fatalf("generator called %d times, want 1", f.gen.calls())
	}
	prompt := f.gen.prompts[0]
	if len(prompt) != 1 || prompt[0].Role != ai.RoleUser || prompt[0].Parts[0].Text != "hello" {
		t.Errorf("prompt = %+v, want single user turn %q", prompt, "hello")
	}

	// The reply targets the inbound note with its visibility.
	post := f.poster.last(t)
	if post.Text != "generated reply" || post.Opts.ReplyTo != "n1" || post.Opts.Visibility != fediverse.VisibilityHome {
		t.Errorf("posted %+v, want reply to n1", post)
	}

	// The context is keyed by the bot's new post.
	if exists, _ := f.contexts.Exists(ctx, "post-1"); !exists {
		t.Fatal("context not created under the new post id")
	}
	turns, err := f.contexts.History(ctx, "post-1")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(turns) != 2 || turns[0].Text[0] != "hello" || turns[1].Text[0] != "generated reply" {
		t.Errorf("seeded turns = %+v", turns)
	}
}

func TestAIChat_ReplyExtendsThread(t *testing.T) {
	t.Parallel()
	f := newChatFixture(t, false)
	f.permit(t, "u1")
	ctx := context.Background()

	if err := f.module.handleMention(ctx, mentionNote("n1", "u1", "@bot hello")); err != nil {
		t.Fatalf("first handleMention() error: %v", err)
	}

	reply := mentionNote("n2", "u1", "@bot how are you")
	reply.ReplyToID = "post-1"
	if err := f.module.handleMention(ctx, reply); err != nil {
		t.Fatalf("second handleMention() error: %v", err)
	}

	// The second prompt carries the 2-turn history plus the new turn.
	if f.gen.calls() != 2 {
		t.Fatalf("generator called %d times, want 2", f.gen.calls())
	}
	prompt := f.gen.prompts[1]
	if len(prompt) != 3 {
		t.Fatalf("reply prompt has %d turns, want 3", len(prompt))
	}
	if prompt[2].Parts[0].Text != "how are you" {
		t.Errorf("new turn text = %q, want %q", prompt[2].Parts[0].Text, "how are you")
	}

	// The thread re-keys to the newest post; 4 turns in order.
	if exists, _ := f.contexts.Exists(ctx, "post-1"); exists {
		t.Error("old thread key still reachable")
	}
	turns, err := f.contexts.History(ctx, "post-2")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(turns) != 4 || turns[2].Text[0] != "how are you" {
		t.Errorf("extended turns = %+v", turns)
	}
}

func TestAIChat_IgnoredEvents(t *testing.T) {
	t.Parallel()

	untrackedReply := mentionNote("n1", "u1", "@bot hi")
	untrackedReply.ReplyToID = "unknown-post"

	groupNote := mentionNote("n1", "u1", "@bot @u2 hi both")
	groupNote.Mentions = []string{"bot", "u2"}

	notForBot := mentionNote("n1", "u1", "@other hi")
	notForBot.Mentions = []string{"other"}

	tests := []struct {
		name string
		note *fediverse.Note
	}{
		{"own post", mentionNote("n1", "bot", "@bot echo")},
		{"bot not mentioned", notForBot},
		{"unpermitted author", mentionNote("n1", "stranger", "@bot hi")},
		{"empty text", mentionNote("n1", "u1", "")},
		{"group thread", groupNote},
		{"reply to untracked thread", untrackedReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newChatFixture(t, false)
			f.permit(t, "u1")

			if err := f.module.handleMention(context.Background(), tt.note); err != nil {
				t.Fatalf("handleMention() error: %v", err)
			}
			if f.gen.calls() != 0 {
				t.Error("generator was called for an ignored event")
			}
			if f.poster.count() != 0 {
				t.Error("a reply was posted for an ignored event")
			}
		})
	}
}

// ---------- Commands ----------

func addUserNote(author, target string) *fediverse.Note {
	note := mentionNote("cmd-1", author, "@bot /add_user @"+target)
	note.Visibility = fediverse.VisibilityDirect
	note.Mentions = []string{"bot", target}
	return note
}

func TestAIChat_AddUser(t *testing.T) {
	t.Parallel()
	f := newChatFixture(t, false)
	f.permit(t, "u1")
	ctx := context.Background()

	if err := f.module.handleMention(ctx, addUserNote("u1", "u2")); err != nil {
		t.Fatalf("handleMention() error: %v", err)
	}

	permitted, err := f.perms.IsPermitted(ctx, "u2")
	if err != nil {
		t.Fatalf("IsPermitted() error: %v", err)
	}
	if !permitted {
		t.Error("target user was not authorized")
	}
	post := f.poster.last(t)
	if post.Opts.ReplyTo != "cmd-1" || post.Opts.Visibility != fediverse.VisibilityDirect {
		t.Errorf("confirmation posted as %+v", post.Opts)
	}
	if f.gen.calls() != 0 {
		t.Error("command invoked the generator")
	}
}

func TestAIChat_AddUserRequiresDirectVisibility(t *testing.T) {
	t.Parallel()
	f := newChatFixture(t, false)
	f.permit(t, "u1")
	ctx := context.Background()

	note := addUserNote("u1", "u2")
	note.Visibility = fediverse.VisibilityPublic
	if err := f.module.handleMention(ctx, note); err != nil {
		t.Fatalf("handleMention() error: %v", err)
	}

	if permitted, _ := f.perms.IsPermitted(ctx, "u2"); permitted {
		t.Error("registry changed despite wrong visibility")
	}
	// The restriction is explained in a reply.
	if f.poster.count() != 1 {
		t.Fatalf("%d notes posted, want 1", f.poster.count())
	}
}

func TestAIChat_AddUserRequiresOneTarget(t *testing.T) {
	t.Parallel()
	f := newChatFixture(t, false)
	f.permit(t, "u1")
	ctx := context.Background()

	note := addUserNote("u1", "u2")
	note.Mentions = []string{"bot"}
	if err := f.module.handleMention(ctx, note); err != nil {
		t.Fatalf("handleMention() error: %v", err)
	}

	if permitted, _ := f.perms.IsPermitted(ctx, "u2"); permitted {
		t.Error("registry changed without a target mention")
	}
	if f.poster.count() != 1 {
		t.Fatalf("%d notes posted, want 1", f.poster.count())
	}
}

func TestAIChat_CommandPermissionPolicy(t *testing.T) {
	t.Parallel()

	// Default policy: commands from unknown accounts are ignored outright.
	t.Run("gated", func(t *testing.T) {
		t.Parallel()
		f := newChatFixture(t, false)

		if err := f.module.handleMention(context.Background(), addUserNote("stranger", "u2")); err != nil {
			t.Fatalf("handleMention() error: %v", err)
		}
		if permitted, _ := f.perms.IsPermitted(context.Background(), "u2"); permitted {
			t.Error("unauthorized command mutated the registry")
		}
		if f.poster.count() != 0 {
			t.Error("unauthorized command produced a reply")
		}
	})

	// Open policy: anyone may run commands.
	t.Run("open", func(t *testing.T) {
		t.Parallel()
		f := newChatFixture(t, true)

		if err := f.module.handleMention(context.Background(), addUserNote("stranger", "u2")); err != nil {
			t.Fatalf("handleMention() error: %v", err)
		}
		if permitted, _ := f.perms.IsPermitted(context.Background(), "u2"); !permitted {
			t.Error("open-command policy did not authorize the target")
		}
	})
}

// ---------- Media ----------

func TestAIChat_CarriesAttachedMediaForward(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(srv.Close)

	f := newChatFixture(t, false)
	f.permit(t, "u1")
	ctx := context.Background()

	first := mentionNote("n1", "u1", "@bot what is this?")
	first.Attachments = []fediverse.Attachment{{Type: "image", URL: srv.URL + "/a.png"}}
	if err := f.module.handleMention(ctx, first); err != nil {
		t.Fatalf("first handleMention() error: %v", err)
	}

	// The new user turn carries the resolved image inline.
	prompt := f.gen.prompts[0]
	if len(prompt[0].Parts) != 2 || prompt[0].Parts[1].Inline == nil {
		t.Fatalf("first prompt parts = %+v, want text + inline image", prompt[0].Parts)
	}
	if prompt[0].Parts[1].Inline.MimeType != "image/png" {
		t.Errorf("inline mime = %q", prompt[0].Parts[1].Inline.MimeType)
	}

	// A follow-up without attachments inherits the thread's media.
	followUp := mentionNote("n2", "u1", "@bot zoom in")
	followUp.ReplyToID = "post-1"
	if err := f.module.handleMention(ctx, followUp); err != nil {
		t.Fatalf("second handleMention() error: %v", err)
	}

	second := f.gen.prompts[1]
	newTurn := second[len(second)-1]
	if len(newTurn.Parts) != 2 || newTurn.Parts[1].Inline == nil {
		t.Errorf("follow-up turn parts = %+v, want inherited inline image", newTurn.Parts)
	}

	// Only turns with fresh attachments extend the accumulated media.
	media, err := f.contexts.AttachedMedia(ctx, "post-2")
	if err != nil {
		t.Fatalf("AttachedMedia() error: %v", err)
	}
	if len(media) != 1 {
		t.Errorf("attached media = %v, want the original single URL", media)
	}
}

// ---------- Failure containment ----------

func TestAIChat_PostFailureLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()
	f := newChatFixture(t, false)
	f.permit(t, "u1")
	f.poster.err = fmt.Errorf("instance unreachable")
	ctx := context.Background()

	err := f.module.handleMention(ctx, mentionNote("n1", "u1", "@bot hello"))
	if err == nil {
		t.Fatal("handleMention() succeeded despite post failure")
	}

	// No context may exist for a reply that never went out.
	if exists, _ := f.contexts.Exists(ctx, "post-1"); exists {
		t.Error("context created for a failed post")
	}
}

func TestAIChat_GenerationFailureIsSilent(t *testing.T) {
	t.Parallel()
	f := newChatFixture(t, false)
	f.permit(t, "u1")
	f.gen.err = ai.ErrGeneration

	err := f.module.handleMention(context.Background(), mentionNote("n1", "u1", "@bot hello"))
	if err == nil {
		t.Fatal("handleMention() succeeded despite generation failure")
	}
	// No partial or garbled reply reaches the user.
	if f.poster.count() != 0 {
		t.Error("a reply was posted despite generation failure")
	}
}

// ---------- Helpers ----------

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"@bot hello", "hello"},
		{"@bot@example.social hello there", "hello there"},
		{"no mention", "no mention"},
		{"@bot", ""},
		{"  @bot  spaced  ", "@bot  spaced"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := sanitizeText(tt.in); got != tt.want {
				t.Errorf("sanitizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMatchCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in  string
		cmd string
		ok  bool
	}{
		{"/add_user @u2", "add_user", true},
		{"/help", "help", true},
		{"hello /add_user", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			cmd, ok := matchCommand(tt.in)
			if cmd != tt.cmd || ok != tt.ok {
				t.Errorf("matchCommand(%q) = %q, %v, want %q, %v", tt.in, cmd, ok, tt.cmd, tt.ok)
			}
		})
	}
}
