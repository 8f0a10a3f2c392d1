// Package bot – aichat.go implements the conversational mention handler.
//
// For every mention the module runs a fixed decision pipeline: self and
// relevance filters, slash-command detection, the permission gate, then a
// reply-vs-new-conversation branch. Replies extend an existing chat
// context (re-keying it to the freshly posted note), new conversations
// create one. Conversation failures are logged but never posted; command
// failures are reported back to the invoking user.
package bot

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/ai"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/fediverse"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/mediacache"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/store"
)

// commandAddUser is the slash command that authorizes a new user.
const commandAddUser = "add_user"

var (
	// leadingMention strips the bot mention token at the start of a note,
	// with or without an instance host part.
	leadingMention = regexp.MustCompile(`^@[A-Za-z0-9_]+(?:@[A-Za-z0-9_.-]+)?\s*`)

	// slashCommand matches "/command rest-of-text".
	slashCommand = regexp.MustCompile(`^/(\w+)\s*(.*)$`)
)

// AIChatConfig configures the mention handler.
type AIChatConfig struct {
	// BotID is the bot's own account id, resolved once at startup and
	// passed in explicitly.
	BotID string

	// OpenCommands, when true, lets any account run slash commands.
	// When false (default) commands are permission-gated like
	// conversational mentions.
	OpenCommands bool
}

// AIChat is the mention-driven conversation module.
type AIChat struct {
	cfg    AIChatConfig
	store  *store.ContextStore
	perms  *store.PermissionRegistry
	media  *mediacache.Cache
	gen    ai.Generator
	poster fediverse.Poster
	logger *slog.Logger

	// threadLocks serializes read-then-extend per thread key so two
	// near-simultaneous replies into the same thread cannot both extend
	// from the same snapshot. The historical behavior raced here; this is
	// a deliberate correctness improvement.
	threadLocks stripedMutex
}

// NewAIChat creates the conversation module.
func NewAIChat(cfg AIChatConfig, contexts *store.ContextStore, perms *store.PermissionRegistry,
	media *mediacache.Cache, gen ai.Generator, poster fediverse.Poster, logger *slog.Logger) *AIChat {
	if logger == nil {
		logger = slog.Default()
	}
	return &AIChat{
		cfg:    cfg,
		store:  contexts,
		perms:  perms,
		media:  media,
		gen:    gen,
		poster: poster,
		logger: logger.With("component", "aichat"),
	}
}

// Name implements Module.
func (m *AIChat) Name() string { return "aichat" }

// InstallHooks implements Module.
func (m *AIChat) InstallHooks() Hooks {
	return Hooks{OnMention: m.handleMention}
}

// handleMention runs the decision pipeline for one mention event.
func (m *AIChat) handleMention(ctx context.Context, note *fediverse.Note) error {
	// Never answer our own posts.
	if note.AuthorID == m.cfg.BotID {
		return nil
	}
	// Only act on notes that actually mention the bot.
	if !mentionsAccount(note, m.cfg.BotID) {
		return nil
	}

	text := sanitizeText(note.Text)

	if cmd, ok := matchCommand(text); ok && cmd == commandAddUser {
		allowed := m.cfg.OpenCommands
		if !allowed {
			permitted, err := m.perms.IsPermitted(ctx, note.AuthorID)
			if err != nil {
				return err
			}
			allowed = permitted
		}
		if !allowed {
			m.logger.Debug("command from unauthorized account ignored",
				"note", note.ID, "author", note.AuthorID)
			return nil
		}
		return m.handleAddUser(ctx, note)
	}

	// Conversation gate: non-empty text, the bot is the only account
	// copied in (keeps it out of group threads), and the author is
	// authorized.
	if note.Text == "" || len(note.Mentions) != 1 {
		return nil
	}
	permitted, err := m.perms.IsPermitted(ctx, note.AuthorID)
	if err != nil {
		return err
	}
	if !permitted {
		m.logger.Debug("mention from unauthorized account ignored",
			"note", note.ID, "author", note.AuthorID)
		return nil
	}

	if note.ReplyToID != "" {
		return m.processReply(ctx, note, text)
	}
	return m.processNewConversation(ctx, note, text)
}

// processReply continues a tracked conversation thread.
func (m *AIChat) processReply(ctx context.Context, note *fediverse.Note, text string) error {
	target := note.ReplyToID

	unlock := m.threadLocks.lock(target)
	defer unlock()

	exists, err := m.store.Exists(ctx, target)
	if err != nil {
		return err
	}
	if !exists {
		// The bot never answers a thread it did not start or extend.
		m.logger.Debug("reply to untracked thread ignored", "note", note.ID, "target", target)
		return nil
	}

	// Fresh attachments win; otherwise carry the thread's accumulated
	// media forward so follow-up questions still see the images.
	imageURLs := imageURLsOf(note)
	promptURLs := imageURLs
	if len(promptURLs) == 0 {
		promptURLs, err = m.store.AttachedMedia(ctx, target)
		if err != nil {
			return err
		}
	}

	history, err := m.store.History(ctx, target)
	if err != nil {
		return err
	}

	msgs := historyToMessages(history)
	userMsg, err := m.buildUserMessage(ctx, text, promptURLs)
	if err != nil {
		return err
	}
	msgs = append(msgs, userMsg)

	response, err := m.gen.Generate(ctx, msgs)
	if err != nil {
		return err
	}

	postID, err := m.reply(ctx, note, response)
	if err != nil {
		return err
	}

	if _, err := m.store.Extend(ctx, target, postID, text, response, imageURLs); err != nil {
		return err
	}

	m.logger.Info("reply posted", "note", note.ID, "thread", target, "post", postID)
	return nil
}

// processNewConversation starts a new thread from a non-reply mention.
func (m *AIChat) processNewConversation(ctx context.Context, note *fediverse.Note, text string) error {
	imageURLs := imageURLsOf(note)

	userMsg, err := m.buildUserMessage(ctx, text, imageURLs)
	if err != nil {
		return err
	}

	response, err := m.gen.Generate(ctx, []ai.Message{userMsg})
	if err != nil {
		return err
	}

	postID, err := m.reply(ctx, note, response)
	if err != nil {
		return err
	}

	if _, err := m.store.Create(ctx, postID, note.AuthorID, text, response, imageURLs); err != nil {
		return err
	}

	m.logger.Info("conversation started", "note", note.ID, "post", postID)
	return nil
}

// handleAddUser authorizes the one other account mentioned in a direct
// note. Every failure on this path is reported back to the invoking user
// as a reply, never left silent.
func (m *AIChat) handleAddUser(ctx context.Context, note *fediverse.Note) error {
	if note.Visibility != fediverse.VisibilityDirect {
		_, err := m.reply(ctx, note,
			"The /add_user command can only be used in a direct note.")
		return err
	}

	targets := otherMentions(note, m.cfg.BotID)
	if len(targets) != 1 {
		_, err := m.reply(ctx, note,
			"No user specified to add. Please mention exactly one user.")
		return err
	}
	target := targets[0]

	if err := m.perms.Add(ctx, target, note.AuthorID); err != nil {
		m.logger.Error("add_user failed", "note", note.ID, "target", target, "error", err)
		if _, replyErr := m.reply(ctx, note,
			fmt.Sprintf("Error adding user %s: %v", target, err)); replyErr != nil {
			return errors.Join(err, replyErr)
		}
		return nil
	}

	m.logger.Info("permitted user added via command",
		"note", note.ID, "target", target, "by", note.AuthorID)
	_, err := m.reply(ctx, note,
		fmt.Sprintf("User %s has been added to the permitted users list.", target))
	return err
}

// reply posts text as a reply to note with the same visibility.
func (m *AIChat) reply(ctx context.Context, note *fediverse.Note, text string) (string, error) {
	postID, err := m.poster.CreateNote(ctx, text, fediverse.PostOptions{
		ReplyTo:    note.ID,
		Visibility: note.Visibility,
	})
	if err != nil {
		return "", fmt.Errorf("reply to %s: %w", note.ID, err)
	}
	return postID, nil
}

// buildUserMessage assembles the new user turn: the sanitized text plus
// one inline part per resolved image.
func (m *AIChat) buildUserMessage(ctx context.Context, text string, imageURLs []string) (ai.Message, error) {
	parts := []ai.Part{{Text: text}}
	for _, url := range imageURLs {
		payload, err := m.media.Resolve(ctx, url)
		if err != nil {
			return ai.Message{}, err
		}
		parts = append(parts, ai.Part{Inline: &ai.InlineMedia{
			Data:     payload.Data,
			MimeType: payload.MimeType,
		}})
	}
	return ai.Message{Role: ai.RoleUser, Parts: parts}, nil
}

// historyToMessages converts stored turns into prompt messages. Stored
// turns contribute text only; media is attached on the live turn.
func historyToMessages(turns []store.Turn) []ai.Message {
	msgs := make([]ai.Message, 0, len(turns)+1)
	for _, turn := range turns {
		role := ai.RoleUser
		if turn.Role == store.RoleModel {
			role = ai.RoleModel
		}
		parts := make([]ai.Part, 0, len(turn.Text))
		for _, t := range turn.Text {
			parts = append(parts, ai.Part{Text: t})
		}
		msgs = append(msgs, ai.Message{Role: role, Parts: parts})
	}
	return msgs
}

// sanitizeText strips the leading mention token and surrounding space.
func sanitizeText(text string) string {
	return strings.TrimSpace(leadingMention.ReplaceAllString(text, ""))
}

// matchCommand extracts a leading slash-command token, if any.
func matchCommand(text string) (string, bool) {
	match := slashCommand.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return match[1], true
}

func mentionsAccount(note *fediverse.Note, accountID string) bool {
	for _, id := range note.Mentions {
		if id == accountID {
			return true
		}
	}
	return false
}

// otherMentions returns the mentioned accounts other than the bot.
func otherMentions(note *fediverse.Note, botID string) []string {
	var others []string
	for _, id := range note.Mentions {
		if id != botID {
			others = append(others, id)
		}
	}
	return others
}

// imageURLsOf collects the URLs of image attachments on a note.
func imageURLsOf(note *fediverse.Note) []string {
	var urls []string
	for _, a := range note.Attachments {
		if a.Type == "image" {
			urls = append(urls, a.URL)
		}
	}
	return urls
}

// stripedMutex provides per-key mutual exclusion with a fixed number of
// lock stripes. Collisions across keys only cost extra serialization.
type stripedMutex struct {
	stripes [64]sync.Mutex
}

func (s *stripedMutex) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &s.stripes[h.Sum32()%uint32(len(s.stripes))]
	m.Lock()
	return m.Unlock
}
