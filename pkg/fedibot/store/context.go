// Package store – context.go implements the conversation context store.
//
// Each record tracks one live thread the bot is participating in. The
// record is keyed by the id of the most recently posted note and re-keyed
// every time the thread grows, so "reply to my last post" is always a
// single primary-key lookup. Old keys become unreachable on purpose: the
// store only ever holds live threads, not a full history index.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message in a conversation, in conversation order.
type Turn struct {
	// Role is who produced the turn.
	Role Role `json:"role"`

	// Text holds the ordered text parts of the turn.
	Text []string `json:"text"`

	// MediaURLs holds the media references carried by the turn.
	MediaURLs []string `json:"media_urls,omitempty"`
}

var (
	// ErrNotFound means no context exists under the given key. Callers
	// treat this as "do not respond", not as a fatal error.
	ErrNotFound = errors.New("chat context not found")

	// ErrDuplicateKey means a context already exists under the key passed
	// to Create. Keys are freshly issued note ids, so this should not
	// occur in normal operation.
	ErrDuplicateKey = errors.New("chat context already exists")
)

// contextRecord is the JSON document shape of one chat_contexts row.
type contextRecord struct {
	Participants  []string `json:"participants"`
	Turns         []Turn   `json:"turns"`
	AttachedMedia []string `json:"attached_media"`
}

// ContextStore persists conversation contexts in the bot database.
// Safe for concurrent use; every mutation runs in its own transaction.
type ContextStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewContextStore creates a context store on an open bot database.
func NewContextStore(db *sql.DB, logger *slog.Logger) *ContextStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextStore{
		db:     db,
		logger: logger.With("component", "contextstore"),
	}
}

// Create inserts a new context keyed by threadKey, seeded with one user
// turn and one model turn. Returns ErrDuplicateKey if the key is taken.
func (s *ContextStore) Create(ctx context.Context, threadKey, authorID, userText, modelText string, mediaURLs []string) (string, error) {
	rec := contextRecord{
		Participants: []string{authorID},
		Turns: []Turn{
			{Role: RoleUser, Text: []string{userText}, MediaURLs: mediaURLs},
			{Role: RoleModel, Text: []string{modelText}},
		},
		AttachedMedia: append([]string{}, mediaURLs...),
	}

	participants, turns, media, err := rec.marshal()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_contexts (last_chat_id, participants, turns, attached_media, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		threadKey, participants, turns, media, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("create context %q: %w", threadKey, ErrDuplicateKey)
		}
		return "", fmt.Errorf("create context %q: %w", threadKey, err)
	}

	s.logger.Debug("chat context created", "key", threadKey, "author", authorID)
	return threadKey, nil
}

// Extend re-keys the context found under oldKey to newKey and appends one
// user turn and one model turn, in that order. Any mediaURLs are appended
// to the accumulated attached media. The old key becomes permanently
// unreachable. Returns ErrNotFound if oldKey is untracked; the store is
// left unchanged in that case.
func (s *ContextStore) Extend(ctx context.Context, oldKey, newKey, userText, modelText string, mediaURLs []string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("extend context: begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := loadRecord(ctx, tx, oldKey)
	if err != nil {
		return "", err
	}

	rec.Turns = append(rec.Turns,
		Turn{Role: RoleUser, Text: []string{userText}, MediaURLs: mediaURLs},
		Turn{Role: RoleModel, Text: []string{modelText}},
	)
	rec.AttachedMedia = append(rec.AttachedMedia, mediaURLs...)

	participants, turns, media, err := rec.marshal()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx,
		`UPDATE chat_contexts
		 SET last_chat_id = ?, participants = ?, turns = ?, attached_media = ?, updated_at = ?
		 WHERE last_chat_id = ?`,
		newKey, participants, turns, media, now, oldKey,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("extend context %q: %w", newKey, ErrDuplicateKey)
		}
		return "", fmt.Errorf("extend context %q: %w", oldKey, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("extend context %q: commit: %w", oldKey, err)
	}

	s.logger.Debug("chat context extended", "old_key", oldKey, "new_key", newKey)
	return newKey, nil
}

// Exists reports whether a context is tracked under the given key.
func (s *ContextStore) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chat_contexts WHERE last_chat_id = ?`, key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe context %q: %w", key, err)
	}
	return true, nil
}

// History returns the turns of the context in conversation order.
// Returns ErrNotFound if the key is untracked.
func (s *ContextStore) History(ctx context.Context, key string) ([]Turn, error) {
	rec, err := loadRecord(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	return rec.Turns, nil
}

// AttachedMedia returns every media URL ever referenced in the thread,
// in reference order, duplicates included. Returns ErrNotFound if the
// key is untracked.
func (s *ContextStore) AttachedMedia(ctx context.Context, key string) ([]string, error) {
	rec, err := loadRecord(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	return rec.AttachedMedia, nil
}

// Participants returns the accounts that have posted into the thread.
func (s *ContextStore) Participants(ctx context.Context, key string) ([]string, error) {
	rec, err := loadRecord(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	return rec.Participants, nil
}

// querier abstracts *sql.DB and *sql.Tx for reads.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadRecord(ctx context.Context, q querier, key string) (*contextRecord, error) {
	var participants, turns, media string
	err := q.QueryRowContext(ctx,
		`SELECT participants, turns, attached_media FROM chat_contexts WHERE last_chat_id = ?`, key,
	).Scan(&participants, &turns, &media)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("context %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load context %q: %w", key, err)
	}

	rec := &contextRecord{}
	if err := json.Unmarshal([]byte(participants), &rec.Participants); err != nil {
		return nil, fmt.Errorf("decode participants for %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(turns), &rec.Turns); err != nil {
		return nil, fmt.Errorf("decode turns for %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(media), &rec.AttachedMedia); err != nil {
		return nil, fmt.Errorf("decode attached media for %q: %w", key, err)
	}
	return rec, nil
}

func (r *contextRecord) marshal() (participants, turns, media string, err error) {
	if r.Participants == nil {
		r.Participants = []string{}
	}
	if r.AttachedMedia == nil {
		r.AttachedMedia = []string{}
	}

	p, err := json.Marshal(r.Participants)
	if err != nil {
		return "", "", "", fmt.Errorf("encode participants: %w", err)
	}
	t, err := json.Marshal(r.Turns)
	if err != nil {
		return "", "", "", fmt.Errorf("encode turns: %w", err)
	}
	m, err := json.Marshal(r.AttachedMedia)
	if err != nil {
		return "", "", "", fmt.Errorf("encode attached media: %w", err)
	}
	return string(p), string(t), string(m), nil
}

// isUniqueViolation reports whether err is a primary-key conflict.
// Matched by message to avoid depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
