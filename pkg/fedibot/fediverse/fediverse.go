// Package fediverse defines the types and interfaces the bot uses to talk
// to a federated social network instance. The core never speaks a wire
// protocol directly; it consumes mention events from an EventSource and
// publishes replies through a Poster. Concrete implementations live in
// subpackages (currently misskey).
package fediverse

import (
	"context"
	"errors"
)

// Visibility is the audience scope of a note. Values follow the Misskey
// wire protocol; "specified" is the direct-message kind.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityHome      Visibility = "home"
	VisibilityFollowers Visibility = "followers"
	VisibilityDirect    Visibility = "specified"
)

// Attachment is a media file referenced by a note.
type Attachment struct {
	// Type is the broad media kind ("image", "video", "audio", ...).
	Type string

	// URL is the remote location of the file.
	URL string
}

// Note is one inbound message the bot was notified about.
type Note struct {
	// ID is the note identifier on the instance.
	ID string

	// AuthorID is the account that posted the note.
	AuthorID string

	// Text is the plain text content.
	Text string

	// Visibility is the audience scope of the note.
	Visibility Visibility

	// ReplyToID is the note being replied to, empty if not a reply.
	ReplyToID string

	// Mentions lists the account IDs mentioned in the note.
	Mentions []string

	// Attachments lists media files attached to the note.
	Attachments []Attachment
}

// Reaction is an emoji reaction on one of the bot's notes.
type Reaction struct {
	// NoteID is the note that was reacted to.
	NoteID string

	// UserID is the account that reacted.
	UserID string

	// Emoji is the reaction emoji or custom emoji name.
	Emoji string
}

// Account describes an account on the instance.
type Account struct {
	ID       string
	Username string
	Host     string
}

// EventSource delivers inbound events from the instance's streaming API.
type EventSource interface {
	// Connect establishes the stream connection and starts delivering
	// events. It returns once the connection is up; reconnection after
	// transient failures is the implementation's responsibility.
	Connect(ctx context.Context) error

	// Mentions returns the channel that emits mention notifications.
	Mentions() <-chan *Note

	// Reactions returns the channel that emits reaction notifications.
	Reactions() <-chan *Reaction

	// Close tears down the stream and closes the event channels.
	Close() error
}

// PostOptions controls how an outbound note is published.
type PostOptions struct {
	// ReplyTo makes the note a reply to the given note ID.
	ReplyTo string

	// Visibility is the audience scope for the note.
	Visibility Visibility
}

// Poster publishes notes on behalf of the bot's account.
type Poster interface {
	// CreateNote publishes a note and returns its new ID.
	CreateNote(ctx context.Context, text string, opts PostOptions) (string, error)
}

// AccountResolver looks up the bot's own account at startup.
type AccountResolver interface {
	// Me returns the account the credentials belong to.
	Me(ctx context.Context) (*Account, error)
}

// ErrPost indicates an outbound note could not be published.
var ErrPost = errors.New("failed to post note")
