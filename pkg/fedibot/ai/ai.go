// Package ai defines the prompt contract between the bot and the
// generative backend, plus the Gemini implementation. The dispatcher only
// depends on the Generator interface; prompts are ordered sequences of
// turns whose parts are either text or inline media.
package ai

import (
	"context"
	"errors"
)

// Role identifies who produced a prompt turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// InlineMedia is a media part embedded directly in a prompt.
type InlineMedia struct {
	Data     []byte
	MimeType string
}

// Part is one element of a turn: text or inline media, never both.
type Part struct {
	Text   string
	Inline *InlineMedia
}

// Message is one turn of a prompt, in conversation order.
type Message struct {
	Role  Role
	Parts []Part
}

// Generator produces a response for an ordered multi-turn prompt.
// A single blocking call; no streaming.
type Generator interface {
	Generate(ctx context.Context, msgs []Message) (string, error)
}

// ErrGeneration indicates the generative backend failed to respond.
var ErrGeneration = errors.New("response generation failed")

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}
