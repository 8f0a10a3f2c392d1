// Package bot wires the streaming event source to installable modules.
// A module exposes hooks for the event kinds it cares about; the bot
// iterates the installed hooks for every inbound event, each event on its
// own worker-pool task.
package bot

import (
	"context"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/fediverse"
)

// Hooks is the capability set a module can implement. Nil hooks are
// skipped during dispatch.
type Hooks struct {
	// OnMention is called for every mention notification.
	OnMention func(ctx context.Context, note *fediverse.Note) error

	// OnReaction is called for every emoji reaction on the bot's notes.
	OnReaction func(ctx context.Context, reaction *fediverse.Reaction) error
}

// Module is an installable bot feature.
type Module interface {
	// Name identifies the module in logs.
	Name() string

	// InstallHooks returns the hooks the module wants registered.
	InstallHooks() Hooks
}
