package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/fediverse"
)

const (
	// DefaultWorkers is the number of concurrent event tasks.
	DefaultWorkers = 4

	// DefaultQueueSize bounds the pending-event queue. Events arriving
	// while the queue is full are dropped with a warning; mentions are
	// best-effort, not exactly-once.
	DefaultQueueSize = 64
)

// Options tunes the bot's event handling.
type Options struct {
	Workers   int
	QueueSize int
}

type installed struct {
	name  string
	hooks Hooks
}

// task is one inbound event bound for the worker pool.
type task struct {
	interaction string
	note        *fediverse.Note
	reaction    *fediverse.Reaction
}

// Bot consumes events from an EventSource and dispatches them to the
// installed modules. Events are handled as independent tasks; no ordering
// is imposed between them.
type Bot struct {
	source  fediverse.EventSource
	logger  *slog.Logger
	workers int
	queue   chan task

	mu      sync.Mutex
	modules []installed
}

// New creates a bot on the given event source.
func New(source fediverse.EventSource, opts Options, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Bot{
		source:  source,
		logger:  logger.With("component", "bot"),
		workers: workers,
		queue:   make(chan task, queueSize),
	}
}

// Install registers a module. Must be called before Run.
func (b *Bot) Install(m Module) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modules = append(b.modules, installed{name: m.Name(), hooks: m.InstallHooks()})
	b.logger.Info("module installed", "module", m.Name())
}

// Run connects the event source and processes events until ctx is
// canceled or the source's channels close.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.source.Connect(ctx); err != nil {
		return fmt.Errorf("connect event source: %w", err)
	}
	defer b.source.Close()

	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.worker(ctx)
		}()
	}

	mentions := b.source.Mentions()
	reactions := b.source.Reactions()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case note, ok := <-mentions:
			if !ok {
				break loop
			}
			b.enqueue(task{interaction: uuid.NewString(), note: note})

		case reaction, ok := <-reactions:
			if !ok {
				break loop
			}
			b.enqueue(task{interaction: uuid.NewString(), reaction: reaction})
		}
	}

	close(b.queue)
	wg.Wait()
	return ctx.Err()
}

// enqueue hands a task to the worker pool, shedding when the queue is full.
func (b *Bot) enqueue(t task) {
	select {
	case b.queue <- t:
	default:
		b.logger.Warn("event queue full, dropping event", "interaction", t.interaction)
	}
}

// worker drains the queue, running each event through every installed
// hook. A hook failure is logged against that event only; it never affects
// the processing of other events.
func (b *Bot) worker(ctx context.Context) {
	for t := range b.queue {
		b.dispatch(ctx, t)
	}
}

func (b *Bot) dispatch(ctx context.Context, t task) {
	logger := b.logger.With("interaction", t.interaction)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling event", "panic", r)
		}
	}()

	b.mu.Lock()
	modules := b.modules
	b.mu.Unlock()

	for _, m := range modules {
		switch {
		case t.note != nil && m.hooks.OnMention != nil:
			if err := m.hooks.OnMention(ctx, t.note); err != nil {
				logger.Error("mention hook failed",
					"module", m.name, "note", t.note.ID, "error", err)
			}
		case t.reaction != nil && m.hooks.OnReaction != nil:
			if err := m.hooks.OnReaction(ctx, t.reaction); err != nil {
				logger.Error("reaction hook failed",
					"module", m.name, "note", t.reaction.NoteID, "error", err)
			}
		}
	}
}
