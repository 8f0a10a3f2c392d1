package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/ai"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/bot"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/config"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/fediverse/misskey"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/mediacache"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/store"
)

// newServeCmd creates the `fedibot serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the instance and start answering mentions",
		Long: `Start the bot: connect to the instance streaming API, watch for
mentions of the bot account, and answer them.

Examples:
  fedibot serve
  fedibot serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	if configPath == "" {
		return fmt.Errorf("no config file found; run 'fedibot setup' first")
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.LoadFromFile(configPath, bootstrapLogger)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, verbose)

	if cfg.Instance.URL == "" || cfg.Instance.Token == "" {
		return fmt.Errorf("instance url and token are required; run 'fedibot setup'")
	}
	if cfg.AI.APIKey == "" {
		return fmt.Errorf("AI API key is required; run 'fedibot setup'")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── Open state ──
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	contexts := store.NewContextStore(db, logger)
	perms := store.NewPermissionRegistry(db, logger)

	cache := mediacache.New(
		time.Duration(cfg.Media.TTLMinutes)*time.Minute,
		time.Duration(cfg.Media.FetchTimeoutSeconds)*time.Second,
		logger,
	)

	// ── External collaborators ──
	client, err := misskey.New(cfg.Instance.URL, cfg.Instance.Token, logger)
	if err != nil {
		return err
	}

	generator, err := ai.NewGemini(ctx, ai.GeminiConfig{
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return err
	}

	// ── Resolve the bot's own account ──
	botID := cfg.Bot.AccountID
	if botID == "" {
		me, err := client.Me(ctx)
		if err != nil {
			return fmt.Errorf("resolve bot account: %w", err)
		}
		botID = me.ID
		logger.Info("bot account resolved", "id", me.ID, "username", me.Username)
	}

	// ── Assemble the bot ──
	b := bot.New(misskey.NewStream(client, logger), bot.Options{
		Workers:   cfg.Bot.Workers,
		QueueSize: cfg.Bot.QueueSize,
	}, logger)

	b.Install(bot.NewAIChat(bot.AIChatConfig{
		BotID:        botID,
		OpenCommands: cfg.Bot.OpenCommands,
	}, contexts, perms, cache, generator, client, logger))

	// ── Maintenance cron ──
	maintenance := cron.New()
	if _, err := maintenance.AddFunc(cfg.Media.PruneSchedule, func() {
		if removed := cache.Prune(); removed > 0 {
			logger.Debug("media cache pruned", "removed", removed)
		}
	}); err != nil {
		return fmt.Errorf("schedule media cache prune: %w", err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	logger.Info("fedibot started", "instance", client.Host(), "bot", botID)
	err = b.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("fedibot stopped")
	return nil
}

// newLogger builds the process logger from config and the verbose flag.
func newLogger(cfg config.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
