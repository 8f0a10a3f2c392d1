package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/config"
	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/store"
)

// newAllowCmd creates the `fedibot allow` command. The /add_user chat
// command needs an already-permitted sender, so the first account has to
// be authorized from the command line.
func newAllowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allow [account-id]",
		Short: "Authorize an account to talk to the bot",
		Long: `Adds an account to the permitted users registry. Adding an account
that is already authorized is a no-op.

Examples:
  fedibot allow 9a1b2c3d4e
  fedibot allow --list`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAllow,
	}

	cmd.Flags().Bool("list", false, "list authorized accounts instead of adding one")
	return cmd
}

func runAllow(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = config.FindConfigFile()
	}

	dbPath := config.DefaultConfig().Database.Path
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath, logger)
		if err != nil {
			return err
		}
		dbPath = cfg.Database.Path
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := store.NewPermissionRegistry(db, logger)

	if list, _ := cmd.Flags().GetBool("list"); list {
		users, err := registry.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No authorized accounts.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("%s\t(added by %s at %s)\n",
				u.UserID, u.AddedBy, u.AddedAt.Format("2006-01-02 15:04"))
		}
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("an account id is required (or use --list)")
	}

	if err := registry.Add(cmd.Context(), args[0], "cli"); err != nil {
		return err
	}
	fmt.Printf("Account %s is authorized.\n", args[0])
	return nil
}
