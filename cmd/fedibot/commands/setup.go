package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/config"
)

// newSetupCmd creates the `fedibot setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the instance URL, access token, Gemini API key and model.
Credentials are stored in an encrypted vault or the OS keyring — never
in plaintext.

Examples:
  fedibot setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	reader := bufio.NewReader(os.Stdin)
	cfg := config.DefaultConfig()

	fmt.Println()
	fmt.Println("fedibot — setup wizard")
	fmt.Println()

	cfg.Instance.URL = ask(reader, "Instance URL (e.g. https://example.social)", "")
	if cfg.Instance.URL == "" {
		return fmt.Errorf("instance URL is required")
	}

	token, err := config.ReadPassword("Instance access token: ")
	if err != nil {
		return err
	}
	apiKey, err := config.ReadPassword("Gemini API key: ")
	if err != nil {
		return err
	}

	cfg.AI.Model = ask(reader, "Model", cfg.AI.Model)
	cfg.Database.Path = ask(reader, "Database path", cfg.Database.Path)

	if err := storeSecrets(reader, token, apiKey); err != nil {
		return err
	}

	path := ask(reader, "Config file path", "config.yaml")
	if err := config.SaveToFile(cfg, path); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Configuration written to %s.\n", path)
	fmt.Println("Authorize your own account next:  fedibot allow <your-account-id>")
	fmt.Println("Then start the bot:               fedibot serve")
	return nil
}

// storeSecrets saves credentials to the vault when the user wants one,
// falling back to the OS keyring.
func storeSecrets(reader *bufio.Reader, token, apiKey string) error {
	useVault := strings.EqualFold(ask(reader, "Store credentials in an encrypted vault? [Y/n]", "y"), "y")

	if useVault {
		password, err := config.ReadPassword("Choose a vault master password: ")
		if err != nil {
			return err
		}

		vault := config.NewVault(config.VaultFile)
		if vault.Exists() {
			if err := vault.Unlock(password); err != nil {
				return err
			}
		} else if err := vault.Create(password); err != nil {
			return err
		}

		if err := vault.Set(config.KeyInstanceToken, token); err != nil {
			return err
		}
		if err := vault.Set(config.KeyAIAPIKey, apiKey); err != nil {
			return err
		}
		fmt.Printf("Credentials stored in %s.\n", config.VaultFile)
		return nil
	}

	if !config.KeyringAvailable() {
		return fmt.Errorf("OS keyring is not available; re-run setup and choose the vault")
	}
	if err := config.StoreKeyring(config.KeyInstanceToken, token); err != nil {
		return err
	}
	if err := config.StoreKeyring(config.KeyAIAPIKey, apiKey); err != nil {
		return err
	}
	fmt.Println("Credentials stored in the OS keyring.")
	return nil
}

// ask prompts for one value, returning the default on empty input.
func ask(reader *bufio.Reader, prompt, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", prompt, def)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}
