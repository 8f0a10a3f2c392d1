package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/config"
)

// newVaultCmd creates the `fedibot vault` command group for managing the
// encrypted credential vault.
func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted credential vault",
		Long: `Manage secrets in the encrypted vault (.fedibot.vault).
Known keys: instance_token, ai_api_key.

Examples:
  fedibot vault init
  fedibot vault set instance_token`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create a new vault",
			RunE:  runVaultInit,
		},
		&cobra.Command{
			Use:   "set <key>",
			Short: "Store a secret in the vault",
			Args:  cobra.ExactArgs(1),
			RunE:  runVaultSet,
		},
	)
	return cmd
}

func runVaultInit(_ *cobra.Command, _ []string) error {
	vault := config.NewVault(config.VaultFile)
	if vault.Exists() {
		return fmt.Errorf("vault already exists at %s", config.VaultFile)
	}

	password, err := config.ReadPassword("Choose a vault master password: ")
	if err != nil {
		return err
	}
	confirm, err := config.ReadPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	if err := vault.Create(password); err != nil {
		return err
	}
	fmt.Printf("Vault created at %s.\n", config.VaultFile)
	return nil
}

func runVaultSet(_ *cobra.Command, args []string) error {
	vault := config.NewVault(config.VaultFile)
	if !vault.Exists() {
		return fmt.Errorf("no vault found; run 'fedibot vault init' first")
	}

	password, err := config.ReadPassword("Vault password: ")
	if err != nil {
		return err
	}
	if err := vault.Unlock(password); err != nil {
		return err
	}

	value, err := config.ReadPassword(fmt.Sprintf("Value for %q: ", args[0]))
	if err != nil {
		return err
	}
	if err := vault.Set(args[0], value); err != nil {
		return err
	}

	fmt.Printf("Secret %q stored.\n", args[0])
	return nil
}
