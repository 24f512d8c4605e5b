package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/charactercall/internal/config"
	"github.com/MrWong99/charactercall/internal/credential"
)

func newKeyCmd() *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Manage stored provider credentials",
		Long: `Manage the API keys kept in the credential store.

Providers without an api_key in the config read theirs from the store
entry named by their "credential" field, "openai" by default. Stored keys
expire after credentials.ttl (30 days unless configured).

The store must be persistent: set credentials.backend to badger.`,
	}
	keyCmd.PersistentFlags().StringP("name", "n", config.DefaultCredential, "credential entry name")

	keyCmd.AddCommand(
		&cobra.Command{
			Use:   "set <value>",
			Short: "Store an API key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(store credential.Store, cfg *config.Config, name string) error {
					if err := store.Set(cmd.Context(), name, args[0], cfg.Credentials.TTL); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%s), expires in %s\n", name, credential.Mask(args[0]), cfg.Credentials.TTL)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show a masked API key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, func(store credential.Store, _ *config.Config, name string) error {
					value, err := store.Get(cmd.Context(), name)
					if errors.Is(err, credential.ErrNotFound) {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: not set\n", name)
						return nil
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, credential.Mask(value))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove a stored API key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, func(store credential.Store, _ *config.Config, name string) error {
					if err := store.Remove(cmd.Context(), name); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
					return nil
				})
			},
		},
	)
	return keyCmd
}

// withStore opens the configured credential store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(credential.Store, *config.Config, string) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Credentials.Backend != config.CredentialsBadger {
		return fmt.Errorf("credentials backend %q does not persist keys, set credentials.backend to badger", cfg.Credentials.Backend)
	}
	name, err := cmd.Flags().GetString("name")
	if err != nil {
		return fmt.Errorf("failed to read 'name' flag: %w", err)
	}
	store, err := config.OpenCredentialStore(cfg.Credentials)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store, cfg, name)
}
