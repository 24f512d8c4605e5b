package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/charactercall/internal/config"
)

const defaultConfigPath = "config.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "charactercall",
		Short: "Voice calls with AI characters",
		Long: `charactercall lets a browser hold a spoken conversation with any
character: name it, and the server casts an assistant, records your
turns, and answers in the character's voice.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to the YAML configuration file")
	root.AddCommand(newServeCmd(), newKeyCmd())
	return root
}

// loadConfig reads the file named by the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", fmt.Errorf("failed to read 'config' flag: %w", err)
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, path, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	}
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// newLogger returns a text logger on stderr whose level follows lvl.
func newLogger(lvl *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
