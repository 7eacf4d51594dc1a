package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
	"github.com/stealth-studios/sdk-framework-basic/internal/config"
	"github.com/stealth-studios/sdk-framework-basic/internal/gateway/cli"
)

var (
	chatCharacterPath string
	chatUserName      string
	chatConfigPath    string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a character interactively in the terminal",
	Long: `Chat opens an interactive conversation with a character defined in a
JSON file, using the configured model provider directly. No HTTP server is
started; this is the quickest way to try out a persona.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatCharacterPath, "character", "", "path to a character JSON file (required)")
	chatCmd.Flags().StringVar(&chatUserName, "user", "", "display name for the local user")
	chatCmd.Flags().StringVar(&chatConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	_ = chatCmd.MarkFlagRequired("character")
}

func runChat(_ *cobra.Command, _ []string) error {
	// Keep the REPL output clean; only warnings and errors reach the terminal.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Load(goutils.Env("SDK_CONFIG", chatConfigPath))
	if err != nil {
		return err
	}

	char, err := loadCharacterFile(chatCharacterPath)
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cli.NewGateway(sc.Engine, char, chatUserName, logger).Start(ctx)
}

// loadCharacterFile parses a character definition from a JSON file.
func loadCharacterFile(path string) (*character.Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading character file: %w", err)
	}
	var char character.Character
	if err := json.Unmarshal(data, &char); err != nil {
		return nil, fmt.Errorf("parsing character file %s: %w", path, err)
	}
	if char.Name == "" {
		return nil, fmt.Errorf("character file %s: name is required", path)
	}
	return &char, nil
}
