// Character SDK: conversation orchestration server for AI characters.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sdk",
	Short: "Character SDK: conversation orchestration for AI characters",
	Long: `The Character SDK server hosts content-addressed character personas and
orchestrates their conversations: it assembles sliding context windows over
persisted transcripts, runs the send protocol against the configured model
provider, and exposes the whole lifecycle over HTTP and WebSocket.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, chatCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
