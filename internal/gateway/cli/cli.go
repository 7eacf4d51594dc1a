// Package cli implements an interactive terminal chat gateway, used to try a
// character locally without running the HTTP server.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
	"github.com/stealth-studios/sdk-framework-basic/internal/chat"
)

const cliUserID = "cli-user"

// Gateway is the interactive command-line chat interface. One conversation
// spans the whole session.
type Gateway struct {
	engine   *chat.Engine
	char     *character.Character
	userName string
	logger   *slog.Logger
	done     chan struct{} // closed by Stop to signal shutdown
	conv     *chat.Conversation
}

// NewGateway creates a CLI gateway chatting with the given character.
func NewGateway(engine *chat.Engine, char *character.Character, userName string, logger *slog.Logger) *Gateway {
	if userName == "" {
		userName = "You"
	}
	return &Gateway{
		engine:   engine,
		char:     char,
		userName: userName,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs the interactive REPL. Blocks until ctx is cancelled,
// Stop is called, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	users := []chat.User{{ID: cliUserID, Name: g.userName}}
	conv, err := g.engine.CreateConversation(ctx, g.char, users, "")
	if err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}
	g.conv = conv

	scanner := bufio.NewScanner(os.Stdin)

	fmt.Printf("Chatting with %s. Type your message (or \"exit\" to quit).\n\n", g.char.Name)

	for {
		fmt.Printf("%s> ", g.userName)

		// Check for context cancellation or Stop signal between prompts.
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down.")
			g.finish()
			return nil
		case <-g.done:
			fmt.Println("\nShutting down.")
			g.finish()
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye.")
			g.finish()
			return nil
		}

		result, err := g.engine.SendMessage(ctx, g.conv, line, cliUserID, nil)
		if err != nil {
			if errors.Is(err, chat.ErrConversationBusy) {
				fmt.Fprintln(os.Stderr, "Conversation is busy, try again.")
				continue
			}
			g.logger.ErrorContext(ctx, "cli send failed",
				slog.String("conversation_id", g.conv.ID),
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if result.Cancelled {
			fmt.Fprintln(os.Stderr, "The model call failed; the message was not recorded. Try again.")
			continue
		}

		fmt.Println()
		if result.Content != "" {
			fmt.Printf("%s: %s\n", g.char.Name, result.Content)
		}

		// The CLI has no function executor; requested calls are shown as-is.
		for _, call := range result.Calls {
			args, _ := json.Marshal(call.Parameters)
			fmt.Printf("[function call] %s(%s)\n", call.Name, args)
		}

		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		g.finish()
		return fmt.Errorf("reading stdin: %w", err)
	}

	g.finish()
	return nil
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

func (g *Gateway) finish() {
	if g.conv != nil {
		g.engine.FinishConversation(g.conv)
	}
}
