package chat

import (
	"strings"

	"github.com/stealth-studios/sdk-framework-basic/internal/llm"
)

const contextHeader = "Current context:"

// AssembleWindow builds the bounded message sequence sent to the model.
//
// The persona message (stored[0]) always leads, regardless of budget. The
// remaining capacity (memorySize-1) is filled with the most recent history,
// restored to chronological order. Two synthetic turns close the window: a
// system turn carrying the rendered context block, and the new user turn.
// With memorySize <= 1 no prior history is included.
func AssembleWindow(stored []Message, userText, senderID string, injected []ContextEntry, users []User, memorySize int) []llm.Message {
	window := make([]llm.Message, 0, memorySize+2)

	if len(stored) > 0 {
		window = append(window, llm.Message{
			Role:    stored[0].Role,
			Content: stored[0].Content,
		})
	}

	history := stored[min(1, len(stored)):]
	budget := memorySize - 1
	if budget < 0 {
		budget = 0
	}
	if len(history) > budget {
		history = history[len(history)-budget:]
	}
	for _, m := range history {
		window = append(window, llm.Message{Role: m.Role, Content: m.Content})
	}

	window = append(window,
		llm.Message{
			Role:    llm.RoleSystem,
			Content: renderContextBlock(injected, users, senderID),
		},
		llm.Message{
			Role:    llm.RoleUser,
			Content: userText,
		},
	)
	return window
}

// renderContextBlock formats the injected context entries plus the two
// derived entries (users, username) as "key: value" lines under a fixed
// header. An unknown sender yields an empty username rather than an error.
func renderContextBlock(injected []ContextEntry, users []User, senderID string) string {
	var b strings.Builder
	b.WriteString(contextHeader)
	for _, entry := range injected {
		b.WriteString("\n")
		b.WriteString(entry.Key)
		b.WriteString(": ")
		b.WriteString(entry.Value)
	}

	names := make([]string, 0, len(users))
	username := ""
	for _, u := range users {
		names = append(names, u.Name)
		if u.ID == senderID {
			username = u.Name
		}
	}
	b.WriteString("\nusers: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\nusername: ")
	b.WriteString(username)
	return b.String()
}
