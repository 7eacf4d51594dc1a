package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
	"github.com/stealth-studios/sdk-framework-basic/internal/chat"
	"github.com/stealth-studios/sdk-framework-basic/internal/llm"
	"github.com/stealth-studios/sdk-framework-basic/internal/storage/postgres"
)

func openTestRepo(t *testing.T) *postgres.Repository {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return postgres.NewRepository(db.GormDB())
}

func TestCharacterRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	c := &character.Character{
		Name: "Ada",
		Bio:  []string{"scientist"},
		Functions: []character.Function{{
			Name:        "getWeather",
			Description: "Look up the weather",
			Parameters: []character.Parameter{
				{Name: "city", Description: "City name", Type: character.TypeString},
			},
		}},
	}

	hash, err := repo.CreateCharacter(ctx, c)
	if err != nil {
		t.Fatalf("CreateCharacter: %v", err)
	}
	if hash != c.Hash() {
		t.Errorf("stored hash = %q, want %q", hash, c.Hash())
	}

	// Idempotent on duplicate insert.
	if _, err := repo.CreateCharacter(ctx, c); err != nil {
		t.Fatalf("duplicate CreateCharacter: %v", err)
	}

	got, err := repo.GetCharacter(ctx, hash)
	if err != nil {
		t.Fatalf("GetCharacter: %v", err)
	}
	if got.Name != "Ada" || len(got.Bio) != 1 || got.Bio[0] != "scientist" {
		t.Errorf("rehydrated character = %+v", got)
	}
	if got.Hash() != hash {
		t.Errorf("rehydrated hash = %q, want %q", got.Hash(), hash)
	}
	if len(got.Functions) != 1 || got.Functions[0].Name != "getWeather" {
		t.Errorf("rehydrated functions = %+v", got.Functions)
	}
}

func TestGetCharacter_NotFound(t *testing.T) {
	repo := openTestRepo(t)
	_, err := repo.GetCharacter(context.Background(), "missing")
	if !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestConversationLifecycle(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	users := []chat.User{{ID: "u1", Name: "Sam"}}
	rec, err := repo.CreateConversation(ctx, &chat.ConversationRecord{
		CharacterHash:    "abc",
		Users:            users,
		PersistenceToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if rec.ID == "" || rec.Secret == "" {
		t.Fatalf("missing allocated id/secret: %+v", rec)
	}

	for _, q := range []chat.Query{
		{ID: rec.ID},
		{Secret: rec.Secret},
		{PersistenceToken: "tok-1"},
	} {
		got, err := repo.GetConversationBy(ctx, q)
		if err != nil {
			t.Fatalf("GetConversationBy(%+v): %v", q, err)
		}
		if got.ID != rec.ID {
			t.Errorf("GetConversationBy(%+v).ID = %q, want %q", q, got.ID, rec.ID)
		}
		if len(got.Users) != 1 || got.Users[0].Name != "Sam" {
			t.Errorf("users = %+v", got.Users)
		}
	}

	if err := repo.SetConversationCharacter(ctx, rec.ID, "def"); err != nil {
		t.Fatalf("SetConversationCharacter: %v", err)
	}
	if err := repo.SetConversationUsers(ctx, rec.ID, []chat.User{{ID: "u2", Name: "Alex"}}); err != nil {
		t.Fatalf("SetConversationUsers: %v", err)
	}
	finished := true
	if err := repo.SetConversationFlags(ctx, rec.ID, chat.Flags{Finished: &finished}); err != nil {
		t.Fatalf("SetConversationFlags: %v", err)
	}

	got, err := repo.GetConversationBy(ctx, chat.Query{ID: rec.ID})
	if err != nil {
		t.Fatalf("GetConversationBy: %v", err)
	}
	if got.CharacterHash != "def" || !got.Finished {
		t.Errorf("after updates: %+v", got)
	}
	if len(got.Users) != 1 || got.Users[0].ID != "u2" {
		t.Errorf("users after update = %+v", got.Users)
	}

	if err := repo.FinishConversation(ctx, rec.ID); err != nil {
		t.Fatalf("FinishConversation: %v", err)
	}
	if _, err := repo.GetConversationBy(ctx, chat.Query{ID: rec.ID}); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("after removal err = %v, want ErrNotFound", err)
	}
}

func TestMessageOrdering(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	rec, err := repo.CreateConversation(ctx, &chat.ConversationRecord{CharacterHash: "abc"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	turns := []chat.Message{
		{Role: llm.RoleSystem, Content: "persona"},
		{Role: llm.RoleUser, Content: "hello", Context: []chat.ContextEntry{{Key: "mood", Value: "curious"}}},
		{Role: llm.RoleAssistant, Content: "hi"},
	}
	for _, msg := range turns {
		if err := repo.AddMessage(ctx, rec.ID, msg); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	got, err := repo.GetMessages(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(got))
	}
	for i, want := range turns {
		if got[i].Role != want.Role || got[i].Content != want.Content {
			t.Errorf("messages[%d] = %+v, want %+v", i, got[i], want)
		}
	}
	if len(got[1].Context) != 1 || got[1].Context[0].Key != "mood" {
		t.Errorf("context round trip = %+v", got[1].Context)
	}
}

func TestListIdleConversations(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	rec, err := repo.CreateConversation(ctx, &chat.ConversationRecord{CharacterHash: "abc"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	ids, err := repo.ListIdleConversations(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListIdleConversations: %v", err)
	}
	if len(ids) != 1 || ids[0] != rec.ID {
		t.Errorf("idle ids = %v, want [%s]", ids, rec.ID)
	}

	// Nothing is idle when the cutoff is in the past.
	ids, err = repo.ListIdleConversations(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListIdleConversations: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("idle ids = %v, want none", ids)
	}
}
