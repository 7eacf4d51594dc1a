package character

import (
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleCharacter() *Character {
	return &Character{
		Name:      "Ada",
		Bio:       []string{"pioneering mathematician", "fond of machines"},
		Lore:      []string{"worked with Babbage"},
		Knowledge: []string{"analytical engines"},
		MessageExamples: [][]ExampleMessage{
			{
				{Speaker: "user", Content: "Hello"},
				{Speaker: "Ada", Content: "Good day to you."},
			},
		},
		Functions: []Function{{
			Name:        "getWeather",
			Description: "Look up the weather",
			Parameters: []Parameter{
				{Name: "city", Description: "City name", Type: TypeString},
			},
		}},
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := sampleCharacter()
	b := sampleCharacter()

	if a.Hash() != b.Hash() {
		t.Errorf("equal content produced different hashes: %q vs %q", a.Hash(), b.Hash())
	}
	if a.Hash() != a.Hash() {
		t.Error("hash is not stable across calls")
	}
}

func TestHash_ContentSensitive(t *testing.T) {
	base := sampleCharacter()

	changed := sampleCharacter()
	changed.Bio = []string{"fond of machines", "pioneering mathematician"} // reordered

	if base.Hash() == changed.Hash() {
		t.Error("reordered bio should change the hash")
	}

	renamed := sampleCharacter()
	renamed.Name = "Grace"
	if base.Hash() == renamed.Hash() {
		t.Error("renamed character should change the hash")
	}
}

func TestPersonaPrompt(t *testing.T) {
	prompt := PersonaPrompt(sampleCharacter())

	if !strings.HasPrefix(prompt, "You are a character named Ada.\n") {
		t.Errorf("prompt does not open with identity sentence:\n%s", prompt)
	}
	for _, want := range []string{
		"\nBio:\n- pioneering mathematician\n- fond of machines\n",
		"\nLore:\n- worked with Babbage\n",
		"\nKnowledge:\n- analytical engines\n",
		"\nExample Conversations:\nuser: Hello\nAda: Good day to you.\n",
		"Rules:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	// Section order is fixed.
	bio := strings.Index(prompt, "Bio:")
	lore := strings.Index(prompt, "Lore:")
	rules := strings.Index(prompt, "Rules:")
	if !(bio < lore && lore < rules) {
		t.Errorf("sections out of order: bio=%d lore=%d rules=%d", bio, lore, rules)
	}
}

func TestPersonaPrompt_EmptySections(t *testing.T) {
	prompt := PersonaPrompt(&Character{Name: "Blank"})

	// Empty sections keep their titles.
	for _, want := range []string{"\nBio:\n", "\nLore:\n", "\nKnowledge:\n", "\nExample Conversations:\n"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing empty section %q:\n%s", want, prompt)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(testLogger())
	c := sampleCharacter()
	hash := c.Hash()

	if reg.Contains(hash) {
		t.Fatal("empty registry should not contain the character")
	}
	if got := reg.GetOrAdd(c); got != c {
		t.Error("first GetOrAdd should return the inserted instance")
	}
	if !reg.Contains(hash) {
		t.Error("registry should contain the character after insert")
	}

	// Duplicate insert keeps the first instance.
	dup := sampleCharacter()
	if got := reg.GetOrAdd(dup); got != c {
		t.Error("duplicate GetOrAdd should return the original instance")
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}

	got, ok := reg.Get(hash)
	if !ok || got != c {
		t.Errorf("Get(%q) = %v, %v", hash, got, ok)
	}
}
