// Package character defines content-addressed persona definitions.
//
// A Character is immutable after construction: its identity is the hash of
// its declared fields, so a changed persona is a different character with a
// different hash. The in-process Registry is a cache keyed by that hash; the
// storage adapter remains the source of truth.
package character

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// ParameterType is the set of primitive types a function parameter may declare.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeBoolean ParameterType = "boolean"
)

// Parameter is a single declared argument of a callable function.
type Parameter struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Type        ParameterType `json:"type"`
}

// Function is a callable function a character exposes to the model.
type Function struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// ExampleMessage is one turn of an example conversation.
type ExampleMessage struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// Character is an immutable persona definition. Identity is derived from
// content via Hash, never assigned.
type Character struct {
	Name            string             `json:"name"`
	Bio             []string           `json:"bio"`
	Lore            []string           `json:"lore"`
	Knowledge       []string           `json:"knowledge"`
	MessageExamples [][]ExampleMessage `json:"message_examples"`
	Functions       []Function         `json:"functions"`
}

// hashPayload fixes the field set and order that participate in identity.
// Incidental fields added to Character later (display metadata, timestamps)
// must not be added here.
type hashPayload struct {
	Bio             []string           `json:"bio"`
	Lore            []string           `json:"lore"`
	Knowledge       []string           `json:"knowledge"`
	MessageExamples [][]ExampleMessage `json:"messageExamples"`
	Functions       []Function         `json:"functions"`
	Name            string             `json:"name"`
}

// Hash returns the hex-encoded content hash of the character's identity
// fields. Equal field content (including list order) always yields an equal
// hash; the hash is the sole deduplication key.
func (c *Character) Hash() string {
	payload, err := json.Marshal(hashPayload{
		Bio:             c.Bio,
		Lore:            c.Lore,
		Knowledge:       c.Knowledge,
		MessageExamples: c.MessageExamples,
		Functions:       c.Functions,
		Name:            c.Name,
	})
	if err != nil {
		// Marshaling a struct of strings and slices cannot fail.
		panic(err)
	}
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
