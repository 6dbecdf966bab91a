package models

import "time"

// Entity is a named real-world thing the user talks about.
// The canonical Name is unique across the vault and never changes once
// assigned. ID doubles as the backing note's file stem.
type Entity struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Path    string   `json:"path"`
}

// Intent is the routing decision for an utterance.
type Intent string

const (
	IntentRemember Intent = "remember"
	IntentQuery    Intent = "query"
	IntentUnknown  Intent = "unknown"
)

// Utterance is one raw user input. Only its ID survives, as the Source of
// the facts it produced.
type Utterance struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}
