// Package domain contains core domain types for flowchat.
package domain

import (
	"time"
)

// Role identifies who authored a chat turn.
type Role string

const (
	// RoleUser marks text typed by the person chatting.
	RoleUser Role = "user"
	// RoleBot marks a reply, including error text shown in place of one.
	RoleBot Role = "bot"
)

// Turn is one entry of a chat history. Turns are never modified after
// they are appended.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Session ties a browser session to the conversation thread of the remote
// service.
type Session struct {
	Key       string    `json:"-"`
	RemoteID  string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role Role, text string) Turn {
	return Turn{Role: role, Text: text, CreatedAt: time.Now().UTC()}
}
