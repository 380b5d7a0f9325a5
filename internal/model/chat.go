package model

import (
	"strings"
	"time"
)

// Persisted message roles. These are storage values; the lowercase wire
// roles live in pkg/clients/llm.
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
	RoleSystem    = "SYSTEM"
)

// ChatSession groups a conversation and optionally scopes it to documents.
// DocumentIDs is a comma-separated ID list, empty for open chat.
type ChatSession struct {
	ID           string    `json:"id"`
	DocumentIDs  string    `json:"documentIds,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DocumentIDList splits the CSV column into trimmed IDs.
func (s *ChatSession) DocumentIDList() []string {
	if s.DocumentIDs == "" {
		return nil
	}
	parts := strings.Split(s.DocumentIDs, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if id := strings.TrimSpace(p); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ChatMessage is one persisted turn of a session.
type ChatMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"tokenCount"`
	CreatedAt  time.Time `json:"createdAt"`
}
