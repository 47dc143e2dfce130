package models

// Message is a single entry of the conversation sent to the language model.
type Message struct {
	Role    Role
	Content string
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleSystem carries the configured system prompt.
	RoleSystem Role = "system"
	// RoleUser represents a user query.
	RoleUser Role = "user"
	// RoleAssistant represents a model reply.
	RoleAssistant Role = "assistant"
)
