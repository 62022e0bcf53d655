package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one stored user message and the reply generated for it.
type Turn struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	UserMessage string    `json:"user_message"`
	AIResponse  string    `json:"ai_response"`
	Timestamp   time.Time `json:"timestamp"`
}

// Session is the metadata row kept for every session id that has written a turn.
type Session struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Message is a role-tagged entry of assembled conversation context.
type Message struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// AssembleContext flattens oldest-first turns into role-tagged messages,
// a user entry followed by an assistant entry per turn.
func AssembleContext(turns []Turn) []Message {
	messages := make([]Message, 0, 2*len(turns))
	for _, t := range turns {
		messages = append(messages,
			Message{Role: RoleUser, Content: t.UserMessage},
			Message{Role: RoleAssistant, Content: t.AIResponse},
		)
	}
	return messages
}
