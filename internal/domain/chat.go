package domain

import "encoding/json"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// GreetingMessageID is the fixed id of the synthesized greeting. It is never persisted.
const GreetingMessageID = "greeting"

// Escalation is attached to assistant messages that hand the guest off to a human.
type Escalation struct {
	Phone   *string `json:"phone"`
	Email   *string `json:"email"`
	Message string  `json:"message"`
}

// Citation references the knowledge-base chunk an answer was grounded on.
type Citation struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	ChunkID    string `json:"chunk_id"`
}

// ChatMessage is one entry of the local conversation history, as rendered
// by the widget and persisted in snapshots.
type ChatMessage struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Escalation *Escalation `json:"escalation,omitempty"`
	Citations  []Citation  `json:"citations,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}

// MarshalJSON writes an empty assistant content as null, the shape used for
// replies that only carry an escalation. Decoding null leaves Content empty.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	type plain ChatMessage
	var content *string
	if m.Content != "" || m.Role != RoleAssistant {
		content = &m.Content
	}
	return json.Marshal(struct {
		plain
		Content *string `json:"content"`
	}{plain: plain(m), Content: content})
}

// IsGreeting reports whether m is the synthesized greeting.
func (m ChatMessage) IsGreeting() bool {
	return m.ID == GreetingMessageID
}
