package domain

// Channel is the surface a conversation was started from.
type Channel string

const (
	ChannelWebWidget Channel = "web_widget"
	ChannelWebURL    Channel = "web_url"
)

// Outcome is the server-side classification of a turn.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeFallback Outcome = "fallback"
	OutcomeEscalate Outcome = "escalate"
)

// Snapshot is the persisted, size- and time-bounded copy of a session.
type Snapshot struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []ChatMessage `json:"messages"`
	UpdatedAt      int64         `json:"updated_at"`
}

// WidgetConfig is the per-tenant widget configuration served by the core API.
type WidgetConfig struct {
	GreetingMessage    *string  `json:"greeting_message"`
	EscalationPhone    *string  `json:"escalation_phone"`
	EscalationEmail    *string  `json:"escalation_email"`
	SupportedLanguages []string `json:"supported_languages"`
}

// Greeting returns the configured greeting or "" when none is set.
func (c WidgetConfig) Greeting() string {
	if c.GreetingMessage == nil {
		return ""
	}
	return *c.GreetingMessage
}

// ChatResponse is the core API's answer to a single user message.
type ChatResponse struct {
	Outcome    Outcome     `json:"outcome"`
	AnswerText *string     `json:"answer_text"`
	Citations  []Citation  `json:"citations"`
	Confidence float64     `json:"confidence"`
	Escalation *Escalation `json:"escalation"`
}
