package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lhj1982/hotel-chatbot/internal/domain"
	"github.com/lhj1982/hotel-chatbot/internal/integrations/coreapi"
	"github.com/lhj1982/hotel-chatbot/internal/repository"
)

const (
	defaultLocale      = "en"
	defaultSendTimeout = 30 * time.Second
	noAnswerFallback   = "I'm sorry, I couldn't find an answer."

	stageStart = "start_conversation"
	stageSend  = "send_message"
)

// ConversationAPI is the part of the core API a chat session drives.
type ConversationAPI interface {
	StartConversation(ctx context.Context, in coreapi.StartConversationInput) (string, error)
	SendMessage(ctx context.Context, in coreapi.SendMessageInput) (domain.ChatResponse, error)
}

// SnapshotRepository persists session snapshots. Implementations never fail
// loudly; see repository.SnapshotStore.
type SnapshotRepository interface {
	Load(ctx context.Context, key string) *domain.Snapshot
	Save(ctx context.Context, key, conversationID string, messages []domain.ChatMessage)
	Clear(ctx context.Context, key string)
}

// ControllerOptions configures a Controller. WidgetKey is required.
type ControllerOptions struct {
	WidgetKey string
	Locale    string
	Channel   domain.Channel
	PageURL   string
	Greeting  string
	// StorageKey overrides the snapshot key; defaults to repository.StorageKey(WidgetKey).
	StorageKey string
	// SendTimeout bounds one Send (start + send). Zero means 30s; negative disables it.
	SendTimeout time.Duration
	// OnChange is invoked with a copy of the state after every mutation.
	OnChange func(State)
	Now      func() time.Time
	Logger   *slog.Logger
}

// State is the observable session state. Empty ConversationID and Error
// mean "none".
type State struct {
	ConversationID string               `json:"conversation_id"`
	Messages       []domain.ChatMessage `json:"messages"`
	Sending        bool                 `json:"sending"`
	Error          string               `json:"error"`
	ErrorCode      ErrorCode            `json:"error_code,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Messages = append([]domain.ChatMessage(nil), s.Messages...)
	return out
}

// Controller owns one chat session: the local history, the conversation id,
// the single in-flight send and the persisted snapshot.
type Controller struct {
	api    ConversationAPI
	store  SnapshotRepository
	opts   ControllerOptions
	key    string
	logger *slog.Logger

	mu    sync.Mutex
	state State
	// epoch changes on Restart so a send that completes afterwards is dropped.
	epoch uint64
}

// NewController restores the session for opts.WidgetKey from store and seeds
// the greeting when there is no history. A nil store keeps the session in memory.
func NewController(ctx context.Context, api ConversationAPI, store SnapshotRepository, opts ControllerOptions) (*Controller, error) {
	if api == nil {
		return nil, errors.New("usecase: conversation api must not be nil")
	}
	opts.WidgetKey = strings.TrimSpace(opts.WidgetKey)
	if opts.WidgetKey == "" {
		return nil, errors.New("usecase: widget key must not be empty")
	}
	if opts.Locale == "" {
		opts.Locale = defaultLocale
	}
	if opts.Channel == "" {
		opts.Channel = domain.ChannelWebWidget
	}
	if opts.SendTimeout == 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if store == nil {
		store = (*repository.SnapshotStore)(nil)
	}
	key := opts.StorageKey
	if key == "" {
		key = repository.StorageKey(opts.WidgetKey)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		api:    api,
		store:  store,
		opts:   opts,
		key:    key,
		logger: logger.With("widget_key", opts.WidgetKey),
	}
	if snap := store.Load(ctx, key); snap != nil {
		c.state.ConversationID = snap.ConversationID
		c.state.Messages = snap.Messages
	}
	c.addGreetingLocked()
	return c, nil
}

// State returns a copy of the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Send runs one turn. It returns false without touching state when text is
// blank or another send is in flight. The user message is visible to
// observers before any network call is made; failures land in State.Error.
func (c *Controller) Send(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	c.mu.Lock()
	if c.state.Sending {
		c.mu.Unlock()
		return false
	}
	c.state.Error = ""
	c.state.ErrorCode = ""
	c.state.Sending = true
	c.state.Messages = append(c.state.Messages, c.newMessage(domain.RoleUser, text))
	conversationID := c.state.ConversationID
	epoch := c.epoch
	locale, channel, pageURL := c.opts.Locale, c.opts.Channel, c.opts.PageURL
	c.mu.Unlock()
	c.notify()

	defer c.release()

	if c.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SendTimeout)
		defer cancel()
	}

	if conversationID == "" {
		id, err := c.api.StartConversation(ctx, coreapi.StartConversationInput{
			WidgetKey: c.opts.WidgetKey,
			Channel:   channel,
			Locale:    locale,
			PageURL:   pageURL,
		})
		if err != nil {
			c.fail(ctx, epoch, classifySendError(stageStart, err))
			return true
		}
		conversationID = id

		c.mu.Lock()
		if c.epoch == epoch {
			c.state.ConversationID = id
		}
		c.mu.Unlock()
	}

	resp, err := c.api.SendMessage(ctx, coreapi.SendMessageInput{
		WidgetKey:      c.opts.WidgetKey,
		ConversationID: conversationID,
		Message:        text,
		Locale:         locale,
	})
	if err != nil {
		c.fail(ctx, epoch, classifySendError(stageSend, err))
		return true
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("dropping reply for restarted session", "conversation_id", conversationID)
		return true
	}
	msg := c.newMessage(domain.RoleAssistant, assistantContent(resp))
	msg.Escalation = resp.Escalation
	msg.Citations = resp.Citations
	c.state.Messages = append(c.state.Messages, msg)
	// Store writes happen under mu so a concurrent Restart cannot be overwritten.
	// The turn is persisted even if the send deadline has just passed.
	c.store.Save(context.WithoutCancel(ctx), c.key, conversationID, c.state.Messages)
	c.mu.Unlock()

	c.logger.Info("turn completed",
		"conversation_id", conversationID,
		"outcome", resp.Outcome,
		"confidence", resp.Confidence,
		"citations", len(resp.Citations),
	)
	return true
}

// SetRequestOptions replaces the locale, channel and page URL used by later
// sends. Empty values keep the current setting. A send already in flight is
// not affected.
func (c *Controller) SetRequestOptions(locale string, channel domain.Channel, pageURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if locale != "" {
		c.opts.Locale = locale
	}
	if channel != "" {
		c.opts.Channel = channel
	}
	if pageURL != "" {
		c.opts.PageURL = pageURL
	}
}

// Restart discards the conversation and its snapshot and re-seeds the greeting.
func (c *Controller) Restart(ctx context.Context) {
	c.mu.Lock()
	c.epoch++
	c.state.ConversationID = ""
	c.state.Messages = nil
	c.state.Error = ""
	c.state.ErrorCode = ""
	c.addGreetingLocked()
	c.store.Clear(ctx, c.key)
	c.mu.Unlock()

	c.notify()
}

func (c *Controller) fail(ctx context.Context, epoch uint64, uerr *Error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.state.Error = displayMessage(uerr)
	c.state.ErrorCode = uerr.Code
	if uerr.Code == ErrorConversationExpired {
		c.state.ConversationID = ""
		c.store.Clear(context.WithoutCancel(ctx), c.key)
	}
	c.mu.Unlock()

	c.logger.Warn("send failed", "code", uerr.Code, "reason", uerr.Reason, "err", uerr.Err)
}

func (c *Controller) release() {
	c.mu.Lock()
	c.state.Sending = false
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	if c.opts.OnChange == nil {
		return
	}
	c.opts.OnChange(c.State())
}

func (c *Controller) addGreetingLocked() {
	if c.opts.Greeting == "" || len(c.state.Messages) > 0 {
		return
	}
	c.state.Messages = []domain.ChatMessage{{
		ID:        domain.GreetingMessageID,
		Role:      domain.RoleAssistant,
		Content:   c.opts.Greeting,
		Timestamp: c.opts.Now().UnixMilli(),
	}}
}

func (c *Controller) newMessage(role domain.Role, content string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        string(role) + "-" + newUUID(),
		Role:      role,
		Content:   content,
		Timestamp: c.opts.Now().UnixMilli(),
	}
}

func assistantContent(resp domain.ChatResponse) string {
	if resp.AnswerText != nil && *resp.AnswerText != "" {
		return *resp.AnswerText
	}
	if resp.Escalation != nil && resp.Escalation.Message != "" {
		return resp.Escalation.Message
	}
	return noAnswerFallback
}

var newUUID = func() string {
	return uuid.NewString()
}
