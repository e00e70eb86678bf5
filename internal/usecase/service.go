package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lhj1982/hotel-chatbot/internal/domain"
	"github.com/lhj1982/hotel-chatbot/internal/integrations/coreapi"
	"github.com/lhj1982/hotel-chatbot/internal/repository"
)

const (
	defaultMaxMessageLen = 2000
	defaultMaxSessions   = 1000
	maxSessionIDLen      = 128
)

// CoreAPI is everything the hosted sessions need from the core API.
type CoreAPI interface {
	ConversationAPI
	GetWidgetConfig(ctx context.Context, widgetKey string) (domain.WidgetConfig, error)
}

// SessionInput identifies one visitor's session for a widget.
type SessionInput struct {
	WidgetKey string
	SessionID string
	Locale    string
	Channel   domain.Channel
	PageURL   string
}

type SendInput struct {
	SessionInput
	Message string
}

type SessionOutput struct {
	State State
	// Accepted is false when a send was ignored (blank text or a send already in flight).
	Accepted bool
}

// ServiceOptions tunes a SessionService; zero values select defaults.
type ServiceOptions struct {
	SendTimeout   time.Duration
	MaxMessageLen int
	MaxSessions   int
	Logger        *slog.Logger
}

// SessionService hosts chat session controllers server-side, one per
// widget key and visitor session id.
type SessionService struct {
	api    CoreAPI
	store  SnapshotRepository
	opts   ServiceOptions
	logger *slog.Logger

	sessionsMu sync.Mutex
	sessions   map[string]*hostedSession

	configMu sync.RWMutex
	configs  map[string]domain.WidgetConfig
}

func NewSessionService(api CoreAPI, store SnapshotRepository, opts ServiceOptions) (*SessionService, error) {
	if api == nil {
		return nil, errors.New("usecase: core api must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: snapshot store must not be nil")
	}
	if opts.MaxMessageLen <= 0 {
		opts.MaxMessageLen = defaultMaxMessageLen
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		api:      api,
		store:    store,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*hostedSession),
		configs:  make(map[string]domain.WidgetConfig),
	}, nil
}

// State returns the session state, restoring it from the snapshot store if needed.
func (s *SessionService) State(ctx context.Context, in SessionInput) (SessionOutput, error) {
	c, release, err := s.controller(ctx, in)
	if err != nil {
		return SessionOutput{}, err
	}
	defer release()
	return SessionOutput{State: c.State(), Accepted: true}, nil
}

// Send runs one turn on the session. Turn failures are reported in the
// returned State, not as an error. The message is stored and sent as given;
// trimming only decides whether it is blank or too long.
func (s *SessionService) Send(ctx context.Context, in SendInput) (SessionOutput, error) {
	if utf8.RuneCountInString(strings.TrimSpace(in.Message)) > s.opts.MaxMessageLen {
		return SessionOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	c, release, err := s.controller(ctx, in.SessionInput)
	if err != nil {
		return SessionOutput{}, err
	}
	defer release()
	accepted := c.Send(ctx, in.Message)
	return SessionOutput{State: c.State(), Accepted: accepted}, nil
}

// Restart starts a fresh conversation for the session.
func (s *SessionService) Restart(ctx context.Context, in SessionInput) (SessionOutput, error) {
	c, release, err := s.controller(ctx, in)
	if err != nil {
		return SessionOutput{}, err
	}
	defer release()
	c.Restart(ctx)
	return SessionOutput{State: c.State(), Accepted: true}, nil
}

// hostedSession is a cached controller and the number of requests using it.
// Entries in use are never evicted, so two controllers cannot exist for one key.
type hostedSession struct {
	ctrl *Controller
	refs int
}

// controller returns the cached controller for in, creating it on first use.
// The caller must call release when done with it.
func (s *SessionService) controller(ctx context.Context, in SessionInput) (*Controller, func(), error) {
	in.WidgetKey = strings.TrimSpace(in.WidgetKey)
	in.SessionID = strings.TrimSpace(in.SessionID)
	if in.WidgetKey == "" {
		return nil, nil, newError(ErrorInvalidInput, "missing_widget_key", nil)
	}
	if in.SessionID == "" {
		return nil, nil, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	if len(in.SessionID) > maxSessionIDLen {
		return nil, nil, newError(ErrorInvalidInput, "session_id_too_long", nil)
	}
	switch in.Channel {
	case "", domain.ChannelWebWidget, domain.ChannelWebURL:
	default:
		return nil, nil, newError(ErrorInvalidInput, "unknown_channel", nil)
	}

	key := repository.StorageKey(in.WidgetKey) + "_" + in.SessionID

	if c, release, ok := s.acquire(key); ok {
		c.SetRequestOptions(in.Locale, in.Channel, in.PageURL)
		return c, release, nil
	}

	cfg, err := s.widgetConfig(ctx, in.WidgetKey)
	if err != nil {
		return nil, nil, err
	}
	c, err := NewController(ctx, s.api, s.store, ControllerOptions{
		WidgetKey:   in.WidgetKey,
		Locale:      in.Locale,
		Channel:     in.Channel,
		PageURL:     in.PageURL,
		Greeting:    cfg.Greeting(),
		StorageKey:  key,
		SendTimeout: s.opts.SendTimeout,
		Logger:      s.logger,
	})
	if err != nil {
		return nil, nil, newError(ErrorInternal, "controller_init_error", err)
	}

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	hs, ok := s.sessions[key]
	if ok {
		hs.ctrl.SetRequestOptions(in.Locale, in.Channel, in.PageURL)
	} else {
		s.evictLocked()
		hs = &hostedSession{ctrl: c}
		s.sessions[key] = hs
	}
	hs.refs++
	return hs.ctrl, s.releaser(hs), nil
}

func (s *SessionService) acquire(key string) (*Controller, func(), bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	hs, ok := s.sessions[key]
	if !ok {
		return nil, nil, false
	}
	hs.refs++
	return hs.ctrl, s.releaser(hs), true
}

func (s *SessionService) releaser(hs *hostedSession) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.sessionsMu.Lock()
			hs.refs--
			s.sessionsMu.Unlock()
		})
	}
}

// evictLocked drops idle controllers once the cache is full. Their state
// lives in the snapshot store, so nothing is lost. Controllers held by a
// request or with a send in flight stay.
func (s *SessionService) evictLocked() {
	for key, hs := range s.sessions {
		if len(s.sessions) < s.opts.MaxSessions {
			return
		}
		if hs.refs == 0 && !hs.ctrl.State().Sending {
			delete(s.sessions, key)
		}
	}
}

func (s *SessionService) widgetConfig(ctx context.Context, widgetKey string) (domain.WidgetConfig, error) {
	s.configMu.RLock()
	cfg, ok := s.configs[widgetKey]
	s.configMu.RUnlock()
	if ok {
		return cfg, nil
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()
	if cfg, ok := s.configs[widgetKey]; ok {
		return cfg, nil
	}

	cfg, err := s.api.GetWidgetConfig(ctx, widgetKey)
	if err != nil {
		if errors.Is(err, coreapi.ErrNotFound) {
			return domain.WidgetConfig{}, newError(ErrorNotFound, "widget_key_not_found", err)
		}
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return domain.WidgetConfig{}, newError(ErrorRateLimited, "widget_config_rate_limited", err)
		}
		return domain.WidgetConfig{}, newError(ErrorUpstream, "widget_config_error", err)
	}
	s.configs[widgetKey] = cfg
	return cfg, nil
}
