package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lhj1982/hotel-chatbot/internal/domain"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "hotel-chatbot/1"

	widgetConfigPath      = "/public/widget-config"
	startConversationPath = "/public/conversation/start"
	chatPath              = "/public/chat"
)

// StartConversationInput is the request body of POST /public/conversation/start.
type StartConversationInput struct {
	WidgetKey string         `json:"widget_key"`
	Channel   domain.Channel `json:"channel"`
	Locale    string         `json:"locale,omitempty"`
	PageURL   string         `json:"page_url,omitempty"`
}

type startConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessageInput is the request body of POST /public/chat.
type SendMessageInput struct {
	WidgetKey      string `json:"widget_key"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Locale         string `json:"locale,omitempty"`
}

// Client talks to the public (widget-key authenticated) endpoints of the core API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// NewClient creates a Client rooted at baseURL, e.g. "https://core.example.com".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("coreapi: base URL must not be empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("coreapi: invalid base URL: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// GetWidgetConfig loads the greeting and escalation settings for a widget key.
func (c *Client) GetWidgetConfig(ctx context.Context, widgetKey string) (domain.WidgetConfig, error) {
	widgetKey = strings.TrimSpace(widgetKey)
	if widgetKey == "" {
		return domain.WidgetConfig{}, errors.New("coreapi: widget key is required")
	}
	endpoint := c.baseURL + widgetConfigPath + "?widget_key=" + url.QueryEscape(widgetKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.WidgetConfig{}, fmt.Errorf("coreapi: create widget config request: %w", err)
	}

	var cfg domain.WidgetConfig
	if err := c.do(req, endpoint, &cfg); err != nil {
		return domain.WidgetConfig{}, fmt.Errorf("coreapi: GetWidgetConfig: %w", err)
	}
	return cfg, nil
}

// StartConversation opens a new server-side conversation and returns its id.
func (c *Client) StartConversation(ctx context.Context, in StartConversationInput) (string, error) {
	if strings.TrimSpace(in.WidgetKey) == "" {
		return "", errors.New("coreapi: widget key is required")
	}
	if in.Channel == "" {
		in.Channel = domain.ChannelWebWidget
	}

	var out startConversationResponse
	if err := c.postJSON(ctx, startConversationPath, in, &out); err != nil {
		return "", fmt.Errorf("coreapi: StartConversation: %w", err)
	}
	if out.ConversationID == "" {
		return "", errors.New("coreapi: StartConversation: response missing conversation_id")
	}
	return out.ConversationID, nil
}

// SendMessage submits one user message and returns the assistant's turn.
func (c *Client) SendMessage(ctx context.Context, in SendMessageInput) (domain.ChatResponse, error) {
	if strings.TrimSpace(in.WidgetKey) == "" || strings.TrimSpace(in.ConversationID) == "" {
		return domain.ChatResponse{}, errors.New("coreapi: widget key and conversation id are required")
	}

	var out domain.ChatResponse
	if err := c.postJSON(ctx, chatPath, in, &out); err != nil {
		return domain.ChatResponse{}, fmt.Errorf("coreapi: SendMessage: %w", err)
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, endpoint, out)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Detail:     parseDetail(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
