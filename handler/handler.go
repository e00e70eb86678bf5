package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/lhj1982/hotel-chatbot/internal/domain"
	"github.com/lhj1982/hotel-chatbot/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// SessionUseCase is the session API the handler exposes over HTTP.
type SessionUseCase interface {
	State(ctx context.Context, in usecase.SessionInput) (usecase.SessionOutput, error)
	Send(ctx context.Context, in usecase.SendInput) (usecase.SessionOutput, error)
	Restart(ctx context.Context, in usecase.SessionInput) (usecase.SessionOutput, error)
}

type Handler struct {
	sessions SessionUseCase
	logger   *slog.Logger
}

func NewHandler(sessions SessionUseCase) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("handler: session use case must not be nil")
	}
	return &Handler{sessions: sessions, logger: slog.Default()}, nil
}

type sessionRequest struct {
	WidgetKey string `json:"widget_key"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Locale    string `json:"locale"`
	Channel   string `json:"channel"`
	PageURL   string `json:"page_url"`
}

func (r sessionRequest) session() usecase.SessionInput {
	return usecase.SessionInput{
		WidgetKey: r.WidgetKey,
		SessionID: r.SessionID,
		Locale:    r.Locale,
		Channel:   domain.Channel(r.Channel),
		PageURL:   r.PageURL,
	}
}

type sessionResponse struct {
	usecase.State
	Accepted bool `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle serves the session routes behind an API Gateway proxy integration:
//
//	GET  /session?widget_key=&session_id=
//	POST /session/messages
//	POST /session/restart
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID, "method", event.HTTPMethod, "path", event.Path)

	status, body := h.route(ctx, logger, event)

	logger.Info("request handled", "status", status, "duration_ms", time.Since(start).Milliseconds())
	return respond(status, correlationID, body), nil
}

func (h *Handler) route(ctx context.Context, logger *slog.Logger, event events.APIGatewayProxyRequest) (int, any) {
	path := strings.TrimSuffix(event.Path, "/")
	switch {
	case path == "/session" && event.HTTPMethod == http.MethodGet:
		req := sessionRequest{
			WidgetKey: event.QueryStringParameters["widget_key"],
			SessionID: event.QueryStringParameters["session_id"],
			Locale:    event.QueryStringParameters["locale"],
			Channel:   event.QueryStringParameters["channel"],
			PageURL:   event.QueryStringParameters["page_url"],
		}
		out, err := h.sessions.State(ctx, req.session())
		return result(logger, out, err)

	case path == "/session/messages" && event.HTTPMethod == http.MethodPost:
		req, err := decodeBody(event)
		if err != nil {
			logger.Warn("invalid request body", "err", err)
			return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}
		}
		out, err := h.sessions.Send(ctx, usecase.SendInput{SessionInput: req.session(), Message: req.Message})
		return result(logger, out, err)

	case path == "/session/restart" && event.HTTPMethod == http.MethodPost:
		req, err := decodeBody(event)
		if err != nil {
			logger.Warn("invalid request body", "err", err)
			return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}
		}
		out, err := h.sessions.Restart(ctx, req.session())
		return result(logger, out, err)

	case path == "/session" || path == "/session/messages" || path == "/session/restart":
		return http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"}
	}
	return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound)}
}

func result(logger *slog.Logger, out usecase.SessionOutput, err error) (int, any) {
	if err != nil {
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error("session request failed", "code", code, "err", err)
		} else {
			logger.Warn("session request rejected", "code", code, "err", err)
		}
		return status, errorResponse{Error: string(code)}
	}
	if out.State.Messages == nil {
		out.State.Messages = []domain.ChatMessage{}
	}
	return http.StatusOK, sessionResponse{State: out.State, Accepted: out.Accepted}
}

func statusFor(err error) (int, usecase.ErrorCode) {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
	switch uerr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, uerr.Code
	case usecase.ErrorNotFound:
		return http.StatusNotFound, uerr.Code
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, uerr.Code
	case usecase.ErrorTimeout:
		return http.StatusGatewayTimeout, uerr.Code
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, uerr.Code
	}
	return http.StatusInternalServerError, usecase.ErrorInternal
}

func decodeBody(event events.APIGatewayProxyRequest) (sessionRequest, error) {
	raw := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return sessionRequest{}, err
		}
		raw = decoded
	}
	var req sessionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return sessionRequest{}, err
	}
	return req, nil
}

func respond(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(payload),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
