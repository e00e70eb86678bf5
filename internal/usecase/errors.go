package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/lhj1982/hotel-chatbot/internal/integrations/coreapi"
)

type ErrorCode string

const (
	ErrorInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrorNotFound            ErrorCode = "NOT_FOUND"
	ErrorConversationExpired ErrorCode = "CONVERSATION_EXPIRED"
	ErrorRateLimited         ErrorCode = "RATE_LIMITED"
	ErrorTimeout             ErrorCode = "TIMEOUT"
	ErrorUpstream            ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal            ErrorCode = "INTERNAL_ERROR"
)

const (
	sessionExpiredMessage = "Session expired. Please send your message again."
	timeoutMessage        = "Request timed out. Please try again."
	genericFailureMessage = "Something went wrong"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type messager interface {
	Message() string
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// classifySendError maps a failed turn to an error code. Only a missing
// conversation on the send step resets the session. Other 404s (an unknown
// or inactive widget key) keep the conversation and surface the server's detail.
func classifySendError(stage string, err error) *Error {
	switch {
	case stage == stageSend && errors.Is(err, coreapi.ErrConversationNotFound):
		return newError(ErrorConversationExpired, "conversation_not_found", err)
	case errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err):
		return newError(ErrorTimeout, stage+"_timeout", err)
	}
	if status, ok := upstreamStatusCode(err); ok {
		switch {
		case status == http.StatusTooManyRequests:
			return newError(ErrorRateLimited, stage+"_rate_limited", err)
		case status == http.StatusNotFound:
			return newError(ErrorNotFound, stage+"_not_found", err)
		}
		return newError(ErrorUpstream, stage+"_error", err)
	}
	return newError(ErrorUpstream, stage+"_request_failed", err)
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// displayMessage is the text placed in State.Error for a classified failure.
func displayMessage(e *Error) string {
	switch e.Code {
	case ErrorConversationExpired:
		return sessionExpiredMessage
	case ErrorTimeout:
		return timeoutMessage
	}
	var m messager
	if errors.As(e.Err, &m) && m.Message() != "" {
		return m.Message()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return genericFailureMessage
}
