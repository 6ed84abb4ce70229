package aisdk

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrToolNotFound      = errors.New("tool not found")
	ErrToolNotExecutable = errors.New("tool has no execute function")
	ErrEmptyResponse     = errors.New("language model returned empty response")
	ErrNoModel           = errors.New("request has no language model")
	ErrNoText            = errors.New("no text response found")
)

// ToolCallError is a failed tool call. It is recorded inside the Tool message
// so the model can react to it; it never aborts a run.
type ToolCallError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *ToolCallError) Error() string {
	if e.Tool == "" {
		return "tool call failed: " + e.Message
	}
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

func (e *ToolCallError) Unwrap() error { return e.Cause }

type ErrorKind string

const (
	ErrKindAuth       ErrorKind = "auth"
	ErrKindRateLimit  ErrorKind = "rate_limit"
	ErrKindBadRequest ErrorKind = "bad_request"
	ErrKindNotFound   ErrorKind = "not_found"
	ErrKindServer     ErrorKind = "server"
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindCanceled   ErrorKind = "canceled"
	ErrKindParse      ErrorKind = "parse"
	ErrKindUnknown    ErrorKind = "unknown"
)

// ProviderError is a transport, HTTP or decoding failure reported by a
// LanguageModel adapter. It terminates the run.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	HTTPStatus int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func AsProviderError(err error) (*ProviderError, bool) {
	var e *ProviderError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// wrapProviderError classifies err for provider. Errors that already are a
// ProviderError pass through unchanged.
func wrapProviderError(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}
	pe := &ProviderError{Provider: provider, HTTPStatus: status, Kind: ErrKindUnknown, Cause: err}
	switch {
	case errors.Is(err, context.Canceled):
		pe.Kind = ErrKindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		pe.Kind = ErrKindTimeout
		pe.Retryable = true
	default:
		pe.Kind, pe.Retryable = classifyStatus(status)
	}
	return pe
}

func classifyStatus(status int) (ErrorKind, bool) {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuth, false
	case status == 404:
		return ErrKindNotFound, false
	case status == 408:
		return ErrKindTimeout, true
	case status == 429:
		return ErrKindRateLimit, true
	case status >= 500:
		return ErrKindServer, true
	case status >= 400:
		return ErrKindBadRequest, false
	default:
		return ErrKindUnknown, false
	}
}
