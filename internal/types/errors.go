package types

import "fmt"

// ErrorKind classifies a pipeline error by cause.
type ErrorKind string

const (
	ErrTransport               ErrorKind = "transport"
	ErrDecode                  ErrorKind = "decode"
	ErrConfig                  ErrorKind = "config"
	ErrCollaboratorUnavailable ErrorKind = "collaborator_unavailable"
	ErrCollaboratorFailure     ErrorKind = "collaborator_failure"
	ErrPublishFailure          ErrorKind = "publish_failure"
	ErrMaxReconnectExceeded    ErrorKind = "max_reconnect_exceeded"
)

// PipelineError wraps an underlying error with its taxonomy kind and the
// exchange it originated from, so handlers can branch on Kind without
// string-matching messages.
type PipelineError struct {
	Kind     ErrorKind
	Exchange string
	Err      error
}

func (e *PipelineError) Error() string {
	if e.Exchange != "" {
		return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Exchange, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewError builds a PipelineError.
func NewError(kind ErrorKind, exchange string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Exchange: exchange, Err: err}
}
