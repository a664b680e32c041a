package engine

import (
	"errors"
	"fmt"
)

// Kind identifies a well-known engine error surfaced to the façade's
// callers. Values are the wire codes the HTTP layer returns verbatim.
type Kind string

// Engine error kinds.
const (
	KindCampaignNotActive Kind = "CAMPAIGN_NOT_ACTIVE"
	KindNoAgentsAssigned  Kind = "NO_AGENTS_ASSIGNED"
	KindNoLeadsAvailable  Kind = "NO_LEADS_AVAILABLE"
	KindAgentNotAvailable Kind = "AGENT_NOT_AVAILABLE"
	KindLeadNotInCampaign Kind = "LEAD_NOT_IN_CAMPAIGN"
	KindInvalidDialerMode Kind = "INVALID_DIALER_MODE"
	KindDialerNotRunning  Kind = "DIALER_NOT_RUNNING"
	KindAMIUnreachable    Kind = "AMI_UNREACHABLE"
	KindAMIAuthFailed     Kind = "AMI_AUTH_FAILED"
	KindAMIActionTimeout  Kind = "AMI_ACTION_TIMEOUT"
	KindConnectionLost    Kind = "CONNECTION_LOST"
	KindAgentBusy         Kind = "AGENT_BUSY"
	KindInvalidStatus     Kind = "INVALID_STATUS"
)

// Error is a typed engine error carrying its wire code, so callers branch
// with errors.As instead of string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error returns the formatted message.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an engine error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an engine error around an underlying cause.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the engine error kind from an error chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
