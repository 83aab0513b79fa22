package domain

import (
	"errors"
	"fmt"
)

// ErrDuplicateFunction is returned when a catalog name is registered twice.
var ErrDuplicateFunction = errors.New("function already registered")

// ValidationError reports arguments that do not match a function's schema.
type ValidationError struct {
	Function string
	Param    string
	Reason   string
}

func (e *ValidationError) Error() string { return e.Reason }

// UnknownFunctionError reports a call to a name outside the catalog.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function: %s", e.Name)
}

// HandlerError wraps a failure raised inside a function handler.
type HandlerError struct {
	Function string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("function %s: %v", e.Function, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ProviderError wraps a failed model invocation.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DeliveryError wraps a failed chat-platform send.
type DeliveryError struct {
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ErrDirectMessagesClosed is returned by a DirectMessenger when the
// recipient does not accept direct messages from the bot.
var ErrDirectMessagesClosed = errors.New("recipient does not accept direct messages")
