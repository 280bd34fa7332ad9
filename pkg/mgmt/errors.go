package mgmt

import (
	"errors"
	"fmt"
)

// ErrNoSessionID is returned when a login output carries no sid.
var ErrNoSessionID = errors.New("login output has no sid")

// ErrorClass represents a classification of management API errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx errors: bad request, wrong session, permissions.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx errors, typically the API server being busy
	// (e.g. while a policy is being installed).
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents connection and transport failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassCommand represents a mgmt_cli invocation exiting non-zero.
	ErrorClassCommand ErrorClass = "command"
)

// APIError is a management API failure with additional context.
type APIError struct {
	Command    string
	StatusCode int
	Class      ErrorClass
	Code       string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	detail := e.Message
	if e.Code != "" {
		detail = e.Code + ": " + e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s error (status %d): %s: %v",
			e.Command, e.Class, e.StatusCode, detail, e.Err)
	}
	return fmt.Sprintf("%s: %s error (status %d): %s",
		e.Command, e.Class, e.StatusCode, detail)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus categorizes an HTTP status code.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
