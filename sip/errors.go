package sip

import "fmt"

// ConfigError describes an unreadable or invalid configuration input.  It is
// fatal at startup.
type ConfigError struct {
	// Source is the file path or flag the bad value came from.
	Source string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Source, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AuthError means required credentials were not supplied.  No request can
// succeed without them, so it is fatal.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError is a failed exchange with the instrument: network fault,
// timeout, non-success status, or a page that does not confirm the run.
// It is recoverable per slot; the driver logs it and moves on.
type TransportError struct {
	URL    string
	Status int // HTTP status, zero if the request never completed
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	s := "transport " + e.URL + ": " + e.Reason
	if e.Status != 0 {
		s = fmt.Sprintf("%s (status %d)", s, e.Status)
	}
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

func (e *TransportError) Unwrap() error { return e.Err }
