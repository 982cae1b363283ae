package services

import "fmt"

// ConfigurationError means required setup is missing or unresolvable
// (e.g., no decision endpoint on the create spec). Never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ConnectionError wraps a transport connect/handshake failure. The record
// is persisted as status "error" and stays eligible for reconnect.
type ConnectionError struct {
	ClientID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error for client %s: %v", e.ClientID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DecisionProviderError covers timeouts, non-2xx responses and malformed
// payloads from the decision endpoint. It never escapes the decision
// engine; the fallback policy always resolves the turn.
type DecisionProviderError struct {
	Endpoint string
	Err      error
}

func (e *DecisionProviderError) Error() string {
	return fmt.Sprintf("decision provider %s: %v", e.Endpoint, e.Err)
}

func (e *DecisionProviderError) Unwrap() error { return e.Err }

// NotFoundError is returned for operations on an unknown client id.
type NotFoundError struct {
	ClientID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ai client not found: %s", e.ClientID)
}

// MissingGameTypeError is returned when a match assignment carries no game
// type and the record has none on file. The join is refused; this service
// never guesses a game type.
type MissingGameTypeError struct {
	ClientID string
	MatchID  string
}

func (e *MissingGameTypeError) Error() string {
	return fmt.Sprintf("no game type for client %s joining match %s", e.ClientID, e.MatchID)
}
