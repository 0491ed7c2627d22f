// SPDX-License-Identifier: Apache-2.0

// Package audit defines the audit events the issuance core emits and the
// publisher contract for shipping them. The transport is a collaborator;
// the core only hands events to a Publisher.
package audit

import (
	"context"
	"time"
)

// Event types emitted by the issuance core.
const (
	// EventTypeSessionStarted is emitted when a session is created.
	EventTypeSessionStarted = "session_started"

	// EventTypeTokenIssued is emitted when an access token is issued.
	EventTypeTokenIssued = "token_issued"
)

// Event is the audit record for a single issuance step.
type Event struct {
	// EventType is one of the EventType* constants.
	EventType string `json:"event_name"`

	// Timestamp is when the event occurred, epoch seconds.
	Timestamp int64 `json:"timestamp"`

	// SessionID identifies the session the event belongs to.
	SessionID string `json:"session_id"`

	// Subject is the user identifier the session was created for.
	Subject string `json:"user_id,omitempty"`

	// PersistentSessionID correlates across authentication journeys.
	PersistentSessionID string `json:"persistent_session_id,omitempty"`

	// ClientSessionID is the journey id used for correlation and logging.
	ClientSessionID string `json:"client_session_id,omitempty"`

	// ClientIPAddress is the caller's IP address.
	ClientIPAddress string `json:"ip_address,omitempty"`
}

// NewEvent creates an event of the given type stamped with the current time.
func NewEvent(eventType string) Event {
	return Event{
		EventType: eventType,
		Timestamp: time.Now().Unix(),
	}
}

// Publisher ships audit events to their transport.
type Publisher interface {
	// Publish sends one event. Implementations must not block beyond the
	// context's deadline.
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher discards events. Used when no audit queue is configured.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, Event) error {
	return nil
}
