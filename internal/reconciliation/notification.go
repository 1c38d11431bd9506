// Package reconciliation applies payment provider outcomes to hosted orders.
package reconciliation

import "github.com/google/uuid"

// Kind is the normalized meaning of a provider notification.
type Kind string

const (
	KindSucceeded Kind = "succeeded"
	KindCancelled Kind = "cancelled"
	// KindExpired cancels an order whose payment session lapsed unpaid.
	KindExpired Kind = "expired"
)

// Notification is a provider event reduced to what the order workflow needs.
type Notification struct {
	EventID   string
	Kind      Kind
	OrderID   uuid.UUID
	SessionID string
	Reason    string
}

// Outcome reports what a notification did. Every outcome is a success from
// the provider's point of view.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeAlreadyTerminal Outcome = "already_terminal"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeDuplicate       Outcome = "duplicate"
)
