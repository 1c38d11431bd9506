package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrSessionStillOpen is returned when the provider refuses to expire a session
// that it still reports as open.
var ErrSessionStillOpen = errors.New("payment session is still open")

// SessionState is where a hosted session ended up once the store asked to
// close it.
type SessionState string

const (
	// SessionClosed means the session can no longer be paid: it was expired
	// now or had already lapsed at the provider.
	SessionClosed SessionState = "closed"
	// SessionPaid means the buyer completed the session and the money is captured.
	SessionPaid SessionState = "paid"
	// SessionSettling means the buyer completed the session but an
	// asynchronous payment method has not settled yet.
	SessionSettling SessionState = "settling"
)

// SessionLine is one purchasable line on the hosted payment page.
type SessionLine struct {
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// SessionRequest describes the payment session opened for one order.
type SessionRequest struct {
	OrderID       uuid.UUID
	CustomerEmail string
	Currency      string
	Lines         []SessionLine
	Surcharge     decimal.Decimal
	ExpiresAt     time.Time
}

// Session is the provider's handle for a hosted payment attempt.
type Session struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// SessionProvider opens and expires hosted payment sessions.
type SessionProvider interface {
	OpenSession(ctx context.Context, req SessionRequest) (*Session, error)
	ExpireSession(ctx context.Context, sessionID string) (SessionState, error)
}

// MinorUnits converts a two-decimal amount into the provider's integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
