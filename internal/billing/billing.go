// Package billing converts provider cost into credits and records charges.
package billing

import (
	"context"
	"math"
	"sync"
)

// DefaultMargin is the markup applied on top of provider cost.
const DefaultMargin = 0.055

// Credits converts a dollar cost into whole credits after margin.
// One credit is one cent.
func Credits(costDollars, margin float64) int {
	return int(math.Round(costDollars * (1 + margin) * 100))
}

// WebSearchCredits is the charge for a single web search.
func WebSearchCredits(deep bool, margin float64) int {
	base := 1.0
	if deep {
		base = 5
	}
	return int(math.Round(base * (1 + margin)))
}

// Consumer charges credits to a user.
type Consumer interface {
	Consume(ctx context.Context, userID string, credits int, reason string) error
}

// Charge is one recorded consumption.
type Charge struct {
	UserID  string
	Credits int
	Reason  string
}

// Ledger is an in-memory Consumer.
type Ledger struct {
	mu      sync.Mutex
	charges []Charge
}

func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) Consume(_ context.Context, userID string, credits int, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.charges = append(l.charges, Charge{UserID: userID, Credits: credits, Reason: reason})
	return nil
}

// Charges returns a copy of the recorded charges.
func (l *Ledger) Charges() []Charge {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Charge(nil), l.charges...)
}

// Total sums the credits charged to userID, or to everyone when userID is empty.
func (l *Ledger) Total(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, c := range l.charges {
		if userID == "" || c.UserID == userID {
			total += c.Credits
		}
	}
	return total
}

// NoopConsumer accepts every charge.
type NoopConsumer struct{}

func (NoopConsumer) Consume(context.Context, string, int, string) error { return nil }
