// Package payment holds the clinic's payment collaborator: a mock card
// gateway and a circuit breaker that guards whichever gateway is configured.
package payment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

var (
	ErrDeclined        = errors.New("payment declined")
	ErrUnknownCharge   = errors.New("unknown charge")
	ErrAlreadyRefunded = errors.New("charge already refunded")
)

type charge struct {
	bookingID string
	amount    decimal.Decimal
	refunded  bool
}

// MockGateway approves every token except the configured decline tokens.
type MockGateway struct {
	mu      sync.Mutex
	decline []string
	charges map[string]*charge
}

func NewMockGateway(declineTokens []string) *MockGateway {
	return &MockGateway{
		decline: declineTokens,
		charges: make(map[string]*charge),
	}
}

func (g *MockGateway) Charge(ctx context.Context, req appointment.ChargeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", ErrDeclined)
	}
	if slices.Contains(g.decline, strings.TrimSpace(req.Token)) {
		return "", ErrDeclined
	}

	ref := "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[ref] = &charge{bookingID: req.BookingID, amount: req.Amount}

	return ref, nil
}

func (g *MockGateway) Refund(ctx context.Context, ref string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.charges[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCharge, ref)
	}
	if c.refunded {
		return ErrAlreadyRefunded
	}
	if amount.GreaterThan(c.amount) {
		return fmt.Errorf("refund %s exceeds captured %s", amount.StringFixed(2), c.amount.StringFixed(2))
	}
	c.refunded = true
	return nil
}

// Refunded reports whether ref was captured and then refunded.
func (g *MockGateway) Refunded(ref string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.charges[ref]
	return ok && c.refunded
}
