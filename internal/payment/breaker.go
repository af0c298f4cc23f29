package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // allowed through while half-open
	Interval         time.Duration // closed-state counter reset
	Timeout          time.Duration // open -> half-open
	FailureThreshold uint32        // consecutive failures that trip the breaker
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "payment-gateway",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker guards a PaymentGateway. Declines are business outcomes and never
// count as failures.
type Breaker struct {
	next appointment.PaymentGateway
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger
}

func NewBreaker(next appointment.PaymentGateway, cfg BreakerConfig, log *zap.Logger) *Breaker {
	b := &Breaker{next: next, log: log}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn("payment breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrDeclined)
		},
	})

	return b
}

func (b *Breaker) Charge(ctx context.Context, req appointment.ChargeRequest) (string, error) {
	ref, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Charge(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return ref.(string), nil
}

func (b *Breaker) Refund(ctx context.Context, ref string, amount decimal.Decimal) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Refund(ctx, ref, amount)
	})
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
