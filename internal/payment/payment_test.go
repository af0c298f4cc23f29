package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

func chargeReq(token string) appointment.ChargeRequest {
	return appointment.ChargeRequest{
		BookingID: "K7XQ2M9P",
		Token:     token,
		Amount:    decimal.RequireFromString("550.00"),
		Email:     "asha@example.com",
	}
}

func TestMockGateway_ChargeAndRefund(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway([]string{"tok_decline"})

	ref, err := g.Charge(ctx, chargeReq("tok_visa"))
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.False(t, g.Refunded(ref))

	require.NoError(t, g.Refund(ctx, ref, decimal.RequireFromString("550")))
	assert.True(t, g.Refunded(ref))

	assert.ErrorIs(t, g.Refund(ctx, ref, decimal.RequireFromString("550")), ErrAlreadyRefunded)
	assert.ErrorIs(t, g.Refund(ctx, "ch_missing", decimal.NewFromInt(1)), ErrUnknownCharge)
}

func TestMockGateway_Declines(t *testing.T) {
	g := NewMockGateway([]string{"tok_decline"})

	_, err := g.Charge(context.Background(), chargeReq(" tok_decline "))
	assert.ErrorIs(t, err, ErrDeclined)

	zero := chargeReq("tok_visa")
	zero.Amount = decimal.Zero
	_, err = g.Charge(context.Background(), zero)
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestMockGateway_RefundOverCapture(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway(nil)

	ref, err := g.Charge(ctx, chargeReq("tok_visa"))
	require.NoError(t, err)
	assert.Error(t, g.Refund(ctx, ref, decimal.RequireFromString("550.01")))
	assert.False(t, g.Refunded(ref))
}

type flakyGateway struct {
	mock.Mock
}

func (f *flakyGateway) Charge(ctx context.Context, req appointment.ChargeRequest) (string, error) {
	args := f.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (f *flakyGateway) Refund(ctx context.Context, ref string, amount decimal.Decimal) error {
	args := f.Called(ctx, ref, amount)
	return args.Error(0)
}

func testBreakerConfig() BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	return cfg
}

func TestBreaker_TripsOnGatewayFailures(t *testing.T) {
	next := &flakyGateway{}
	next.On("Charge", mock.Anything, mock.Anything).Return("", errors.New("gateway unavailable")).Twice()

	b := NewBreaker(next, testBreakerConfig(), zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := b.Charge(context.Background(), chargeReq("tok_visa"))
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Charge(context.Background(), chargeReq("tok_visa"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	next.AssertNumberOfCalls(t, "Charge", 2)
}

func TestBreaker_DeclinesDoNotTrip(t *testing.T) {
	b := NewBreaker(NewMockGateway([]string{"tok_decline"}), testBreakerConfig(), zap.NewNop())

	for i := 0; i < 5; i++ {
		_, err := b.Charge(context.Background(), chargeReq("tok_decline"))
		assert.ErrorIs(t, err, ErrDeclined)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())

	ref, err := b.Charge(context.Background(), chargeReq("tok_visa"))
	require.NoError(t, err)
	assert.NoError(t, b.Refund(context.Background(), ref, decimal.RequireFromString("550")))
}
