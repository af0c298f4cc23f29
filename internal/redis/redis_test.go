package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/notify"
)

// testClient connects to REDIS_ADDR or skips.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb, err := NewRedisClient(context.Background(), addr, os.Getenv("REDIS_USERNAME"), os.Getenv("REDIS_PASSWORD"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestSlotLockKey(t *testing.T) {
	id := uuid.MustParse("6f1c2b8e-3a4d-4c5e-9f10-1a2b3c4d5e01")
	start := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "lock:slot:6f1c2b8e-3a4d-4c5e-9f10-1a2b3c4d5e01:1773309600", slotLockKey(id, start))

	// Same instant, different zone: same key.
	ist := time.FixedZone("IST", 5*3600+1800)
	assert.Equal(t, slotLockKey(id, start), slotLockKey(id, start.In(ist)))
}

func TestRelay_DeliverFeedsHub(t *testing.T) {
	hub := notify.NewHub(zap.NewNop())
	session := hub.Subscribe("admin")
	relay := NewRelay(nil, "events", hub, zap.NewNop())

	a := appointment.Appointment{
		ID:          uuid.New(),
		BookingID:   "K7XQ2M9P",
		Date:        time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("550"),
		Status:      appointment.StatusApproved,
		Version:     2,
	}
	data, err := json.Marshal(notify.NewEvent(appointment.EventUpdated, a))
	require.NoError(t, err)

	relay.deliver(context.Background(), "not json")
	relay.deliver(context.Background(), string(data))

	select {
	case msg := <-session.Send:
		var ev notify.Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, a.ID, ev.AppointmentID)
		assert.Equal(t, appointment.StatusApproved, ev.Appointment.Status)
	case <-time.After(time.Second):
		t.Fatal("relay did not deliver")
	}
}

func TestSlotLocker_SerializesHolders(t *testing.T) {
	rdb := testClient(t)
	locker := NewSlotLocker(rdb, 2*time.Second, 50*time.Millisecond, zap.NewNop())
	serviceID, start := uuid.New(), time.Now().Truncate(time.Hour)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- locker.WithSlotLock(context.Background(), serviceID, start, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	var ran atomic.Bool
	err := locker.WithSlotLock(context.Background(), serviceID, start, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, ran.Load())

	close(release)
	require.NoError(t, <-done)

	err = locker.WithSlotLock(context.Background(), serviceID, start, func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSlotLocker_PassesFnError(t *testing.T) {
	rdb := testClient(t)
	locker := NewSlotLocker(rdb, time.Second, 50*time.Millisecond, zap.NewNop())
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), uuid.New(), time.Now(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRelay_RoundTrip(t *testing.T) {
	rdb := testClient(t)
	hub := notify.NewHub(zap.NewNop())
	session := hub.Subscribe("admin")

	channel := "test:events:" + uuid.NewString()
	relay := NewRelay(rdb, channel, hub, zap.NewNop())
	hub.SetForwarder(relay)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] == 1
	}, 2*time.Second, 20*time.Millisecond)

	hub.Notify(ctx, appointment.EventCreated, appointment.Appointment{ID: uuid.New(), Version: 1})

	select {
	case <-session.Send:
	case <-time.After(2 * time.Second):
		t.Fatal("event did not come back through redis")
	}
}
