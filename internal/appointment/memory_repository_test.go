package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoredAppointment(serviceID uuid.UUID, start time.Time, bookingID string) *Appointment {
	day := DayStart(start, start.Location())
	return &Appointment{
		BookingID:     bookingID,
		Date:          day,
		SlotStart:     start,
		SlotEnd:       start.Add(time.Hour),
		ServiceID:     serviceID,
		ServiceName:   "Cleaning",
		Guest:         &GuestDetails{Name: "Asha", Email: "asha@example.com", Phone: "9845012345"},
		TotalAmount:   decimal.RequireFromString("550"),
		PaymentStatus: PaymentPending,
		Status:        StatusPending,
	}
}

func TestMemoryRepository_ConcurrentCreateSameSlot(t *testing.T) {
	repo := NewMemoryRepository()
	serviceID := uuid.New()
	start := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	const n = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.CreateAppointment(context.Background(), newStoredAppointment(serviceID, start, fmt.Sprintf("BOOK%04d", i)))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrSlotAlreadyBooked):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)
}

func TestMemoryRepository_CancelFreesSlot(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	serviceID := uuid.New()
	start := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	first, err := repo.CreateAppointment(ctx, newStoredAppointment(serviceID, start, "FIRST001"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	taken, err := repo.IsSlotTaken(ctx, serviceID, start)
	require.NoError(t, err)
	assert.True(t, taken)

	cancelled, err := repo.UpdateAppointmentStatus(ctx, first.ID, StatusPending, StatusCancelled, PaymentPending)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cancelled.Version)

	taken, err = repo.IsSlotTaken(ctx, serviceID, start)
	require.NoError(t, err)
	assert.False(t, taken)

	_, err = repo.CreateAppointment(ctx, newStoredAppointment(serviceID, start, "SECOND01"))
	require.NoError(t, err)
}

func TestMemoryRepository_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	a, err := repo.CreateAppointment(ctx, newStoredAppointment(uuid.New(), time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC), "COND0001"))
	require.NoError(t, err)

	_, err = repo.UpdateAppointmentStatus(ctx, a.ID, StatusApproved, StatusVisited, PaymentPending)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.UpdateAppointmentStatus(ctx, uuid.New(), StatusPending, StatusApproved, PaymentPending)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_DuplicateBookingID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	start := time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)

	_, err := repo.CreateAppointment(ctx, newStoredAppointment(uuid.New(), start, "SAMECODE"))
	require.NoError(t, err)

	_, err = repo.CreateAppointment(ctx, newStoredAppointment(uuid.New(), start, "SAMECODE"))
	assert.ErrorIs(t, err, errBookingIDTaken)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	a, err := repo.CreateAppointment(ctx, newStoredAppointment(uuid.New(), time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC), "COPY0001"))
	require.NoError(t, err)

	a.Guest.Email = "mutated@example.com"
	a.Status = StatusVisited

	stored, err := repo.GetAppointmentByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", stored.Guest.Email)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestMemoryRepository_OccupiedSlotsByDay(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	cleaning, whitening := uuid.New(), uuid.New()
	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)

	_, err := repo.CreateAppointment(ctx, newStoredAppointment(cleaning, day.Add(14*time.Hour), "OCC00001"))
	require.NoError(t, err)
	_, err = repo.CreateAppointment(ctx, newStoredAppointment(whitening, day.Add(9*time.Hour), "OCC00002"))
	require.NoError(t, err)
	_, err = repo.CreateAppointment(ctx, newStoredAppointment(cleaning, day.Add(33*time.Hour), "OCC00003"))
	require.NoError(t, err)

	all, err := repo.ListOccupiedSlots(ctx, day, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].SlotStart.Before(all[1].SlotStart))

	scoped, err := repo.ListOccupiedSlots(ctx, day, &cleaning)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, cleaning, scoped[0].ServiceID)
}
