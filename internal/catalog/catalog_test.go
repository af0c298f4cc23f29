package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

func TestStaticCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewStaticCatalog(DefaultServices()...)

	list, err := c.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Cleaning", list[0].Name)
	assert.Equal(t, "Root Canal", list[1].Name)
	assert.Equal(t, "Consultation", list[2].Name)

	cleaning, err := c.GetService(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "550.00", cleaning.TotalAmount().StringFixed(2))

	_, err = c.GetService(ctx, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrNotFound)
}

func TestStaticCatalog_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	c := NewStaticCatalog()
	id := uuid.New()

	require.NoError(t, c.UpsertService(ctx, appointment.ServiceInfo{ID: id, Name: "Scaling", Price: decimal.NewFromInt(100), DurationMinutes: 30}))
	require.NoError(t, c.UpsertService(ctx, appointment.ServiceInfo{ID: id, Name: "Scaling", Price: decimal.NewFromInt(150), DurationMinutes: 30}))

	got, err := c.GetService(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(150)))
}

func TestRootCanalTotal(t *testing.T) {
	for _, s := range DefaultServices() {
		if s.Name == "Root Canal" {
			// 4500.50 + 18% = 5310.59
			assert.Equal(t, "5310.59", s.TotalAmount().StringFixed(2))
		}
	}
}
