// Package catalog serves the read-only list of bookable clinic services.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

type PgCatalog struct {
	pool *pgxpool.Pool
}

func NewPgCatalog(pool *pgxpool.Pool) *PgCatalog {
	return &PgCatalog{pool: pool}
}

const serviceColumns = `id, name, category, location, price::text, tax_rate::text, duration_minutes`

func scanService(row pgx.Row) (*appointment.ServiceInfo, error) {
	var (
		s          appointment.ServiceInfo
		price, tax string
	)

	err := row.Scan(&s.ID, &s.Name, &s.Category, &s.Location, &price, &tax, &s.DurationMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrNotFound
		}
		return nil, err
	}

	if s.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	if s.TaxRate, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("parse tax rate %q: %w", tax, err)
	}

	return &s, nil
}

func (c *PgCatalog) GetService(ctx context.Context, id uuid.UUID) (*appointment.ServiceInfo, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE id = $1 AND active
	`, id)
	return scanService(row)
}

func (c *PgCatalog) ListServices(ctx context.Context) ([]appointment.ServiceInfo, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE active
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]appointment.ServiceInfo, 0)
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// UpsertService inserts or replaces a catalog entry. Used by the seeder.
func (c *PgCatalog) UpsertService(ctx context.Context, s appointment.ServiceInfo) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO services (id, name, category, location, price, tax_rate, duration_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    category = EXCLUDED.category,
		    location = EXCLUDED.location,
		    price = EXCLUDED.price,
		    tax_rate = EXCLUDED.tax_rate,
		    duration_minutes = EXCLUDED.duration_minutes,
		    updated_at = now()
	`, s.ID, s.Name, s.Category, s.Location, s.Price.String(), s.TaxRate.String(), s.DurationMinutes)
	if err != nil {
		return fmt.Errorf("upsert service %s: %w", s.ID, err)
	}
	return nil
}

// StaticCatalog keeps services in memory. It backs STORE_DRIVER=memory and
// tests.
type StaticCatalog struct {
	mu       sync.RWMutex
	services map[uuid.UUID]appointment.ServiceInfo
}

func NewStaticCatalog(services ...appointment.ServiceInfo) *StaticCatalog {
	c := &StaticCatalog{services: make(map[uuid.UUID]appointment.ServiceInfo, len(services))}
	for _, s := range services {
		c.services[s.ID] = s
	}
	return c
}

func (c *StaticCatalog) GetService(_ context.Context, id uuid.UUID) (*appointment.ServiceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.services[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	return &s, nil
}

func (c *StaticCatalog) ListServices(_ context.Context) ([]appointment.ServiceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]appointment.ServiceInfo, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (c *StaticCatalog) UpsertService(_ context.Context, s appointment.ServiceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services[s.ID] = s
	return nil
}

// DefaultServices is the starter menu used when running without a database.
func DefaultServices() []appointment.ServiceInfo {
	return []appointment.ServiceInfo{
		{
			ID:              uuid.MustParse("6f1c2b8e-3a4d-4c5e-9f10-1a2b3c4d5e01"),
			Name:            "Cleaning",
			Category:        "Dental",
			Price:           decimal.NewFromInt(500),
			TaxRate:         decimal.NewFromInt(10),
			DurationMinutes: 60,
		},
		{
			ID:              uuid.MustParse("6f1c2b8e-3a4d-4c5e-9f10-1a2b3c4d5e02"),
			Name:            "Consultation",
			Category:        "General",
			Price:           decimal.NewFromInt(300),
			TaxRate:         decimal.NewFromInt(5),
			DurationMinutes: 30,
		},
		{
			ID:              uuid.MustParse("6f1c2b8e-3a4d-4c5e-9f10-1a2b3c4d5e03"),
			Name:            "Root Canal",
			Category:        "Dental",
			Price:           decimal.RequireFromString("4500.50"),
			TaxRate:         decimal.NewFromInt(18),
			DurationMinutes: 90,
		},
	}
}
