package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	_ "time/tzdata"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/catalog"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/logger"
)

type seedOptions struct {
	services int
	bookings int
	days     int
	approve  float64
}

var treatments = []struct {
	name     string
	category string
	minutes  int
}{
	{"Scaling & Polishing", "Dental", 45},
	{"Filling", "Dental", 30},
	{"Whitening", "Cosmetic", 60},
	{"Braces Review", "Orthodontics", 30},
	{"Extraction", "Surgery", 45},
	{"Physiotherapy Session", "Therapy", 60},
	{"Eye Check-up", "Optometry", 30},
}

func main() {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Load demo services and guest bookings",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.services, "services", 4, "extra fake services on top of the default menu")
	cmd.Flags().IntVar(&opts.bookings, "bookings", 200, "booking attempts to make")
	cmd.Flags().IntVar(&opts.days, "days", 14, "spread bookings over this many days from today")
	cmd.Flags().Float64Var(&opts.approve, "approve", 0.4, "share of created bookings moved to Approved")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return errors.New("seed needs STORE_DRIVER=postgres")
	}

	zlog, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	template, err := appointment.ParseDayTemplate(cfg.BusinessHours)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, zlog)
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	cat := catalog.NewPgCatalog(pool)
	services, err := seedServices(ctx, cat, opts.services, zlog)
	if err != nil {
		return fmt.Errorf("seed services: %w", err)
	}

	svc := appointment.NewService(appointment.Deps{
		Repo:             appointment.NewPgRepository(pool, loc),
		Catalog:          cat,
		Logger:           zlog.Named("appointment"),
		Template:         template,
		Location:         loc,
		Timeout:          cfg.OperationTimeout,
		BookingIDLength:  cfg.BookingIDLength,
		BookingIDRetries: cfg.BookingIDRetries,
	})

	return seedBookings(ctx, svc, template, services, opts, zlog)
}

func seedServices(ctx context.Context, cat *catalog.PgCatalog, extra int, log *zap.Logger) ([]appointment.ServiceInfo, error) {
	services := catalog.DefaultServices()
	for i := 0; i < extra; i++ {
		t := treatments[gofakeit.Number(0, len(treatments)-1)]
		services = append(services, appointment.ServiceInfo{
			ID:              uuid.New(),
			Name:            fmt.Sprintf("%s %d", t.name, i+1),
			Category:        t.category,
			Price:           decimal.NewFromFloat(gofakeit.Price(200, 5000)).Round(2),
			TaxRate:         decimal.NewFromInt(int64(gofakeit.RandomInt([]int{0, 5, 12, 18}))),
			DurationMinutes: t.minutes,
		})
	}

	for _, s := range services {
		if err := cat.UpsertService(ctx, s); err != nil {
			return nil, err
		}
	}

	log.Info("services seeded", zap.Int("count", len(services)))
	return services, nil
}

func seedBookings(ctx context.Context, svc *appointment.Service, template appointment.DayTemplate, services []appointment.ServiceInfo, opts seedOptions, log *zap.Logger) error {
	today := svc.Today()
	var created, taken, approved int

	for i := 0; i < opts.bookings; i++ {
		service := services[gofakeit.Number(0, len(services)-1)]
		slots := template.SlotsForDay(service.DurationMinutes)
		if len(slots) == 0 {
			continue
		}
		slot := slots[gofakeit.Number(0, len(slots)-1)]
		day := today.AddDate(0, 0, gofakeit.Number(0, max(opts.days-1, 0)))

		appt, err := svc.CreateAppointment(ctx, appointment.CreateRequest{
			Date:      day,
			SlotStart: slot.Start,
			SlotEnd:   slot.End,
			ServiceID: service.ID,
			Guest: &appointment.GuestDetails{
				Name:  gofakeit.Name(),
				Email: gofakeit.Email(),
				Phone: gofakeit.Phone(),
			},
			Notes: "Referred by Dr. " + gofakeit.LastName(),
		})
		if errors.Is(err, appointment.ErrSlotAlreadyBooked) {
			taken++
			continue
		}
		if err != nil {
			return fmt.Errorf("booking %d: %w", i, err)
		}
		created++

		if gofakeit.Float64Range(0, 1) < opts.approve {
			if _, err := svc.UpdateStatus(ctx, appt.ID, appointment.StatusApproved, appointment.AdminActor()); err != nil {
				return fmt.Errorf("approve %s: %w", appt.BookingID, err)
			}
			approved++
		}
	}

	log.Info("bookings seeded",
		zap.Int("created", created),
		zap.Int("approved", approved),
		zap.Int("slot_taken", taken),
	)
	return nil
}
