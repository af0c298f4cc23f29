package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/api"
	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	StatusRatio  float64
	ReadRatio    float64
	Days         int
	SlotLimit    int
	JWTSecret    string
}

// target is one bookable (service, day, slot) the workers race for.
type target struct {
	ServiceID uuid.UUID
	Date      string
	Start     string
	End       string
}

type booked struct {
	ID        uuid.UUID
	BookingID string
	Email     string
}

type DataPool struct {
	Targets  []target
	mu       sync.RWMutex
	bookings []booked
}

func (dp *DataPool) AddBooking(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return booked{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	n := len(latencies)
	avg = sum / time.Duration(n)
	min = latencies[0]
	max = latencies[n-1]
	p50 = latencies[min2(n*50/100, n-1)]
	p95 = latencies[min2(n*95/100, n-1)]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking      OperationMetrics
	Status       OperationMetrics
	Lookup       OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config     SimConfig
	pool       *DataPool
	client     *http.Client
	adminToken string
	metrics    Metrics
	log        *zap.Logger
}

func main() {
	_ = godotenv.Load()

	zlog, err := logger.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		zlog.Fatal("invalid config", zap.Error(err))
	}

	zlog.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("status", cfg.StatusRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	adminToken, err := api.IssueToken([]byte(cfg.JWTSecret), appointment.RoleAdmin, "simulator", cfg.Duration+time.Hour)
	if err != nil {
		zlog.Fatal("issue admin token", zap.Error(err))
	}

	sim := &Simulator{
		config:     cfg,
		client:     &http.Client{Timeout: 10 * time.Second},
		adminToken: adminToken,
		log:        zlog,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sim.pool, err = sim.loadDataPool(ctx)
	if err != nil {
		zlog.Fatal("load data pool", zap.Error(err))
	}
	zlog.Info("targets loaded", zap.Int("slots", len(sim.pool.Targets)))

	gofakeit.Seed(time.Now().UnixNano())

	sim.Run()
	sim.PrintReport()

	doubles, err := sim.verifyNoDoubleBooking(context.Background())
	if err != nil {
		zlog.Fatal("verify", zap.Error(err))
	}
	if doubles > 0 {
		zlog.Error("double bookings detected", zap.Int("slots", doubles))
		os.Exit(2)
	}
	zlog.Info("no slot holds more than one active appointment")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.6),
		StatusRatio:  getFloat("SIM_STATUS_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
		Days:         getInt("SIM_DAYS", 2),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 20),
		JWTSecret:    os.Getenv("JWT_SECRET"),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.StatusRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.SlotLimit <= 0 {
		return fmt.Errorf("SIM_SLOT_LIMIT must be > 0")
	}
	return nil
}

// loadDataPool keeps the target set small so many workers collide on the
// same slots.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	var services []api.ServiceResponse
	if _, err := s.call(ctx, http.MethodGet, "/api/services", "", nil, &services); err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("no services loaded")
	}

	dataPool := &DataPool{}
	today := time.Now()
	for day := 1; day <= s.config.Days; day++ {
		date := today.AddDate(0, 0, day).Format(appointment.DateFormat)
		for _, svc := range services {
			var slots []api.SlotResponse
			path := fmt.Sprintf("/api/services/%s/slots?date=%s", svc.ID, date)
			if _, err := s.call(ctx, http.MethodGet, path, "", nil, &slots); err != nil {
				return nil, fmt.Errorf("load slots: %w", err)
			}
			for _, slot := range slots {
				if slot.Available {
					dataPool.Targets = append(dataPool.Targets, target{
						ServiceID: svc.ID,
						Date:      date,
						Start:     slot.Start,
						End:       slot.End,
					})
				}
			}
		}
	}

	if len(dataPool.Targets) == 0 {
		return nil, fmt.Errorf("no open slots loaded")
	}
	rand.Shuffle(len(dataPool.Targets), func(i, j int) {
		dataPool.Targets[i], dataPool.Targets[j] = dataPool.Targets[j], dataPool.Targets[i]
	})
	if len(dataPool.Targets) > s.config.SlotLimit {
		dataPool.Targets = dataPool.Targets[:s.config.SlotLimit]
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.StatusRatio:
				s.doStatus(ctx, rng)
			case rng.Intn(2) == 0:
				s.doLookup(ctx, rng)
			default:
				s.doAvailability(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	email := gofakeit.Email()

	req := api.CreateAppointmentRequest{
		Date:      t.Date,
		SlotStart: t.Start,
		SlotEnd:   t.End,
		ServiceID: t.ServiceID.String(),
		Guest: &appointment.GuestDetails{
			Name:  gofakeit.Name(),
			Email: email,
			Phone: gofakeit.Phone(),
		},
	}

	start := time.Now()
	var view appointment.View
	status, err := s.call(ctx, http.MethodPost, "/api/appointments", "", req, &view)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success {
		s.pool.AddBooking(booked{ID: view.ID, BookingID: view.BookingID, Email: email})
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
}

var adminTargets = []appointment.AppointmentStatus{
	appointment.StatusApproved,
	appointment.StatusVisited,
	appointment.StatusCancelled,
	appointment.StatusMissed,
}

func (s *Simulator) doStatus(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	next := adminTargets[rng.Intn(len(adminTargets))]

	start := time.Now()
	status, err := s.call(ctx, http.MethodPut, "/api/appointments/"+b.ID.String()+"/status", s.adminToken,
		api.UpdateStatusRequest{Status: string(next)}, nil)
	latency := time.Since(start)

	s.metrics.Status.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doLookup(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/api/booking/check", "",
		api.BookingLookupRequest{BookingID: b.BookingID, Email: strings.ToUpper(b.Email)}, nil)
	latency := time.Since(start)

	s.metrics.Lookup.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/api/appointments/availability?date=%s&serviceId=%s", t.Date, t.ServiceID), "", nil, nil)
	latency := time.Since(start)

	s.metrics.Availability.Record(latency, err == nil && status == http.StatusOK, false)
}

// verifyNoDoubleBooking counts (service, slot) pairs holding more than one
// active appointment after the run.
func (s *Simulator) verifyNoDoubleBooking(ctx context.Context) (int, error) {
	type key struct {
		serviceID uuid.UUID
		date      string
	}
	seen := make(map[key]bool)
	doubles := 0

	for _, t := range s.pool.Targets {
		k := key{t.ServiceID, t.Date}
		if seen[k] {
			continue
		}
		seen[k] = true

		var occupied []api.OccupiedSlotResponse
		path := fmt.Sprintf("/api/appointments/availability?date=%s&serviceId=%s", t.Date, t.ServiceID)
		if _, err := s.call(ctx, http.MethodGet, path, "", nil, &occupied); err != nil {
			return 0, err
		}

		perSlot := make(map[string]int, len(occupied))
		for _, o := range occupied {
			perSlot[o.SlotStart]++
		}
		for slot, n := range perSlot {
			if n > 1 {
				s.log.Error("slot double booked",
					zap.String("service_id", t.ServiceID.String()),
					zap.String("date", t.Date),
					zap.String("slot", slot),
					zap.Int("active", n),
				)
				doubles++
			}
		}
	}
	return doubles, nil
}

// call sends a JSON request and decodes a 2xx body into out when out is set.
func (s *Simulator) call(ctx context.Context, method, path, bearer string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d\n", len(s.pool.Targets))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status change", &s.metrics.Status)
	printOperationReport("Guest lookup", &s.metrics.Lookup)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
