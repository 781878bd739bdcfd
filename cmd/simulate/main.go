package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reminder-engine/internal/api"
	"github.com/hackgods/slot-reminder-engine/internal/interval"
	"github.com/hackgods/slot-reminder-engine/internal/logging"
)

// SimConfig drives a contention run against a live api-server: many clients racing for the
// slots of one provider on one day.
type SimConfig struct {
	APIBaseURL  string        `envconfig:"SIM_API_BASE_URL" default:"http://localhost:8080"`
	Duration    time.Duration `envconfig:"SIM_DURATION" default:"30s"`
	Workers     int           `envconfig:"SIM_WORKERS" default:"10"`
	ProviderID  string        `envconfig:"SIM_PROVIDER_ID" required:"true"`
	Date        string        `envconfig:"SIM_DATE"` // YYYY-MM-DD, defaults to tomorrow
	SlotMinutes int           `envconfig:"SIM_SLOT_MINUTES" default:"30"`
	CancelRatio float64       `envconfig:"SIM_CANCEL_RATIO" default:"0.1"`
	Env         string        `envconfig:"APP_ENV" default:"dev"`
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

func (om *OperationMetrics) Percentiles() (p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Slots  OperationMetrics
	Book   OperationMetrics
	Cancel OperationMetrics
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics

	mu     sync.Mutex
	booked map[string]api.BookingResponse
}

func main() {
	var cfg SimConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
		os.Exit(1)
	}
	if cfg.Date == "" {
		cfg.Date = interval.FormatDate(time.Now().AddDate(0, 0, 1))
	}

	logger, err := logging.New(cfg.Env, "simulate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulate: logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		booked: make(map[string]api.BookingResponse),
	}

	sim.Run()
	sim.PrintReport()

	if overlaps := sim.Verify(); len(overlaps) > 0 {
		for _, o := range overlaps {
			logger.Error("double booking detected", zap.String("detail", o))
		}
		os.Exit(2)
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation",
		zap.Duration("duration", s.config.Duration),
		zap.Int("workers", s.config.Workers),
		zap.String("provider_id", s.config.ProviderID),
		zap.String("date", s.config.Date),
	)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	clientID := "client-" + strings.ToLower(gofakeit.FirstName())

	for ctx.Err() == nil {
		if rng.Float64() < s.config.CancelRatio {
			s.doCancel(ctx)
			continue
		}

		slots := s.doSlots(ctx)
		if len(slots) == 0 {
			// calendar is full, give cancellations a chance
			select {
			case <-ctx.Done():
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		s.doBook(ctx, clientID, slots[rng.Intn(len(slots))])
	}
}

func (s *Simulator) doSlots(ctx context.Context) []api.SlotResponse {
	url := fmt.Sprintf("%s/providers/%s/available-slots?date=%s&duration=%d",
		s.config.APIBaseURL, s.config.ProviderID, s.config.Date, s.config.SlotMinutes)

	var out api.AvailableSlotsResponse
	start := time.Now()
	code, err := s.do(ctx, http.MethodGet, url, nil, &out)
	s.metrics.Slots.Record(time.Since(start), err == nil && code == http.StatusOK, false)
	if err != nil || code != http.StatusOK {
		return nil
	}
	return out.Slots
}

func (s *Simulator) doBook(ctx context.Context, clientID string, slot api.SlotResponse) {
	req := api.CreateBookingRequest{
		ProviderID: s.config.ProviderID,
		ClientID:   clientID,
		Date:       s.config.Date,
		Start:      slot.Start,
		End:        slot.End,
		Duration:   s.config.SlotMinutes,
		Status:     "confirmed",
	}

	var out api.BookingResponse
	start := time.Now()
	code, err := s.do(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", req, &out)
	latency := time.Since(start)

	switch {
	case err != nil:
		s.metrics.Book.Record(latency, false, false)
	case code == http.StatusCreated:
		s.metrics.Book.Record(latency, true, false)
		s.mu.Lock()
		s.booked[out.ID] = out
		s.mu.Unlock()
	case code == http.StatusConflict || code == http.StatusServiceUnavailable:
		s.metrics.Book.Record(latency, false, true)
	default:
		s.metrics.Book.Record(latency, false, false)
	}
}

func (s *Simulator) doCancel(ctx context.Context) {
	s.mu.Lock()
	var id string
	for k := range s.booked {
		id = k
		break
	}
	if id != "" {
		delete(s.booked, id)
	}
	s.mu.Unlock()
	if id == "" {
		return
	}

	start := time.Now()
	code, err := s.do(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings/"+id+"/cancel", nil, nil)
	s.metrics.Cancel.Record(time.Since(start), err == nil && code == http.StatusOK, code == http.StatusConflict)
}

// Verify re-reads every booking the run created and reports any two still-active ones that overlap.
func (s *Simulator) Verify() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.mu.Lock()
	ids := make([]string, 0, len(s.booked))
	for id := range s.booked {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var active []api.BookingResponse
	for _, id := range ids {
		var b api.BookingResponse
		code, err := s.do(ctx, http.MethodGet, s.config.APIBaseURL+"/bookings/"+id, nil, &b)
		if err != nil || code != http.StatusOK {
			s.logger.Warn("verify: read booking", zap.String("booking_id", id), zap.Int("status", code), zap.Error(err))
			continue
		}
		if b.Status == "pending" || b.Status == "confirmed" {
			active = append(active, b)
		}
	}

	sort.Slice(active, func(i, j int) bool { return active[i].Start < active[j].Start })

	var overlaps []string
	for i := 1; i < len(active); i++ {
		if active[i].Start < active[i-1].End {
			overlaps = append(overlaps, fmt.Sprintf("%s [%s-%s] overlaps %s [%s-%s]",
				active[i-1].ID, active[i-1].Start, active[i-1].End,
				active[i].ID, active[i].Start, active[i].End))
		}
	}
	s.logger.Info("verification complete", zap.Int("active_bookings", len(active)), zap.Int("overlaps", len(overlaps)))
	return overlaps
}

func (s *Simulator) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Provider: %s on %s\n", s.config.ProviderID, s.config.Date)
	fmt.Println()

	printOperationReport("Available slots", &s.metrics.Slots)
	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Cancel", &s.metrics.Cancel)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	p50, p95, max := om.Percentiles()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: p50=%s p95=%s max=%s\n",
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}
