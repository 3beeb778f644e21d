// simulate drives concurrent booking traffic against a running api-server,
// deliberately racing many workers onto a small slot pool, then reports
// latencies and verifies that no slot was ever booked twice.
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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careloop/schedcore/internal/config"
	"github.com/careloop/schedcore/internal/db"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	BookRatio   float64
	CancelRatio float64
	ListRatio   float64
	MemberLimit int
	SlotLimit   int
	PostgresDSN string
}

type DataPool struct {
	Members   []uuid.UUID
	Slots     []uuid.UUID
	Providers []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rand.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
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

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95idx := len(latencies) * 95 / 100
	if p95idx >= len(latencies) {
		p95idx = len(latencies) - 1
	}
	p95 = latencies[p95idx]
	return
}

type Metrics struct {
	Book     OperationMetrics
	Cancel   OperationMetrics
	ListOpen OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics

	// successes per slot id; any count above one is a double booking
	bookWins sync.Map
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	log.Printf("config: duration=%s workers=%d book=%.2f cancel=%.2f list=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookRatio, cfg.CancelRatio, cfg.ListRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: %d members, %d slots, %d providers",
		len(dataPool.Members), len(dataPool.Slots), len(dataPool.Providers))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 10),
		BookRatio:   getFloat("SIM_BOOK_RATIO", 0.5),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.2),
		ListRatio:   getFloat("SIM_LIST_RATIO", 0.3),
		MemberLimit: getInt("SIM_MEMBER_LIMIT", 1000),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 200),
		PostgresDSN: baseCfg.PostgresDSN,
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM members LIMIT $1`, cfg.MemberLimit)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Members = append(dp.Members, id)
	}
	rows.Close()

	// A deliberately small slot pool so workers collide.
	rows, err = pool.Query(ctx, `
		SELECT id, provider_id FROM slots
		WHERE status = 'pending' AND member_id IS NULL AND start_time > now()
		ORDER BY start_time
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	providerSeen := map[uuid.UUID]bool{}
	for rows.Next() {
		var id, providerID uuid.UUID
		if err := rows.Scan(&id, &providerID); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Slots = append(dp.Slots, id)
		if !providerSeen[providerID] {
			providerSeen[providerID] = true
			dp.Providers = append(dp.Providers, providerID)
		}
	}
	rows.Close()

	if len(dp.Members) == 0 || len(dp.Slots) == 0 {
		return nil, fmt.Errorf("not enough seed data, run cmd/seed first")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	log.Printf("running %d workers for %s", s.config.Workers, s.config.Duration)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}
	wg.Wait()
}

func (s *Simulator) worker(ctx context.Context) {
	for ctx.Err() == nil {
		roll := rand.Float64()
		switch {
		case roll < s.config.BookRatio:
			s.doBook(ctx)
		case roll < s.config.BookRatio+s.config.CancelRatio:
			s.doCancel(ctx)
		default:
			s.doListOpen(ctx)
		}
	}
}

func (s *Simulator) doBook(ctx context.Context) {
	slotID := s.pool.Slots[rand.Intn(len(s.pool.Slots))]
	memberID := s.pool.Members[rand.Intn(len(s.pool.Members))]

	body, _ := json.Marshal(map[string]string{"member_id": memberID.String()})

	start := time.Now()
	status, err := s.post(ctx, fmt.Sprintf("/slots/%s/book", slotID), body)
	latency := time.Since(start)

	success := err == nil && (status == http.StatusOK || status == http.StatusAccepted)
	conflict := err == nil && status == http.StatusConflict
	s.metrics.Book.Record(latency, success, conflict)

	if success {
		s.pool.AddAppointment(slotID)
	}
	// 202 means the booking was queued, not confirmed; only a 200
	// counts as winning the slot.
	if err == nil && status == http.StatusOK {
		v, _ := s.bookWins.LoadOrStore(slotID, new(int64))
		atomic.AddInt64(v.(*int64), 1)
	}
}

func (s *Simulator) doCancel(ctx context.Context) {
	apptID, ok := s.pool.RandomAppointment()
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"reason": "simulated cancellation"})

	start := time.Now()
	status, err := s.post(ctx, fmt.Sprintf("/appointments/%s/cancel", apptID), body)
	latency := time.Since(start)

	success := err == nil && (status == http.StatusOK || status == http.StatusAccepted)
	conflict := err == nil && status == http.StatusConflict
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doListOpen(ctx context.Context) {
	providerID := s.pool.Providers[rand.Intn(len(s.pool.Providers))]

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.config.APIBaseURL+fmt.Sprintf("/providers/%s/slots", providerID), nil)
	if err != nil {
		s.metrics.ListOpen.Record(time.Since(start), false, false)
		return
	}
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.ListOpen.Record(latency, false, false)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	s.metrics.ListOpen.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func (s *Simulator) post(ctx context.Context, path string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println()
	fmt.Println("=== simulation report ===")
	printOp("book", &s.metrics.Book)
	printOp("cancel", &s.metrics.Cancel)
	printOp("list_open", &s.metrics.ListOpen)

	doubles := 0
	s.bookWins.Range(func(_, v any) bool {
		if atomic.LoadInt64(v.(*int64)) > 1 {
			doubles++
		}
		return true
	})
	if doubles == 0 {
		fmt.Println("double-booking check: OK (every contested slot booked at most once)")
	} else {
		fmt.Printf("double-booking check: FAILED (%d slots booked more than once)\n", doubles)
		os.Exit(1)
	}
}

func printOp(name string, om *OperationMetrics) {
	avg, min, max, p50, p95 := om.Stats()
	fmt.Printf("%-10s total=%d success=%d conflict=%d error=%d avg=%s min=%s max=%s p50=%s p95=%s\n",
		name,
		atomic.LoadInt64(&om.Total),
		atomic.LoadInt64(&om.Success),
		atomic.LoadInt64(&om.Conflict),
		atomic.LoadInt64(&om.Error),
		avg, min, max, p50, p95,
	)
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
