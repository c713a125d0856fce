package main

import (
	"bytes"
	"context"
	"errors"
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

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/hospital-scheduling/internal/api"
	"github.com/hackgods/hospital-scheduling/internal/conflict"
	"github.com/hackgods/hospital-scheduling/internal/domain"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	BookingRatio   float64
	TransitionRate float64
	AdmissionRatio float64
	ReadRatio      float64
	Patients       int
	Beds           int
	WindowStart    domain.Clock
	WindowEnd      domain.Clock
	SlotLength     int // minutes
	Location       *time.Location
}

type DataPool struct {
	DoctorID uuid.UUID
	Date     time.Time
	WardID   uuid.UUID
	RoomID   uuid.UUID
	Patients []uuid.UUID
	Beds     []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
	admissions   []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) AddAdmission(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.admissions = append(dp.admissions, id)
}

func (dp *DataPool) random(list *[]uuid.UUID, rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(*list) == 0 {
		return uuid.Nil, false
	}
	return (*list)[rng.Intn(len(*list))], true
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	return dp.random(&dp.appointments, rng)
}

func (dp *DataPool) RandomAdmission(rng *rand.Rand) (uuid.UUID, bool) {
	return dp.random(&dp.admissions, rng)
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
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
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
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Booking    OperationMetrics
	Transition OperationMetrics
	Admit      OperationMetrics
	Discharge  OperationMetrics
	Read       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f transition=%.2f admission=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.TransitionRate, cfg.AdmissionRatio, cfg.ReadRatio)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := sim.prepare(ctx)
	if err != nil {
		log.Fatalf("prepare data: %v", err)
	}
	sim.pool = pool
	log.Printf("prepared: doctor=%s date=%s patients=%d beds=%d",
		pool.DoctorID, pool.Date.Format(domain.DateLayout), len(pool.Patients), len(pool.Beds))

	if err := sim.Run(); err != nil {
		log.Fatalf("simulation: %v", err)
	}

	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	if err := sim.Verify(verifyCtx); err != nil {
		log.Fatalf("INVARIANT VIOLATION: %v", err)
	}
	log.Println("invariants hold: no overlapping active appointments, no double-claimed beds")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.4),
		TransitionRate: getFloat("SIM_TRANSITION_RATIO", 0.2),
		AdmissionRatio: getFloat("SIM_ADMISSION_RATIO", 0.1),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.3),
		Patients:       getInt("SIM_PATIENTS", 200),
		Beds:           getInt("SIM_BEDS", 10),
		WindowStart:    domain.NewClock(9, 0),
		WindowEnd:      domain.NewClock(12, 0),
		SlotLength:     getInt("SIM_SLOT_MINUTES", 30),
	}

	// must match the server's FACILITY_TIMEZONE or bookings land outside the window
	loc, err := time.LoadLocation(getEnv("FACILITY_TIMEZONE", "UTC"))
	if err != nil {
		log.Fatalf("FACILITY_TIMEZONE: %v", err)
	}
	cfg.Location = loc

	// Normalize ratios
	total := cfg.BookingRatio + cfg.TransitionRate + cfg.AdmissionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRate /= total
		cfg.AdmissionRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 || cfg.Beds <= 0 {
		return fmt.Errorf("SIM_PATIENTS and SIM_BEDS must be > 0")
	}
	if cfg.SlotLength <= 0 || cfg.SlotLength > int(cfg.WindowEnd-cfg.WindowStart) {
		return fmt.Errorf("SIM_SLOT_MINUTES must fit inside the %s-%s window", cfg.WindowStart, cfg.WindowEnd)
	}
	return nil
}

// call sends a JSON request and decodes the response into out when the
// status is 2xx. It returns the status code.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// prepare creates a fresh doctor with one availability window a week from
// today and a room of beds, so repeated runs never interfere.
func (s *Simulator) prepare(ctx context.Context) (*DataPool, error) {
	dp := &DataPool{
		DoctorID: uuid.New(),
		Date:     domain.DateOf(time.Now().AddDate(0, 0, 7)),
		WardID:   uuid.New(),
		RoomID:   uuid.New(),
	}
	for i := 0; i < s.config.Patients; i++ {
		dp.Patients = append(dp.Patients, uuid.New())
	}

	status, err := s.call(ctx, http.MethodPut, "/doctors/"+dp.DoctorID.String()+"/availability",
		api.ReplaceScheduleRequest{Slots: []api.SlotRequest{{
			DayOfWeek: strconv.Itoa(int(dp.Date.Weekday())),
			Start:     s.config.WindowStart.String(),
			End:       s.config.WindowEnd.String(),
		}}}, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("create availability: status %d", status)
	}

	for i := 0; i < s.config.Beds; i++ {
		var bed api.BedResponse
		status, err := s.call(ctx, http.MethodPost, "/beds", api.RegisterBedRequest{
			WardID:    dp.WardID.String(),
			RoomID:    dp.RoomID.String(),
			BedNumber: fmt.Sprintf("SIM-%03d", i+1),
		}, &bed)
		if err != nil {
			return nil, err
		}
		if status != http.StatusCreated {
			return nil, fmt.Errorf("register bed: status %d", status)
		}
		dp.Beds = append(dp.Beds, bed.ID)
	}
	return dp, nil
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(ctx, workerID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Println("simulation complete")
	return nil
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < c.BookingRatio:
				s.doBooking(ctx, rng)
			case r < c.BookingRatio+c.TransitionRate:
				s.doTransition(ctx, rng)
			case r < c.BookingRatio+c.TransitionRate+c.AdmissionRatio:
				if rng.Intn(2) == 0 {
					s.doAdmit(ctx, rng)
				} else {
					s.doDischarge(ctx, rng)
				}
			default:
				s.doRead(ctx, rng)
			}
		}
	}
}

// record classifies an outcome; a cancelled context at the end of the run is
// not counted.
func record(ctx context.Context, om *OperationMetrics, start time.Time, status int, err error, ok int) {
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return
	}
	om.Record(time.Since(start), err == nil && status == ok, status == http.StatusConflict || status == http.StatusUnprocessableEntity)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	c := s.config
	steps := (int(c.WindowEnd-c.WindowStart) - c.SlotLength) / 15
	start := c.WindowStart + domain.Clock(15*rng.Intn(steps+1))
	y, m, d := s.pool.Date.Date()
	at := time.Date(y, m, d, start.Hour(), start.Minute(), 0, 0, c.Location)

	began := time.Now()
	var appt api.AppointmentResponse
	status, err := s.call(ctx, http.MethodPost, "/appointments", api.CreateAppointmentRequest{
		PatientID:       s.pool.Patients[rng.Intn(len(s.pool.Patients))].String(),
		DoctorID:        s.pool.DoctorID.String(),
		At:              at.Format(time.RFC3339),
		DurationMinutes: c.SlotLength,
	}, &appt)
	record(ctx, &s.metrics.Booking, began, status, err, http.StatusCreated)
	if err == nil && status == http.StatusCreated {
		s.pool.AddAppointment(appt.ID)
	}
}

var transitions = []string{"approve", "confirm", "cancel", "reject", "complete", "no-show"}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	action := transitions[rng.Intn(len(transitions))]

	began := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/"+action, nil, nil)
	record(ctx, &s.metrics.Transition, began, status, err, http.StatusOK)
}

func (s *Simulator) doAdmit(ctx context.Context, rng *rand.Rand) {
	began := time.Now()
	var adm api.AdmissionResponse
	status, err := s.call(ctx, http.MethodPost, "/admissions", api.AdmitRequest{
		PatientID:  s.pool.Patients[rng.Intn(len(s.pool.Patients))].String(),
		WardID:     s.pool.WardID.String(),
		RoomID:     s.pool.RoomID.String(),
		BedID:      s.pool.Beds[rng.Intn(len(s.pool.Beds))].String(),
		AdmittedBy: s.pool.DoctorID.String(),
	}, &adm)
	record(ctx, &s.metrics.Admit, began, status, err, http.StatusCreated)
	if err == nil && status == http.StatusCreated {
		s.pool.AddAdmission(adm.ID)
	}
}

func (s *Simulator) doDischarge(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAdmission(rng)
	if !ok {
		return
	}
	began := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/admissions/"+id.String()+"/discharge", nil, nil)
	record(ctx, &s.metrics.Discharge, began, status, err, http.StatusOK)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	var path string
	switch rng.Intn(3) {
	case 0:
		id, ok := s.pool.RandomAppointment(rng)
		if !ok {
			return
		}
		path = "/appointments/" + id.String()
	case 1:
		patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
		path = fmt.Sprintf("/appointments?patient_id=%s&limit=20&offset=0", patient)
	default:
		path = fmt.Sprintf("/beds?ward_id=%s&free=true", s.pool.WardID)
	}

	began := time.Now()
	status, err := s.call(ctx, http.MethodGet, path, nil, nil)
	record(ctx, &s.metrics.Read, began, status, err, http.StatusOK)
}

// Verify re-reads the final state and checks the two occupancy invariants.
func (s *Simulator) Verify(ctx context.Context) error {
	var list api.AppointmentListResponse
	path := fmt.Sprintf("/appointments?doctor_id=%s&date=%s&status=PENDING,APPROVED,SCHEDULED&limit=100",
		s.pool.DoctorID, s.pool.Date.Format(domain.DateLayout))
	if _, err := s.call(ctx, http.MethodGet, path, nil, &list); err != nil {
		return err
	}
	if list.Total > len(list.Items) {
		return fmt.Errorf("more active appointments (%d) than one page can verify", list.Total)
	}
	for i := 0; i < len(list.Items); i++ {
		for j := i + 1; j < len(list.Items); j++ {
			a, b := list.Items[i], list.Items[j]
			if conflict.IntervalsOverlap(a.Start, a.End, b.Start, b.End) {
				return fmt.Errorf("appointments %s [%s-%s] and %s [%s-%s] overlap", a.ID, a.Start, a.End, b.ID, b.Start, b.End)
			}
		}
	}

	var beds []api.BedResponse
	if _, err := s.call(ctx, http.MethodGet, "/beds?ward_id="+s.pool.WardID.String(), nil, &beds); err != nil {
		return err
	}
	holders := make(map[uuid.UUID]uuid.UUID)
	for _, b := range beds {
		if b.Occupied != (b.CurrentAdmissionID != nil) {
			return fmt.Errorf("bed %s: occupied=%t but current admission %v", b.ID, b.Occupied, b.CurrentAdmissionID)
		}
		if b.CurrentAdmissionID == nil {
			continue
		}
		if other, dup := holders[*b.CurrentAdmissionID]; dup {
			return fmt.Errorf("admission %s holds beds %s and %s", *b.CurrentAdmissionID, other, b.ID)
		}
		holders[*b.CurrentAdmissionID] = b.ID
	}
	log.Printf("verified %d active appointments and %d beds (%d occupied)", len(list.Items), len(beds), len(holders))
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Transition", &s.metrics.Transition)
	printOperationReport("Admit", &s.metrics.Admit)
	printOperationReport("Discharge", &s.metrics.Discharge)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflicts := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflicts > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflicts, float64(conflicts)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

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
