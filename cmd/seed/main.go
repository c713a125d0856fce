package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/admission"
	"github.com/hackgods/hospital-scheduling/internal/app"
	"github.com/hackgods/hospital-scheduling/internal/availability"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/domain"
	"github.com/hackgods/hospital-scheduling/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	doctors := flag.Int("doctors", 20, "doctors to give a weekly schedule")
	wards := flag.Int("wards", 4, "wards to create")
	rooms := flag.Int("rooms", 6, "rooms per ward")
	beds := flag.Int("beds", 4, "beds per room")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	b, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer func() { _ = b.Shutdown(context.Background()) }()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedSchedules(ctx, b.Availability, *doctors, log); err != nil {
		log.Fatal("seed schedules", zap.Error(err))
	}
	if err := seedBeds(ctx, b.Admissions, *wards, *rooms, *beds, log); err != nil {
		log.Fatal("seed beds", zap.Error(err))
	}

	log.Info("seed complete")
}

// weeklySchedule gives a doctor a morning and/or afternoon window on most
// weekdays, occasionally adding a Saturday clinic.
func weeklySchedule() []availability.SlotInput {
	var out []availability.SlotInput
	for day := time.Monday; day <= time.Friday; day++ {
		if gofakeit.Number(1, 10) <= 2 {
			continue
		}
		morning := gofakeit.Bool()
		afternoon := !morning || gofakeit.Bool()
		if morning {
			start := domain.NewClock(gofakeit.Number(7, 9), 0)
			out = append(out, availability.SlotInput{DayOfWeek: day, Start: start, End: domain.NewClock(12, 0), Enabled: true})
		}
		if afternoon {
			end := domain.NewClock(gofakeit.Number(16, 19), 30)
			out = append(out, availability.SlotInput{DayOfWeek: day, Start: domain.NewClock(13, 0), End: end, Enabled: true})
		}
	}
	if gofakeit.Number(1, 10) == 1 {
		out = append(out, availability.SlotInput{DayOfWeek: time.Saturday, Start: domain.NewClock(9, 0), End: domain.NewClock(13, 0), Enabled: true})
	}
	return out
}

func seedSchedules(ctx context.Context, svc *availability.Service, count int, log *zap.Logger) error {
	log.Info("seeding doctor schedules", zap.Int("doctors", count))

	for i := 0; i < count; i++ {
		id := uuid.New()
		slots, err := svc.ReplaceSchedule(ctx, id, weeklySchedule())
		if err != nil {
			return fmt.Errorf("doctor %s: %w", id, err)
		}
		log.Info("doctor scheduled",
			zap.String("doctor_id", id.String()),
			zap.String("name", "Dr. "+gofakeit.LastName()),
			zap.String("specialty", specialties[gofakeit.Number(0, len(specialties)-1)]),
			zap.Int("slots", len(slots)),
		)
	}
	return nil
}

func seedBeds(ctx context.Context, svc *admission.Service, wards, rooms, beds int, log *zap.Logger) error {
	log.Info("seeding beds", zap.Int("wards", wards), zap.Int("rooms_per_ward", rooms), zap.Int("beds_per_room", beds))

	total := 0
	for w := 0; w < wards; w++ {
		wardID := uuid.New()
		for r := 0; r < rooms; r++ {
			roomID := uuid.New()
			for n := 0; n < beds; n++ {
				number := fmt.Sprintf("%d%02d-%c", w+1, r+1, 'A'+n)
				if _, err := svc.RegisterBed(ctx, wardID, roomID, number); err != nil {
					return fmt.Errorf("bed %s: %w", number, err)
				}
				total++
			}
		}
		log.Info("ward seeded", zap.String("ward_id", wardID.String()), zap.Int("beds_so_far", total))
	}
	return nil
}
