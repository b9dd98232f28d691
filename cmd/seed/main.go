package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresched/booking-engine/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedWindows(context.Background(), pool, doctorIDs, 14); err != nil {
		log.Fatalf("seed windows: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
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

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := pool.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, "Dr. "+gofakeit.Name(), specialty)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	for i := 0; i < count; i++ {
		email := gofakeit.Email()
		_, err := pool.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, uuid.New(), gofakeit.Name(), email)
		if err != nil {
			return err
		}
	}
	return nil
}

// seedWindows gives each doctor a morning and an afternoon window per
// weekday for the next `days` days.
func seedWindows(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID, days int) error {
	log.Printf("seeding windows for %d doctors over %d days", len(doctorIDs), days)

	clinics := []string{"Main Clinic", "North Wing", "City Branch", "Telehealth"}

	for _, doctorID := range doctorIDs {
		clinic := clinics[gofakeit.Number(0, len(clinics)-1)]
		for d := 0; d < days; d++ {
			date := time.Now().UTC().AddDate(0, 0, d)
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

			// 09:00-12:00 and 14:00-17:00
			for _, span := range [][2]int{{9 * 60, 12 * 60}, {14 * 60, 17 * 60}} {
				_, err := pool.Exec(ctx, `
					INSERT INTO availability_windows (id, doctor_id, date, start_min, end_min, clinic_label, created_at)
					VALUES ($1, $2, $3, $4, $5, $6, now())
				`, uuid.New(), doctorID, day, span[0], span[1], clinic)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}
