package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/careloop/schedcore/internal/db"
	"github.com/careloop/schedcore/internal/queue"
	"github.com/careloop/schedcore/internal/scheduling"
	"github.com/careloop/schedcore/internal/slot"
	"github.com/careloop/schedcore/internal/syncengine"
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

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	providers, err := seedProviders(context.Background(), pool, 25)
	if err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	if err := seedMembers(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed members: %v", err)
	}
	if err := seedAvailability(context.Background(), pool, providers); err != nil {
		log.Fatalf("seed availability: %v", err)
	}

	log.Println("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d providers", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Physiotherapy",
		"Nutrition",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"Dentistry",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedMembers(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d members", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO members (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, email)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// seedAvailability runs the real generator for each provider so seeded data
// obeys the same overlap and break rules as production writes.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, providers []uuid.UUID) error {
	log.Printf("generating availability for %d providers", len(providers))

	tmpDir, err := os.MkdirTemp("", "schedcore-seed-queue-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	q, err := queue.Open(tmpDir)
	if err != nil {
		return err
	}

	store := slot.NewPgStore(pool)
	engine := syncengine.New(store, q, zap.NewNop(), nil, 15*time.Second)
	svc := scheduling.NewService(store, engine, nil, zap.NewNop(), nil, 30*time.Minute)

	weekdays := []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
	}

	from := time.Now().AddDate(0, 0, 1)
	to := from.AddDate(0, 0, 13)

	total := 0
	for _, providerID := range providers {
		created, err := svc.GenerateAvailability(ctx, scheduling.GenerateParams{
			ProviderID:   providerID,
			From:         from,
			To:           to,
			DayStart:     9 * time.Hour,
			DayEnd:       17 * time.Hour,
			SlotDuration: 45 * time.Minute,
			Break:        15 * time.Minute,
			Weekdays:     weekdays,
		})
		if err != nil {
			return err
		}
		total += created
	}

	log.Printf("generated %d open slots", total)
	return nil
}
