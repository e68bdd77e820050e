// cleanup is a manual operator tool run before deployments or demos.
// Run: go run ./cmd/cleanup -mode users|scrub|challenges
//
//	users       deletes all unverified accounts
//	scrub       replaces every stored email with a unique placeholder
//	            (keeps the unique index satisfied, drops the PII)
//	challenges  removes consumed and expired verification codes
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/topspeed/backend/internal/infrastructure/postgres"
)

func main() {
	mode := flag.String("mode", "", "users | scrub | challenges")
	flag.Parse()

	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	switch *mode {
	case "users":
		tag, err := pool.Exec(ctx, `DELETE FROM users WHERE NOT verified`)
		if err != nil {
			log.Fatalf("delete unverified users: %v", err)
		}
		fmt.Printf("Deleted %d unverified accounts\n", tag.RowsAffected())

	case "scrub":
		// id-derived placeholders keep lower(email) unique.
		tag, err := pool.Exec(ctx,
			`UPDATE users
			 SET email = 'deleted_' || id || '@deleted.local',
			     pending_email = NULL,
			     updated_at = NOW()`)
		if err != nil {
			log.Fatalf("scrub emails: %v", err)
		}
		fmt.Printf("Scrubbed %d email addresses\n", tag.RowsAffected())

	case "challenges":
		repo := postgres.NewChallengeRepository(pool)
		n, err := repo.DeleteTerminalBefore(ctx, time.Now())
		if err != nil {
			log.Fatalf("delete challenges: %v", err)
		}
		fmt.Printf("Deleted %d terminal challenges\n", n)

	default:
		flag.Usage()
		os.Exit(2)
	}
}
