package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/oggyb/blind-match/internal/auth"
	"github.com/oggyb/blind-match/internal/config"
	"github.com/oggyb/blind-match/internal/db"
)

func main() {
	n := flag.Int("users", 20, "number of demo users to create")
	flag.Parse()

	// Load configuration
	cfg := config.New()

	database, err := db.NewDB(cfg)
	if err != nil {
		log.Fatalf("failed to init db: %v", err)
	}

	users, err := db.SeedDemoData(database, *n)
	if err != nil {
		log.Fatalf("failed to seed: %v", err)
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalf("failed to init tokens: %v", err)
	}

	// bearer tokens for trying the API by hand
	for _, u := range users {
		tok, err := tokens.Issue(u.ID)
		if err != nil {
			log.Fatalf("failed to issue token for user %d: %v", u.ID, err)
		}
		fmt.Printf("%d\t%s\t%s/%s\t%s\n", u.ID, u.Username, u.Gender, u.Seeking, tok)
	}

	log.Println("Seeding completed.")
}
