package db

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// seedCities are rough centre points demo users are scattered around.
var seedCities = []struct {
	Name     string
	Lat, Lng float64
}{
	{"london", 51.5074, -0.1278},
	{"manchester", 53.4808, -2.2426},
}

// SeedDemoData resets the database and populates it with demo users.
//
// Behavior:
//  1. Clears matches, slots, queue, messages, typing, presence and users.
//  2. Creates n users spread over two cities, alternating gender and seeking,
//     every 4th on the pro tier, free users with 3 exits.
//  3. Every 5th user has no coordinates, to exercise the distance-skip rule.
//
// Compatible with both MySQL and SQLite (sequence reset differs per dialect).
func SeedDemoData(db *gorm.DB, n int) ([]User, error) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	// --- Fresh start ---
	tables := []string{
		"reveal_views", "typing_statuses", "presences", "messages",
		"match_slots", "matches", "queue_entries", "users",
	}
	for _, table := range tables {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	switch db.Dialector.Name() {
	case "mysql":
		db.Exec("ALTER TABLE matches AUTO_INCREMENT = 1")
		db.Exec("ALTER TABLE queue_entries AUTO_INCREMENT = 1")
		db.Exec("ALTER TABLE users AUTO_INCREMENT = 1")
	case "sqlite":
		db.Exec("DELETE FROM sqlite_sequence WHERE name IN ('matches', 'queue_entries', 'users')")
	}

	log.Println("Cleared existing data")

	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	users := make([]User, 0, n)
	for i := 1; i <= n; i++ {
		gender, seeking := "man", "women"
		switch i % 3 {
		case 1:
			gender, seeking = "woman", "men"
		case 2:
			if i%2 == 0 {
				seeking = "everyone"
			}
		}

		tier, exits := TierFree, 3
		if i%4 == 0 {
			tier, exits = TierPro, 0
		}

		user := User{
			Username:         fmt.Sprintf("user%d", i),
			Email:            fmt.Sprintf("user%d@example.com", i),
			PasswordHash:     string(hash),
			Active:           true,
			Age:              20 + r.Intn(20),
			Gender:           gender,
			Seeking:          seeking,
			SubscriptionTier: tier,
			ExitsRemaining:   exits,
			Preferences:      Preferences{AgeMin: 18, AgeMax: 45, MaxDistanceKm: 50},
			LastLoginAt:      time.Now().Add(-time.Duration(r.Intn(500)) * time.Hour),
		}
		if i%5 != 0 {
			city := seedCities[i%len(seedCities)]
			lat := city.Lat + (r.Float64()-0.5)*0.2
			lng := city.Lng + (r.Float64()-0.5)*0.2
			user.Latitude, user.Longitude = &lat, &lng
		}

		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to seed user: %w", err)
		}
		users = append(users, user)
	}
	log.Printf("Seeded %d users.", n)

	return users, nil
}
