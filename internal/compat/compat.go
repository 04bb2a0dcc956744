// Package compat decides whether two users may be paired.
//
// The predicate is directional: IsCompatible(candidate, requester) answers
// "does candidate satisfy requester's criteria, and does requester satisfy
// candidate's seeking". Matching requires Mutual, i.e. both directions.
package compat

import (
	"math"
	"strings"

	"github.com/oggyb/blind-match/internal/db"
)

const (
	DefaultAgeMin        = 18
	DefaultAgeMax        = 99
	DefaultMaxDistanceKm = 80.0

	// EarthRadiusKm is the mean radius used by the haversine formula.
	EarthRadiusKm = 6371.0

	SeekingEveryone = "everyone"
)

// genderClass maps a user's gender to the seeking value that accepts it.
var genderClass = map[string]string{
	"man":        "men",
	"male":       "men",
	"woman":      "women",
	"female":     "women",
	"nonbinary":  "nonbinary",
	"non-binary": "nonbinary",
}

// IsCompatible reports whether candidate is eligible for requester.
// Checks run cheapest first: age, seeking, distance.
func IsCompatible(candidate, requester *db.User) bool {
	if candidate == nil || requester == nil || candidate.ID == requester.ID {
		return false
	}

	minAge, maxAge := AgeWindow(requester.Preferences)
	if candidate.Age < minAge || candidate.Age > maxAge {
		return false
	}

	if !Seeks(requester, candidate) || !Seeks(candidate, requester) {
		return false
	}

	km, ok := DistanceKm(candidate, requester)
	if !ok {
		// either side has no coordinates: distance is not a constraint
		return true
	}
	return km <= MaxDistance(requester.Preferences)
}

// Mutual reports whether a and b are compatible from both perspectives.
func Mutual(a, b *db.User) bool {
	return IsCompatible(b, a) && IsCompatible(a, b)
}

// Seeks reports whether seeker's preference accepts other's gender.
func Seeks(seeker, other *db.User) bool {
	want := normalize(seeker.Seeking)
	if want == SeekingEveryone {
		return true
	}
	class, ok := genderClass[normalize(other.Gender)]
	return ok && class == want
}

// AgeWindow applies defaults to unset age bounds.
func AgeWindow(p db.Preferences) (int, int) {
	minAge, maxAge := p.AgeMin, p.AgeMax
	if minAge <= 0 {
		minAge = DefaultAgeMin
	}
	if maxAge <= 0 {
		maxAge = DefaultAgeMax
	}
	return minAge, maxAge
}

// MaxDistance applies the default to an unset distance limit.
func MaxDistance(p db.Preferences) float64 {
	if p.MaxDistanceKm <= 0 {
		return DefaultMaxDistanceKm
	}
	return p.MaxDistanceKm
}

// DistanceKm returns the great-circle distance between two users.
// ok is false when either user lacks coordinates.
func DistanceKm(a, b *db.User) (km float64, ok bool) {
	if a.Latitude == nil || a.Longitude == nil || b.Latitude == nil || b.Longitude == nil {
		return 0, false
	}
	return Haversine(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude), true
}

// Haversine returns the distance in km between two lat/lng points in degrees.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
