// Package scoring talks to the optional compatibility scoring collaborator
// and supplies defaults when it is absent or failing.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/oggyb/blind-match/internal/db"
	"github.com/oggyb/blind-match/internal/metrics"
)

// NeutralScore is used whenever no real score is available.
const NeutralScore = 0.5

// Result is a compatibility annotation plus a reveal-delay hint.
type Result struct {
	Score       float64
	RevealHours int
}

// Scorer scores a pair of users.
type Scorer interface {
	Score(ctx context.Context, a, b *db.User) (Result, error)
}

// Policy turns an optional Scorer into a Result that is always usable.
type Policy struct {
	scorer   Scorer
	minHours int
	maxHours int
	log      *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPolicy builds a Policy. scorer may be nil.
func NewPolicy(scorer Scorer, minHours, maxHours int, rnd *rand.Rand, log *slog.Logger) *Policy {
	if minHours <= 0 {
		minHours = 12
	}
	if maxHours < minHours {
		maxHours = minHours
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Policy{scorer: scorer, minHours: minHours, maxHours: maxHours, rnd: rnd, log: log}
}

// Evaluate never fails: collaborator errors fall back to the neutral score
// and a uniformly random reveal delay within [minHours, maxHours].
func (p *Policy) Evaluate(ctx context.Context, a, b *db.User) Result {
	if p.scorer == nil {
		return Result{Score: NeutralScore, RevealHours: p.randomHours()}
	}

	res, err := p.scorer.Score(ctx, a, b)
	if err != nil {
		reason := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			reason = "circuit_open"
		}
		metrics.ScoringFallbacks.WithLabelValues(reason).Inc()
		p.log.Warn("scoring unavailable, using defaults", "user_a", a.ID, "user_b", b.ID, "err", err)
		return Result{Score: NeutralScore, RevealHours: p.randomHours()}
	}

	if res.Score < 0 || res.Score > 1 {
		res.Score = NeutralScore
	}
	switch {
	case res.RevealHours == 0:
		res.RevealHours = p.randomHours()
	case res.RevealHours < p.minHours:
		res.RevealHours = p.minHours
	case res.RevealHours > p.maxHours:
		res.RevealHours = p.maxHours
	}
	return res
}

func (p *Policy) randomHours() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minHours + p.rnd.Intn(p.maxHours-p.minHours+1)
}

// HTTPScorer posts the pair to an HTTP endpoint behind a circuit breaker.
type HTTPScorer struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type scoreRequest struct {
	UserA profile `json:"user_a"`
	UserB profile `json:"user_b"`
}

type profile struct {
	ID      uint64 `json:"id"`
	Age     int    `json:"age"`
	Gender  string `json:"gender"`
	Seeking string `json:"seeking"`
}

type scoreResponse struct {
	Score       float64 `json:"compatibility_score"`
	RevealHours int     `json:"recommended_reveal_hours"`
}

// NewHTTPScorer builds a scorer with a per-call timeout. The breaker opens
// after 5 requests with at least half failing and retries after 30s.
func NewHTTPScorer(url string, timeout time.Duration, log *slog.Logger) *HTTPScorer {
	return &HTTPScorer{
		url:    url,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "scoring",
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Info("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (s *HTTPScorer) Score(ctx context.Context, a, b *db.User) (Result, error) {
	out, err := s.breaker.Execute(func() (any, error) {
		return s.call(ctx, a, b)
	})
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

func (s *HTTPScorer) call(ctx context.Context, a, b *db.User) (Result, error) {
	body, err := json.Marshal(scoreRequest{UserA: toProfile(a), UserB: toProfile(b)})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("scoring returned %d", resp.StatusCode)
	}
	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Result{}, fmt.Errorf("decode scoring response: %w", err)
	}
	return Result{Score: sr.Score, RevealHours: sr.RevealHours}, nil
}

func toProfile(u *db.User) profile {
	return profile{ID: u.ID, Age: u.Age, Gender: u.Gender, Seeking: u.Seeking}
}
