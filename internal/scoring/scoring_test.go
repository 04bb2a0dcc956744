package scoring_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/blind-match/internal/db"
	"github.com/oggyb/blind-match/internal/logger"
	"github.com/oggyb/blind-match/internal/scoring"
)

type stubScorer struct {
	res scoring.Result
	err error
}

func (s stubScorer) Score(context.Context, *db.User, *db.User) (scoring.Result, error) {
	return s.res, s.err
}

var a, b = &db.User{ID: 1, Age: 25}, &db.User{ID: 2, Age: 27}

func TestPolicy_NoScorerUsesDefaults(t *testing.T) {
	p := scoring.NewPolicy(nil, 12, 120, rand.New(rand.NewSource(1)), logger.Discard())

	for i := 0; i < 200; i++ {
		res := p.Evaluate(context.Background(), a, b)
		assert.Equal(t, scoring.NeutralScore, res.Score)
		assert.GreaterOrEqual(t, res.RevealHours, 12)
		assert.LessOrEqual(t, res.RevealHours, 120)
	}
}

func TestPolicy_ErrorFallsBack(t *testing.T) {
	p := scoring.NewPolicy(stubScorer{err: errors.New("timeout")}, 12, 120, nil, logger.Discard())

	res := p.Evaluate(context.Background(), a, b)
	assert.Equal(t, scoring.NeutralScore, res.Score)
	assert.GreaterOrEqual(t, res.RevealHours, 12)
}

func TestPolicy_ClampsRecommendation(t *testing.T) {
	logs := logger.Discard()

	res := scoring.NewPolicy(stubScorer{res: scoring.Result{Score: 0.9, RevealHours: 2}}, 12, 120, nil, logs).
		Evaluate(context.Background(), a, b)
	assert.Equal(t, 0.9, res.Score)
	assert.Equal(t, 12, res.RevealHours)

	res = scoring.NewPolicy(stubScorer{res: scoring.Result{Score: 7, RevealHours: 500}}, 12, 120, nil, logs).
		Evaluate(context.Background(), a, b)
	assert.Equal(t, scoring.NeutralScore, res.Score, "out-of-range score is ignored")
	assert.Equal(t, 120, res.RevealHours)
}

func TestHTTPScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Contains(t, body, "user_a")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"compatibility_score":      0.8,
			"recommended_reveal_hours": 36,
		})
	}))
	defer srv.Close()

	s := scoring.NewHTTPScorer(srv.URL, time.Second, logger.Discard())
	res, err := s.Score(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.8, res.Score)
	assert.Equal(t, 36, res.RevealHours)
}

func TestHTTPScorer_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := scoring.NewHTTPScorer(srv.URL, time.Second, logger.Discard())
	for i := 0; i < 10; i++ {
		_, err := s.Score(context.Background(), a, b)
		assert.Error(t, err)
	}
	assert.Equal(t, int32(5), calls.Load(), "breaker stops calling after tripping")
}
