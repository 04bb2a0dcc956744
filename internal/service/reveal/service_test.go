package reveal_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/oggyb/blind-match/internal/db"
	svcErr "github.com/oggyb/blind-match/internal/errors"
	"github.com/oggyb/blind-match/internal/events"
	"github.com/oggyb/blind-match/internal/notify"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
	"github.com/oggyb/blind-match/internal/service/reveal"
	"github.com/oggyb/blind-match/internal/testutil"
)

// seedMatch creates users 1 and 2 and an active match between them whose
// deadline is `after` from the env clock.
func seedMatch(t *testing.T, env *testutil.Env, after time.Duration) *db.Match {
	t.Helper()

	testutil.SeedUser(t, env.DB, db.User{ID: 1, Age: 25, Gender: "man", Seeking: "women"})
	testutil.SeedUser(t, env.DB, db.User{ID: 2, Age: 27, Gender: "woman", Seeking: "men"})
	testutil.SeedUser(t, env.DB, db.User{ID: 3, Age: 30, Gender: "woman", Seeking: "men"})

	m := db.Match{
		UserAID:           1,
		UserBID:           2,
		Status:            db.MatchStatusActive,
		RevealAvailableAt: env.Clock.Now().Add(after),
	}
	require.NoError(t, env.DB.Create(&m).Error)
	require.NoError(t, env.DB.Create(&[]db.MatchSlot{
		{UserID: 1, MatchID: m.ID}, {UserID: 2, MatchID: m.ID},
	}).Error)
	return &m
}

func reload(t *testing.T, env *testutil.Env, id uint64) db.Match {
	t.Helper()
	var m db.Match
	require.NoError(t, env.DB.First(&m, id).Error)
	return m
}

func TestRequestReveal_Mutual(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := reveal.NewService(env.App)
	m := seedMatch(t, env, 48*time.Hour)
	ctx := context.Background()

	outcome, got, err := svc.RequestReveal(ctx, 1, m.ID)
	require.NoError(t, err)
	assert.Equal(t, reveal.OutcomeWaiting, outcome)
	assert.Equal(t, db.MatchStatusActive, got.Status)
	require.NotNil(t, got.RevealRequestedBy)
	assert.Equal(t, uint64(1), *got.RevealRequestedBy)

	// partner gets told exactly once
	assert.Equal(t, 1, env.Notes.For(2, notify.KindRevealRequested))
	assert.Len(t, env.Broadcasts.OfType(protocol.TypeRevealRequested), 1)

	outcome, got, err = svc.RequestReveal(ctx, 2, m.ID)
	require.NoError(t, err)
	assert.Equal(t, reveal.OutcomeRevealed, outcome)
	assert.Equal(t, db.MatchStatusRevealed, got.Status)
	require.NotNil(t, got.RevealedAt)

	stored := reload(t, env, m.ID)
	assert.Equal(t, db.MatchStatusRevealed, stored.Status)
	assert.Equal(t, 1, env.Events.Count(events.TypeMatchRevealed))
	assert.Equal(t, 1, env.Notes.For(1, notify.KindRevealed))
	assert.Equal(t, 1, env.Notes.For(2, notify.KindRevealed))
	assert.Len(t, env.Broadcasts.OfType(protocol.TypeMatchRevealed), 1)
}

func TestRequestReveal_SameUserTwiceIsIdempotent(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := reveal.NewService(env.App)
	m := seedMatch(t, env, 48*time.Hour)
	ctx := context.Background()

	_, _, err := svc.RequestReveal(ctx, 1, m.ID)
	require.NoError(t, err)
	first := reload(t, env, m.ID)

	env.Clock.Advance(time.Minute)
	outcome, _, err := svc.RequestReveal(ctx, 1, m.ID)
	require.NoError(t, err)
	assert.Equal(t, reveal.OutcomeWaiting, outcome)

	second := reload(t, env, m.ID)
	assert.Equal(t, db.MatchStatusActive, second.Status)
	assert.Equal(t, uint64(1), *second.RevealRequestedBy)
	assert.True(t, second.RevealRequestedAt.After(*first.RevealRequestedAt), "timestamp is re-affirmed")

	// no second nudge for the partner
	assert.Equal(t, 1, env.Notes.For(2, notify.KindRevealRequested))
}

func TestRequestReveal_ConcurrentBothSides(t *testing.T) {
	for i := 0; i < 10; i++ {
		t.Run(fmt.Sprintf("run_%d", i), func(t *testing.T) {
			env := testutil.NewEnv(t)
			svc := reveal.NewService(env.App)
			m := seedMatch(t, env, 48*time.Hour)

			var wg sync.WaitGroup
			outcomes := make([]reveal.Outcome, 2)
			errs := make([]error, 2)
			for idx, uid := range []uint64{1, 2} {
				wg.Add(1)
				go func(idx int, uid uint64) {
					defer wg.Done()
					outcomes[idx], _, errs[idx] = svc.RequestReveal(context.Background(), uid, m.ID)
				}(idx, uid)
			}
			wg.Wait()

			require.NoError(t, errs[0])
			require.NoError(t, errs[1])
			assert.ElementsMatch(t, []reveal.Outcome{reveal.OutcomeWaiting, reveal.OutcomeRevealed}, outcomes)

			stored := reload(t, env, m.ID)
			assert.Equal(t, db.MatchStatusRevealed, stored.Status)
			assert.NotNil(t, stored.RevealedAt)
			assert.Equal(t, 1, env.Events.Count(events.TypeMatchRevealed))
		})
	}
}

func TestRequestReveal_DeadlineBoundaryIsInclusive(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := reveal.NewService(env.App)
	m := seedMatch(t, env, 12*time.Hour)

	env.Clock.Set(m.RevealAvailableAt)

	outcome, got, err := svc.RequestReveal(context.Background(), 1, m.ID)
	require.NoError(t, err)
	assert.Equal(t, reveal.OutcomeRevealed, outcome, "no agreement needed once the deadline is reached")
	assert.Equal(t, db.MatchStatusRevealed, got.Status)
}

func TestForceReveal(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := reveal.NewService(env.App)
	m := seedMatch(t, env, 12*time.Hour)
	ctx := context.Background()

	env.Clock.Set(m.RevealAvailableAt.Add(-time.Second))
	_, err := svc.ForceReveal(ctx, 2, m.ID)
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, svcErr.Code(err))

	env.Clock.Set(m.RevealAvailableAt)
	got, err := svc.ForceReveal(ctx, 2, m.ID)
	require.NoError(t, err)
	assert.Equal(t, db.MatchStatusRevealed, got.Status)

	// already revealed is fine
	got, err = svc.ForceReveal(ctx, 1, m.ID)
	require.NoError(t, err)
	assert.Equal(t, db.MatchStatusRevealed, got.Status)
	assert.Equal(t, 1, env.Events.Count(events.TypeMatchRevealed))
}

func TestApplyDeadline(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := reveal.NewService(env.App)
	m := seedMatch(t, env, 12*time.Hour)
	ctx := context.Background()

	got, err := svc.ApplyDeadline(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, db.MatchStatusActive, got.Status)

	env.Clock.Advance(13 * time.Hour)
	got, err = svc.ApplyDeadline(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, db.MatchStatusRevealed, got.Status)
	assert.Equal(t, db.MatchStatusRevealed, reload(t, env, m.ID).Status)
}

func TestRequestReveal_Rejections(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := reveal.NewService(env.App)
	m := seedMatch(t, env, 48*time.Hour)
	ctx := context.Background()

	_, _, err := svc.RequestReveal(ctx, 3, m.ID)
	assert.Equal(t, codes.PermissionDenied, svcErr.Code(err))

	_, _, err = svc.RequestReveal(ctx, 1, 999)
	assert.Equal(t, codes.NotFound, svcErr.Code(err))

	require.NoError(t, env.DB.Model(&db.Match{}).Where("id = ?", m.ID).
		Update("status", db.MatchStatusExitedB).Error)
	_, _, err = svc.RequestReveal(ctx, 1, m.ID)
	assert.Equal(t, codes.FailedPrecondition, svcErr.Code(err))
}

func TestMarkSeen(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := reveal.NewService(env.App)
	m := seedMatch(t, env, 48*time.Hour)
	ctx := context.Background()

	_, err := svc.MarkSeen(ctx, 1, m.ID)
	assert.Equal(t, codes.FailedPrecondition, svcErr.Code(err))

	_, _, err = svc.RequestReveal(ctx, 1, m.ID)
	require.NoError(t, err)
	_, _, err = svc.RequestReveal(ctx, 2, m.ID)
	require.NoError(t, err)

	firstSeen, err := svc.MarkSeen(ctx, 1, m.ID)
	require.NoError(t, err)

	env.Clock.Advance(time.Hour)
	again, err := svc.MarkSeen(ctx, 1, m.ID)
	require.NoError(t, err)
	assert.True(t, firstSeen.Equal(again), "first acknowledgement is kept")

	partner, err := svc.SeenAt(ctx, m.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, partner, "acknowledgement is per viewer")
}
