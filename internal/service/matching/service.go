package matching

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/blind-match/internal/app"
	"github.com/oggyb/blind-match/internal/compat"
	"github.com/oggyb/blind-match/internal/db"
	svcErr "github.com/oggyb/blind-match/internal/errors"
	"github.com/oggyb/blind-match/internal/events"
	"github.com/oggyb/blind-match/internal/metrics"
	"github.com/oggyb/blind-match/internal/notify"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
	"github.com/oggyb/blind-match/internal/repository"
	"github.com/oggyb/blind-match/internal/scoring"
)

// Find outcomes.
const (
	StatusMatched = "matched"
	StatusQueued  = "queued"
)

// Match origins, used for metrics and events.
const (
	OriginFind  = "find"
	OriginQueue = "queue"
)

const maxExitAttempts = 8

// errStale aborts an exit transaction whose CAS lost.
var errStale = errors.New("match changed concurrently")

// Deadlines applies the lazy reveal deadline to a match on read.
type Deadlines interface {
	ApplyDeadline(ctx context.Context, m *db.Match) (*db.Match, error)
}

// FindResult is what findMatch returns: a live match or the queued signal.
type FindResult struct {
	Status string
	Match  *db.Match
}

// Service is the match state machine: creation (find and queue drain),
// current-match lookup and exit.
type Service struct {
	appCtx    *app.AppContext
	policy    *scoring.Policy
	deadlines Deadlines

	users   *repository.UserRepository
	matches *repository.MatchRepository
	queue   *repository.QueueRepository
}

// NewService creates the matching service with dependencies from AppContext.
// Dependencies include:
//   - DB connection (users, matches, queue repositories)
//   - scoring policy for compatibility score and reveal delay
//   - the reveal coordinator, which owns the deadline transition
func NewService(appCtx *app.AppContext, policy *scoring.Policy, deadlines Deadlines) *Service {
	return &Service{
		appCtx:    appCtx,
		policy:    policy,
		deadlines: deadlines,
		users:     repository.NewUserRepository(appCtx.DB),
		matches:   repository.NewMatchRepository(appCtx.DB),
		queue:     repository.NewQueueRepository(appCtx.DB),
	}
}

// FindMatch pairs the caller with the first compatible user, or queues them.
//
// Behavior:
//   - Caller already in a live match → AlreadyExists.
//   - Queue entries are tried first, in insertion order.
//   - Then every eligible user not holding a match slot, by id.
//   - First candidate passing the compatibility filter both ways wins.
//   - No candidate → caller is enqueued; returns StatusQueued.
//
// Example:
//
//	res, err := svc.FindMatch(ctx, 42)
func (s *Service) FindMatch(ctx context.Context, userID uint64) (*FindResult, error) {
	s.appCtx.Logger.Debug("FindMatch called", "user_id", userID)

	user, err := s.eligibleUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	live, err := s.matches.GetLiveForUser(ctx, userID)
	if err != nil {
		s.appCtx.Logger.Error("GetLiveForUser failed", "user_id", userID, "err", err)
		return nil, svcErr.Map(err)
	}
	if live != nil {
		return nil, svcErr.AlreadyExists("user already has an active match")
	}

	queued, err := s.queuedCandidates(ctx, userID)
	if err != nil {
		return nil, err
	}
	m, err := s.pairFirst(ctx, user, queued, OriginQueue)
	if err != nil || m != nil {
		return matched(m), err
	}

	limit := s.appCtx.Config.Match.CandidateScanLimit
	candidates, err := s.users.FindCandidates(ctx, user, limit)
	if err != nil {
		s.appCtx.Logger.Error("FindCandidates failed", "user_id", userID, "err", err)
		return nil, svcErr.Map(err)
	}
	m, err = s.pairFirst(ctx, user, candidates, OriginFind)
	if err != nil || m != nil {
		return matched(m), err
	}

	if err := s.queue.Enqueue(ctx, userID); err != nil {
		s.appCtx.Logger.Error("Enqueue failed", "user_id", userID, "err", err)
		return nil, svcErr.Map(err)
	}
	metrics.QueueEnqueued.Inc()
	s.appCtx.Events.Publish(ctx, events.Event{Type: events.TypeMatchQueued, UserID: userID, At: s.appCtx.Now()})
	s.appCtx.Logger.Info("no candidate, user queued", "user_id", userID, "scanned", len(candidates))

	return &FindResult{Status: StatusQueued}, nil
}

// HandleArrival drains the queue for a newly signed-up user: the first
// waiting user compatible both ways is paired with them.
// Returns nil when nobody fits; the arrival is not enqueued.
func (s *Service) HandleArrival(ctx context.Context, userID uint64) (*db.Match, error) {
	s.appCtx.Logger.Debug("HandleArrival called", "user_id", userID)

	user, err := s.eligibleUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	live, err := s.matches.GetLiveForUser(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	if live != nil {
		return nil, svcErr.AlreadyExists("user already has an active match")
	}

	queued, err := s.queuedCandidates(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.pairFirst(ctx, user, queued, OriginQueue)
}

// CurrentMatch returns the caller's live match, or nil when they have none.
// A due reveal deadline is applied before returning.
func (s *Service) CurrentMatch(ctx context.Context, userID uint64) (*db.Match, error) {
	m, err := s.matches.GetLiveForUser(ctx, userID)
	if err != nil {
		s.appCtx.Logger.Error("GetLiveForUser failed", "user_id", userID, "err", err)
		return nil, svcErr.Map(err)
	}
	if m == nil {
		return nil, nil
	}
	return s.deadlines.ApplyDeadline(ctx, m)
}

// Exit ends the caller's match.
//
// Behavior:
//   - Allowed from active or revealed; a second exit is FailedPrecondition.
//   - exit_stage is post_reveal when the pair had revealed, else pre_reveal.
//     A reveal deadline that is already due counts as revealed.
//   - Both match slots are released in the same transaction.
//   - A free-tier caller with exits left spends one, whatever the stage.
func (s *Service) Exit(ctx context.Context, userID, matchID uint64) (*db.Match, error) {
	s.appCtx.Logger.Debug("Exit called", "user_id", userID, "match_id", matchID)

	for attempt := 0; attempt < maxExitAttempts; attempt++ {
		if attempt > 0 {
			metrics.CASRetries.Inc()
		}

		m, err := s.matches.GetByID(ctx, matchID)
		if err != nil {
			return nil, svcErr.Map(err)
		}
		if !m.HasUser(userID) {
			return nil, svcErr.PermissionDenied("caller is not a party to this match")
		}
		// a due deadline reveals first, so the exit is recorded post_reveal
		if m, err = s.deadlines.ApplyDeadline(ctx, m); err != nil {
			return nil, err
		}
		if !m.IsLive() {
			return nil, svcErr.FailedPrecondition("match has already ended")
		}

		now := s.appCtx.Now()
		status := db.MatchStatusExitedA
		if userID == m.UserBID {
			status = db.MatchStatusExitedB
		}
		stage := db.ExitStagePreReveal
		if m.RevealedAt != nil {
			stage = db.ExitStagePostReveal
		}

		var spent bool
		err = s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ok, err := s.matches.WithTx(tx).UpdateIfVersion(ctx, m.ID, m.Version, map[string]any{
				"status":     status,
				"exited_by":  userID,
				"exited_at":  now,
				"exit_stage": stage,
			})
			if err != nil {
				return err
			}
			if !ok {
				return errStale
			}
			if err := s.matches.WithTx(tx).ReleaseSlots(ctx, m.ID); err != nil {
				return err
			}
			spent, err = s.users.WithTx(tx).DecrementExits(ctx, userID)
			return err
		})
		if errors.Is(err, errStale) {
			continue
		}
		if err != nil {
			s.appCtx.Logger.Error("exit failed", "match_id", matchID, "err", err)
			return nil, svcErr.Map(err)
		}

		m.Status, m.ExitedBy, m.ExitedAt, m.ExitStage = status, &userID, &now, &stage
		m.Version++
		s.afterExit(ctx, m, userID, stage, spent, now)
		return m, nil
	}

	return nil, svcErr.Aborted("match was updated concurrently, retry")
}

// Parties returns both user ids of a match.
func (s *Service) Parties(ctx context.Context, matchID uint64) (uint64, uint64, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return 0, 0, svcErr.Map(err)
	}
	return m.UserAID, m.UserBID, nil
}

// Match loads a match the caller is a party to, applying a due reveal
// deadline the same way CurrentMatch does.
func (s *Service) Match(ctx context.Context, userID, matchID uint64) (*db.Match, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	if !m.HasUser(userID) {
		return nil, svcErr.PermissionDenied("caller is not a party to this match")
	}
	return s.deadlines.ApplyDeadline(ctx, m)
}

func (s *Service) eligibleUser(ctx context.Context, userID uint64) (*db.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, svcErr.NotFound("user not found")
		}
		return nil, svcErr.Map(err)
	}
	if !user.Active || user.Banned {
		return nil, svcErr.PermissionDenied("account cannot be matched")
	}
	return user, nil
}

// queuedCandidates loads the owners of active queue entries in queue order,
// skipping the caller and accounts that can no longer be matched.
func (s *Service) queuedCandidates(ctx context.Context, userID uint64) ([]db.User, error) {
	entries, err := s.queue.ListActive(ctx, s.appCtx.Config.Match.QueueScanLimit)
	if err != nil {
		s.appCtx.Logger.Error("ListActive failed", "err", err)
		return nil, svcErr.Map(err)
	}

	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if e.UserID != userID {
			ids = append(ids, e.UserID)
		}
	}
	byID, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	out := make([]db.User, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok || !u.Active || u.Banned {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// pairFirst walks candidates in order and creates a match with the first
// mutually compatible one whose slot is still free.
//
// Behavior:
//   - Candidate lost its slot to a concurrent match → try the next one.
//   - Requester lost their own slot → AlreadyExists.
//   - Returns (nil, nil) when no candidate could be paired.
func (s *Service) pairFirst(ctx context.Context, user *db.User, candidates []db.User, origin string) (*db.Match, error) {
	for i := range candidates {
		candidate := &candidates[i]
		if candidate.ID == user.ID || !compat.Mutual(user, candidate) {
			continue
		}

		m, err := s.createMatch(ctx, user, candidate, origin)
		var taken *repository.SlotTakenError
		if errors.As(err, &taken) {
			if taken.UserID == user.ID {
				metrics.MatchConflicts.WithLabelValues("requester").Inc()
				return nil, svcErr.AlreadyExists("user already has an active match")
			}
			metrics.MatchConflicts.WithLabelValues("candidate").Inc()
			s.appCtx.Logger.Debug("candidate taken concurrently", "user_id", user.ID, "candidate_id", candidate.ID)
			continue
		}
		if err != nil {
			s.appCtx.Logger.Error("create match failed", "user_id", user.ID, "candidate_id", candidate.ID, "err", err)
			return nil, svcErr.Map(err)
		}
		return m, nil
	}
	return nil, nil
}

// createMatch inserts the match, claims both slots and closes both queue
// entries in one transaction. The requester is always UserA.
func (s *Service) createMatch(ctx context.Context, user, candidate *db.User, origin string) (*db.Match, error) {
	res := s.policy.Evaluate(ctx, user, candidate)
	now := s.appCtx.Now()

	m := &db.Match{
		UserAID:            user.ID,
		UserBID:            candidate.ID,
		Status:             db.MatchStatusActive,
		RevealAvailableAt:  now.Add(time.Duration(res.RevealHours) * time.Hour),
		CompatibilityScore: res.Score,
		CreatedAt:          now,
	}

	err := s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		matches := s.matches.WithTx(tx)
		if err := matches.Create(ctx, m); err != nil {
			return err
		}
		if err := matches.ClaimSlots(ctx, m); err != nil {
			return err
		}
		return s.queue.WithTx(tx).Deactivate(ctx, user.ID, candidate.ID)
	})
	if err != nil {
		return nil, err
	}

	metrics.MatchesCreated.WithLabelValues(origin).Inc()
	s.appCtx.Logger.Info("match created",
		"match_id", m.ID, "user_a", m.UserAID, "user_b", m.UserBID,
		"origin", origin, "reveal_hours", res.RevealHours, "score", res.Score)

	s.appCtx.Events.Publish(ctx, events.Event{
		Type: events.TypeMatchCreated, MatchID: m.ID, UserID: user.ID, At: now,
		Attrs: map[string]string{"origin": origin, "partner_id": strconv.FormatUint(candidate.ID, 10)},
	})
	for _, uid := range []uint64{m.UserAID, m.UserBID} {
		s.appCtx.Notifier.Notify(notify.Notification{
			UserID:  uid,
			Kind:    notify.KindMatchFound,
			MatchID: m.ID,
			Title:   "You have a new match",
			Body:    "Say hello. Photos unlock when you both agree, or when the timer runs out.",
		})
	}
	return m, nil
}

func (s *Service) afterExit(ctx context.Context, m *db.Match, userID uint64, stage string, spent bool, now time.Time) {
	metrics.Exits.WithLabelValues(stage).Inc()
	s.appCtx.Logger.Info("match exited", "match_id", m.ID, "user_id", userID, "stage", stage, "exit_spent", spent)

	s.appCtx.Events.Publish(ctx, events.Event{
		Type: events.TypeMatchExited, MatchID: m.ID, UserID: userID, At: now,
		Attrs: map[string]string{"stage": stage},
	})
	s.appCtx.Broadcaster.Publish(ctx, m.ID, protocol.New(protocol.TypeMatchExited, protocol.MatchUpdate{
		MatchID: m.ID, Status: m.Status, ActorID: userID, ExitStage: stage, At: &now,
	}))
	s.appCtx.Notifier.Notify(notify.Notification{
		UserID:  m.PartnerOf(userID),
		Kind:    notify.KindPartnerExited,
		MatchID: m.ID,
		Title:   "Your match has ended",
		Body:    "Your match left the conversation.",
	})
}

func matched(m *db.Match) *FindResult {
	if m == nil {
		return nil
	}
	return &FindResult{Status: StatusMatched, Match: m}
}
