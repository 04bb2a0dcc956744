package reveal

import (
	"context"
	"fmt"
	"time"

	"github.com/oggyb/blind-match/internal/app"
	"github.com/oggyb/blind-match/internal/db"
	svcErr "github.com/oggyb/blind-match/internal/errors"
	"github.com/oggyb/blind-match/internal/events"
	"github.com/oggyb/blind-match/internal/metrics"
	"github.com/oggyb/blind-match/internal/notify"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
	"github.com/oggyb/blind-match/internal/repository"
)

// Outcome of a reveal request.
type Outcome string

const (
	OutcomeRevealed Outcome = "revealed"
	OutcomeWaiting  Outcome = "waiting"
)

// Reveal modes, used for metrics and events.
const (
	ModeMutual = "mutual"
	ModeTimer  = "timer"
)

// maxCASAttempts bounds re-reads after losing a version race.
const maxCASAttempts = 8

// Service coordinates the two-party reveal agreement and the timer-based
// forced reveal. Every mutation is a compare-and-swap on Match.Version, so
// two simultaneous requests can never both record themselves as first.
type Service struct {
	appCtx  *app.AppContext
	matches *repository.MatchRepository
}

// NewService creates a reveal coordinator with dependencies from AppContext.
func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:  appCtx,
		matches: repository.NewMatchRepository(appCtx.DB),
	}
}

// RequestReveal records the caller's wish to reveal.
//
// Behavior:
//   - Partner already asked → status becomes revealed (mutual).
//   - Nobody asked yet, or the caller asked before → caller is recorded as
//     requester with a fresh timestamp; returns waiting.
//   - Deadline already passed → revealed (timer), regardless of agreement.
//   - Already revealed → revealed, no write.
//
// Example:
//
//	outcome, m, err := svc.RequestReveal(ctx, 1, 42)
func (s *Service) RequestReveal(ctx context.Context, userID, matchID uint64) (Outcome, *db.Match, error) {
	s.appCtx.Logger.Debug("RequestReveal called", "user_id", userID, "match_id", matchID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if attempt > 0 {
			metrics.CASRetries.Inc()
		}

		m, err := s.loadForParty(ctx, userID, matchID)
		if err != nil {
			return "", nil, err
		}

		switch {
		case m.Status == db.MatchStatusRevealed:
			return OutcomeRevealed, m, nil
		case m.Status != db.MatchStatusActive:
			return "", nil, svcErr.FailedPrecondition("match has ended")
		}

		now := s.appCtx.Now()
		if IsDue(m, now) {
			ok, err := s.reveal(ctx, m, userID, ModeTimer, now)
			if err != nil {
				return "", nil, err
			}
			if ok {
				return OutcomeRevealed, m, nil
			}
			continue
		}

		if m.RevealRequestedBy != nil && *m.RevealRequestedBy != userID {
			ok, err := s.reveal(ctx, m, userID, ModeMutual, now)
			if err != nil {
				return "", nil, err
			}
			if ok {
				return OutcomeRevealed, m, nil
			}
			continue
		}

		first := m.RevealRequestedBy == nil
		ok, err := s.matches.UpdateIfVersion(ctx, m.ID, m.Version, map[string]any{
			"reveal_requested_by": userID,
			"reveal_requested_at": now,
		})
		if err != nil {
			s.appCtx.Logger.Error("record reveal request failed", "match_id", matchID, "err", err)
			return "", nil, svcErr.Map(err)
		}
		if !ok {
			continue
		}

		m.RevealRequestedBy, m.RevealRequestedAt = &userID, &now
		m.Version++
		if first {
			s.afterRequested(ctx, m, userID, now)
		}
		return OutcomeWaiting, m, nil
	}

	return "", nil, svcErr.Aborted("match was updated concurrently, retry")
}

// ForceReveal reveals unilaterally once reveal_available_at has been reached.
// Calling it before the deadline is a FailedPrecondition.
func (s *Service) ForceReveal(ctx context.Context, userID, matchID uint64) (*db.Match, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if attempt > 0 {
			metrics.CASRetries.Inc()
		}

		m, err := s.loadForParty(ctx, userID, matchID)
		if err != nil {
			return nil, err
		}
		switch {
		case m.Status == db.MatchStatusRevealed:
			return m, nil
		case m.Status != db.MatchStatusActive:
			return nil, svcErr.FailedPrecondition("match has ended")
		}

		now := s.appCtx.Now()
		if !IsDue(m, now) {
			return nil, svcErr.FailedPrecondition(
				fmt.Sprintf("reveal available at %s", m.RevealAvailableAt.UTC().Format(time.RFC3339)))
		}

		ok, err := s.reveal(ctx, m, userID, ModeTimer, now)
		if err != nil {
			return nil, err
		}
		if ok {
			return m, nil
		}
	}
	return nil, svcErr.Aborted("match was updated concurrently, retry")
}

// ApplyDeadline lazily enforces the forced-reveal deadline on read.
// Returns m unchanged when it is not due; otherwise the revealed match.
func (s *Service) ApplyDeadline(ctx context.Context, m *db.Match) (*db.Match, error) {
	now := s.appCtx.Now()
	if m == nil || m.Status != db.MatchStatusActive || !IsDue(m, now) {
		return m, nil
	}

	ok, err := s.reveal(ctx, m, 0, ModeTimer, now)
	if err != nil {
		return nil, err
	}
	if ok {
		return m, nil
	}

	// someone else moved it; return whatever it is now
	fresh, err := s.matches.GetByID(ctx, m.ID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return fresh, nil
}

// MarkSeen records the caller's per-viewer acknowledgement of a reveal.
// Returns the first acknowledgement time.
func (s *Service) MarkSeen(ctx context.Context, userID, matchID uint64) (time.Time, error) {
	m, err := s.loadForParty(ctx, userID, matchID)
	if err != nil {
		return time.Time{}, err
	}
	if m.RevealedAt == nil {
		return time.Time{}, svcErr.FailedPrecondition("match is not revealed")
	}

	if err := s.matches.MarkRevealSeen(ctx, matchID, userID, s.appCtx.Now()); err != nil {
		return time.Time{}, svcErr.Map(err)
	}
	seen, err := s.matches.RevealSeenAt(ctx, matchID, userID)
	if err != nil || seen == nil {
		return time.Time{}, svcErr.Map(err)
	}
	return *seen, nil
}

// SeenAt returns when viewerID acknowledged the reveal, or nil.
func (s *Service) SeenAt(ctx context.Context, matchID, viewerID uint64) (*time.Time, error) {
	seen, err := s.matches.RevealSeenAt(ctx, matchID, viewerID)
	return seen, svcErr.Map(err)
}

// IsDue reports whether the forced-reveal deadline has been reached.
// The boundary is inclusive.
func IsDue(m *db.Match, now time.Time) bool {
	return !now.Before(m.RevealAvailableAt)
}

func (s *Service) loadForParty(ctx context.Context, userID, matchID uint64) (*db.Match, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	if !m.HasUser(userID) {
		return nil, svcErr.PermissionDenied("caller is not a party to this match")
	}
	return m, nil
}

// reveal moves m to revealed if nobody changed it since it was read.
// actorID 0 means the deadline was applied on read.
func (s *Service) reveal(ctx context.Context, m *db.Match, actorID uint64, mode string, now time.Time) (bool, error) {
	ok, err := s.matches.UpdateIfVersion(ctx, m.ID, m.Version, map[string]any{
		"status":      db.MatchStatusRevealed,
		"revealed_at": now,
	})
	if err != nil {
		s.appCtx.Logger.Error("reveal failed", "match_id", m.ID, "err", err)
		return false, svcErr.Map(err)
	}
	if !ok {
		return false, nil
	}

	m.Status, m.RevealedAt = db.MatchStatusRevealed, &now
	m.Version++
	s.afterRevealed(ctx, m, actorID, mode, now)
	return true, nil
}

func (s *Service) afterRequested(ctx context.Context, m *db.Match, userID uint64, now time.Time) {
	s.appCtx.Logger.Info("reveal requested", "match_id", m.ID, "user_id", userID)

	s.appCtx.Events.Publish(ctx, events.Event{
		Type: events.TypeRevealRequested, MatchID: m.ID, UserID: userID, At: now,
	})
	s.appCtx.Broadcaster.Publish(ctx, m.ID, protocol.New(protocol.TypeRevealRequested, protocol.MatchUpdate{
		MatchID: m.ID, Status: m.Status, ActorID: userID, At: &now,
	}))
	s.appCtx.Notifier.Notify(notify.Notification{
		UserID:  m.PartnerOf(userID),
		Kind:    notify.KindRevealRequested,
		MatchID: m.ID,
		Title:   "Your match wants to reveal",
		Body:    "Agree to reveal photos now, or wait for the timer.",
	})
}

func (s *Service) afterRevealed(ctx context.Context, m *db.Match, actorID uint64, mode string, now time.Time) {
	s.appCtx.Logger.Info("match revealed", "match_id", m.ID, "mode", mode, "actor_id", actorID)
	metrics.Reveals.WithLabelValues(mode).Inc()

	s.appCtx.Events.Publish(ctx, events.Event{
		Type: events.TypeMatchRevealed, MatchID: m.ID, UserID: actorID, At: now,
		Attrs: map[string]string{"mode": mode},
	})
	s.appCtx.Broadcaster.Publish(ctx, m.ID, protocol.New(protocol.TypeMatchRevealed, protocol.MatchUpdate{
		MatchID: m.ID, Status: m.Status, ActorID: actorID, At: &now,
	}))
	for _, uid := range []uint64{m.UserAID, m.UserBID} {
		s.appCtx.Notifier.Notify(notify.Notification{
			UserID:  uid,
			Kind:    notify.KindRevealed,
			MatchID: m.ID,
			Title:   "Photos revealed",
			Body:    "You can now see each other.",
		})
	}
}
