package presence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/blind-match/internal/app"
	"github.com/oggyb/blind-match/internal/cache"
	"github.com/oggyb/blind-match/internal/db"
	svcErr "github.com/oggyb/blind-match/internal/errors"
	"github.com/oggyb/blind-match/internal/repository"
)

// Status is a user's freshness-corrected presence.
type Status struct {
	UserID   uint64     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen"`
}

// Typing is a party's freshness-corrected typing flag.
type Typing struct {
	MatchID  uint64 `json:"match_id"`
	UserID   uint64 `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// Service tracks liveness and typing.
// Nothing here ever expires rows: staleness is decided when reading.
type Service struct {
	appCtx   *app.AppContext
	repo     *repository.PresenceRepository
	users    *repository.UserRepository
	matches  *repository.MatchRepository
	window   time.Duration
	stale    time.Duration
	cacheTTL time.Duration
}

// NewService creates the presence tracker with dependencies from AppContext.
func NewService(appCtx *app.AppContext) *Service {
	cfg := appCtx.Config.Presence
	return &Service{
		appCtx:   appCtx,
		repo:     repository.NewPresenceRepository(appCtx.DB),
		users:    repository.NewUserRepository(appCtx.DB),
		matches:  repository.NewMatchRepository(appCtx.DB),
		window:   cfg.OnlineWindow,
		stale:    cfg.TypingStale,
		cacheTTL: cfg.CacheTTL,
	}
}

// Heartbeat marks the user online as of now and returns the stored last_seen.
// The Redis copy is best effort; the DB row is authoritative.
func (s *Service) Heartbeat(ctx context.Context, userID uint64) (time.Time, error) {
	now := s.appCtx.Now()
	if err := s.write(ctx, userID, true, now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// SetOffline records an explicit offline (logout or last connection gone).
func (s *Service) SetOffline(ctx context.Context, userID uint64) error {
	return s.write(ctx, userID, false, s.appCtx.Now())
}

func (s *Service) write(ctx context.Context, userID uint64, online bool, now time.Time) error {
	err := s.repo.UpsertPresence(ctx, &db.Presence{UserID: userID, IsOnline: online, LastSeen: now})
	if err != nil {
		s.appCtx.Logger.Error("UpsertPresence failed", "user_id", userID, "err", err)
		return svcErr.Map(err)
	}

	entry := cache.PresenceEntry{IsOnline: online, LastSeen: now}
	if err := s.appCtx.RedisCache.SetPresence(ctx, userID, entry, s.cacheTTL); err != nil {
		s.appCtx.Logger.Warn("presence cache write failed", "user_id", userID, "err", err)
	}
	return nil
}

// UserStatus returns the user's presence.
//
// Behavior:
//   - Redis first, DB on miss (and the cache is refilled).
//   - Online only if flagged online AND seen within the online window.
//   - Known user that never sent a heartbeat → offline, nil last_seen.
//   - Unknown user → NotFound.
func (s *Service) UserStatus(ctx context.Context, userID uint64) (*Status, error) {
	entry, ok, err := s.appCtx.RedisCache.GetPresence(ctx, userID)
	if err != nil {
		s.appCtx.Logger.Warn("presence cache read failed", "user_id", userID, "err", err)
	}
	if !ok {
		row, err := s.repo.GetPresence(ctx, userID)
		if err != nil {
			return nil, svcErr.Map(err)
		}
		if row == nil {
			exists, err := s.users.Exists(ctx, userID)
			if err != nil {
				return nil, svcErr.Map(err)
			}
			if !exists {
				return nil, svcErr.NotFound("user not found")
			}
			return &Status{UserID: userID}, nil
		}

		entry = cache.PresenceEntry{IsOnline: row.IsOnline, LastSeen: row.LastSeen}
		if err := s.appCtx.RedisCache.SetPresence(ctx, userID, entry, s.cacheTTL); err != nil {
			s.appCtx.Logger.Warn("presence cache refill failed", "user_id", userID, "err", err)
		}
	}

	lastSeen := entry.LastSeen
	return &Status{
		UserID:   userID,
		IsOnline: IsOnlineAt(entry.IsOnline, lastSeen, s.appCtx.Now(), s.window),
		LastSeen: &lastSeen,
	}, nil
}

// MatchPartnerStatus resolves the caller's partner in matchID and returns
// their presence. The caller must be a party.
func (s *Service) MatchPartnerStatus(ctx context.Context, callerID, matchID uint64) (*Status, error) {
	m, err := s.party(ctx, callerID, matchID)
	if err != nil {
		return nil, err
	}
	return s.UserStatus(ctx, m.PartnerOf(callerID))
}

// IsOnline is UserStatus reduced to a bool; lookup failures read as offline.
func (s *Service) IsOnline(ctx context.Context, userID uint64) bool {
	st, err := s.UserStatus(ctx, userID)
	return err == nil && st.IsOnline
}

// SetTyping upserts the caller's typing flag for matchID.
// started_at is set when typing begins and cleared when it stops.
func (s *Service) SetTyping(ctx context.Context, userID, matchID uint64, isTyping bool) error {
	if _, err := s.party(ctx, userID, matchID); err != nil {
		return err
	}

	ts := &db.TypingStatus{MatchID: matchID, UserID: userID, IsTyping: isTyping}
	if isTyping {
		now := s.appCtx.Now()
		ts.StartedAt = &now
	}
	if err := s.repo.UpsertTyping(ctx, ts); err != nil {
		s.appCtx.Logger.Error("UpsertTyping failed", "match_id", matchID, "user_id", userID, "err", err)
		return svcErr.Map(err)
	}
	return nil
}

// PartnerTyping reports whether the caller's partner is typing right now.
// A stored true older than the stale threshold reads as false.
func (s *Service) PartnerTyping(ctx context.Context, userID, matchID uint64) (*Typing, error) {
	m, err := s.party(ctx, userID, matchID)
	if err != nil {
		return nil, err
	}

	partnerID := m.PartnerOf(userID)
	ts, err := s.repo.GetTyping(ctx, matchID, partnerID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &Typing{
		MatchID:  matchID,
		UserID:   partnerID,
		IsTyping: IsTypingAt(ts, s.appCtx.Now(), s.stale),
	}, nil
}

func (s *Service) party(ctx context.Context, userID, matchID uint64) (*db.Match, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, svcErr.NotFound("match not found")
	}
	if err != nil {
		return nil, svcErr.Map(err)
	}
	if !m.HasUser(userID) {
		return nil, svcErr.PermissionDenied("caller is not a party to this match")
	}
	return m, nil
}

// IsOnlineAt applies the dual freshness condition.
func IsOnlineAt(flag bool, lastSeen, now time.Time, window time.Duration) bool {
	return flag && now.Sub(lastSeen) <= window
}

// IsTypingAt reports whether a stored typing row is still fresh at now.
func IsTypingAt(ts *db.TypingStatus, now time.Time, stale time.Duration) bool {
	if ts == nil || !ts.IsTyping || ts.StartedAt == nil {
		return false
	}
	return now.Sub(*ts.StartedAt) <= stale
}
