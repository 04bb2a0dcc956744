package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/oggyb/blind-match/internal/app"
	"github.com/oggyb/blind-match/internal/db"
	svcErr "github.com/oggyb/blind-match/internal/errors"
	"github.com/oggyb/blind-match/internal/events"
	"github.com/oggyb/blind-match/internal/metrics"
	"github.com/oggyb/blind-match/internal/notify"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
	"github.com/oggyb/blind-match/internal/repository"
	"github.com/oggyb/blind-match/internal/utils/pagination"
)

// MaxContentLength is the longest message accepted, in characters.
const MaxContentLength = 2000

// PresenceReader decides whether a partner needs a push for a new message.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID uint64) bool
}

// Service is the authoritative message path: persist, count, then fan out
// the confirmed record to the match room.
type Service struct {
	appCtx   *app.AppContext
	node     *snowflake.Node
	presence PresenceReader

	messages *repository.MessageRepository
	matches  *repository.MatchRepository
}

// NewService creates the chat service. node mints message ids.
func NewService(appCtx *app.AppContext, node *snowflake.Node, presence PresenceReader) *Service {
	return &Service{
		appCtx:   appCtx,
		node:     node,
		presence: presence,
		messages: repository.NewMessageRepository(appCtx.DB),
		matches:  repository.NewMatchRepository(appCtx.DB),
	}
}

// Send persists a message from senderID into matchID.
//
// Behavior:
//   - Content is trimmed; empty or longer than MaxContentLength → InvalidArgument.
//   - Caller must be a party; the match must still be live.
//   - Message insert and the match's message counter move together.
//   - The stored record is broadcast to the room as message-confirmed,
//     carrying clientTempID so clients can reconcile their pending echo.
//   - Partner gets a push only when they are offline.
//
// Example:
//
//	msg, err := svc.Send(ctx, 1, 42, "hi", "tmp-1")
func (s *Service) Send(ctx context.Context, senderID, matchID uint64, content, clientTempID string) (*db.Message, error) {
	s.appCtx.Logger.Debug("Send called", "sender_id", senderID, "match_id", matchID)

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, svcErr.InvalidArgument("content must not be empty")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, svcErr.InvalidArgument("content exceeds 2000 characters")
	}
	if len(clientTempID) > 64 {
		return nil, svcErr.InvalidArgument("client_temp_id is too long")
	}

	m, err := s.party(ctx, senderID, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsLive() {
		return nil, svcErr.FailedPrecondition("match has ended")
	}

	msg := &db.Message{
		ID:           s.node.Generate().Int64(),
		MatchID:      matchID,
		SenderID:     senderID,
		Content:      content,
		ClientTempID: clientTempID,
		CreatedAt:    s.appCtx.Now(),
	}
	err = s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.messages.WithTx(tx).Create(ctx, msg); err != nil {
			return err
		}
		return s.matches.WithTx(tx).IncrementMessages(ctx, matchID)
	})
	if err != nil {
		s.appCtx.Logger.Error("persist message failed", "match_id", matchID, "err", err)
		return nil, svcErr.Map(err)
	}

	metrics.MessagesSent.Inc()
	s.appCtx.Broadcaster.Publish(ctx, matchID, protocol.New(protocol.TypeMessageConfirmed, protocol.Message{
		ID:           strconv.FormatInt(msg.ID, 10),
		ClientTempID: msg.ClientTempID,
		MatchID:      msg.MatchID,
		SenderID:     msg.SenderID,
		Content:      msg.Content,
		Status:       protocol.StatusConfirmed,
		SentAt:       msg.CreatedAt,
	}))
	s.appCtx.Events.Publish(ctx, events.Event{
		Type: events.TypeMessageSent, MatchID: matchID, UserID: senderID, At: msg.CreatedAt,
		Attrs: map[string]string{"message_id": strconv.FormatInt(msg.ID, 10)},
	})

	partnerID := m.PartnerOf(senderID)
	if !s.presence.IsOnline(ctx, partnerID) {
		s.appCtx.Notifier.Notify(notify.Notification{
			UserID:  partnerID,
			Kind:    notify.KindNewMessage,
			MatchID: matchID,
			Title:   "New message",
			Body:    "Your match sent you a message.",
		})
	}
	return msg, nil
}

// List returns a page of matchID's messages, newest first.
// Parties can read the history of ended matches too.
func (s *Service) List(ctx context.Context, userID, matchID uint64, pageToken *string, limit int) ([]db.Message, *string, error) {
	if _, err := s.party(ctx, userID, matchID); err != nil {
		return nil, nil, err
	}

	if pageToken != nil {
		if _, err := pagination.Decode(*pageToken); err != nil {
			return nil, nil, svcErr.InvalidArgument(err.Error())
		}
	}

	msgs, next, err := s.messages.List(ctx, matchID, pageToken, pagination.ClampLimit(limit))
	if err != nil {
		s.appCtx.Logger.Error("list messages failed", "match_id", matchID, "err", err)
		return nil, nil, svcErr.Map(err)
	}
	return msgs, next, nil
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
