package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"

	"github.com/oggyb/blind-match/internal/app"
	"github.com/oggyb/blind-match/internal/db"
	svcErr "github.com/oggyb/blind-match/internal/errors"
	"github.com/oggyb/blind-match/internal/logger"
	"github.com/oggyb/blind-match/internal/metrics"
	"github.com/oggyb/blind-match/internal/middleware"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
	"github.com/oggyb/blind-match/internal/server"
)

// MessageSender persists chat messages.
type MessageSender interface {
	Send(ctx context.Context, senderID, matchID uint64, content, clientTempID string) (*db.Message, error)
}

// PresenceWriter records liveness and typing state.
type PresenceWriter interface {
	Heartbeat(ctx context.Context, userID uint64) (time.Time, error)
	SetOffline(ctx context.Context, userID uint64) error
	SetTyping(ctx context.Context, userID, matchID uint64, isTyping bool) error
}

// PartyResolver returns both parties of a match.
type PartyResolver interface {
	Parties(ctx context.Context, matchID uint64) (uint64, uint64, error)
}

// Handler serves the realtime channel at GET /ws.
type Handler struct {
	appCtx   *app.AppContext
	hub      *Hub
	chat     MessageSender
	presence PresenceWriter
	parties  PartyResolver

	// match parties never change, so authorization results are cached
	partyCache *lru.Cache[uint64, [2]uint64]
	upgrader   websocket.Upgrader
}

func NewHandler(appCtx *app.AppContext, hub *Hub, chat MessageSender, presence PresenceWriter, parties PartyResolver) (*Handler, error) {
	size := appCtx.Config.Realtime.PartyCacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[uint64, [2]uint64](size)
	if err != nil {
		return nil, err
	}
	return &Handler{
		appCtx:     appCtx,
		hub:        hub,
		chat:       chat,
		presence:   presence,
		parties:    parties,
		partyCache: cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}, nil
}

var _ server.RouteRegistrar = (*Handler)(nil)

// RegisterRoutes mounts the socket behind the API auth middleware, so an
// unauthenticated dial is refused before the upgrade.
func (h *Handler) RegisterRoutes(routes server.Routes) {
	routes.API.GET("/ws", h.serve)
}

func (h *Handler) serve(c *gin.Context) {
	uid := middleware.UserID(c)
	log := logger.FromContext(c.Request.Context(), h.appCtx.Logger)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Warn("websocket upgrade failed", "user_id", uid, "err", err)
		return
	}

	// outlive the request but keep its logger
	ctx := context.WithoutCancel(c.Request.Context())

	rt := h.appCtx.Config.Realtime
	var limiter *rate.Limiter
	if rt.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(rt.MessagesPerSecond), max(rt.Burst, 1))
	}
	client := NewClient(conn, uid, rt.SendQueue, limiter)
	if !h.hub.Register(client) {
		client.Close()
		return
	}
	log.Info("websocket connected", "user_id", uid, "conn_id", client.ID())

	if _, err := h.presence.Heartbeat(ctx, uid); err != nil {
		log.Warn("presence on connect failed", "user_id", uid, "err", err)
	}

	client.Run(ctx,
		func(raw []byte) { h.dispatch(ctx, client, raw) },
		func() { h.disconnect(ctx, client) },
	)
}

func (h *Handler) dispatch(ctx context.Context, c *Client, raw []byte) {
	env, err := protocol.Parse(raw)
	if err != nil {
		metrics.WSEvents.WithLabelValues("in", "invalid").Inc()
		sendError(c, protocol.ErrCodeBadFrame, err.Error(), "")
		return
	}
	metrics.WSEvents.WithLabelValues("in", env.Type).Inc()

	switch env.Type {
	case protocol.TypeJoinMatch:
		h.join(ctx, c, env)
	case protocol.TypeLeaveMatch:
		h.leave(ctx, c)
	case protocol.TypeSendMessage:
		h.sendMessage(ctx, c, env)
	case protocol.TypeTyping:
		h.typing(ctx, c, env)
	case protocol.TypeHeartbeat:
		h.heartbeat(ctx, c)
	default:
		sendError(c, protocol.ErrCodeBadFrame, "unknown event type "+env.Type, "")
	}
}

func (h *Handler) join(ctx context.Context, c *Client, env protocol.Envelope) {
	var req protocol.JoinMatch
	if err := env.Decode(&req); err != nil || req.MatchID == 0 {
		sendError(c, protocol.ErrCodeBadFrame, "join-match requires match_id", "")
		return
	}

	partnerID, err := h.partnerOf(ctx, req.MatchID, c.UserID())
	if err != nil {
		sendError(c, errorCode(err), svcErr.Message(err), "")
		return
	}

	if prev := h.hub.Join(c, req.MatchID); prev != 0 {
		h.announceLeft(ctx, prev, c.UserID())
	}

	c.Send(protocol.New(protocol.TypeJoined, protocol.Joined{
		MatchID:       req.MatchID,
		PartnerOnline: h.hub.InRoom(req.MatchID, partnerID),
	}))
	h.hub.PublishExcept(ctx, req.MatchID, protocol.New(protocol.TypePartnerOnline, protocol.PartnerStatus{
		MatchID: req.MatchID, UserID: c.UserID(),
	}), c.ID())
}

func (h *Handler) leave(ctx context.Context, c *Client) {
	if room := h.hub.Leave(c); room != 0 {
		h.announceLeft(ctx, room, c.UserID())
	}
}

func (h *Handler) sendMessage(ctx context.Context, c *Client, env protocol.Envelope) {
	var req protocol.SendMessage
	if err := env.Decode(&req); err != nil {
		sendError(c, protocol.ErrCodeBadFrame, err.Error(), "")
		return
	}
	if h.hub.RoomOf(c) != req.MatchID || req.MatchID == 0 {
		sendError(c, protocol.ErrCodeNotInRoom, "join the match before sending", req.ClientTempID)
		return
	}
	if !c.Allow() {
		sendError(c, protocol.ErrCodeRateLimited, "sending too fast", req.ClientTempID)
		return
	}

	// optimistic echo; message-confirmed or message-failed follows
	h.hub.Publish(ctx, req.MatchID, protocol.New(protocol.TypeNewMessage, protocol.Message{
		ClientTempID: req.ClientTempID,
		MatchID:      req.MatchID,
		SenderID:     c.UserID(),
		Content:      req.Content,
		Status:       protocol.StatusPending,
		SentAt:       h.appCtx.Now(),
	}))

	if _, err := h.chat.Send(ctx, c.UserID(), req.MatchID, req.Content, req.ClientTempID); err != nil {
		c.Send(protocol.New(protocol.TypeMessageFailed, protocol.Error{
			Code:         errorCode(err),
			Message:      svcErr.Message(err),
			ClientTempID: req.ClientTempID,
		}))
	}
}

func (h *Handler) typing(ctx context.Context, c *Client, env protocol.Envelope) {
	var req protocol.Typing
	if err := env.Decode(&req); err != nil {
		sendError(c, protocol.ErrCodeBadFrame, err.Error(), "")
		return
	}
	if h.hub.RoomOf(c) != req.MatchID || req.MatchID == 0 {
		sendError(c, protocol.ErrCodeNotInRoom, "join the match before typing", "")
		return
	}

	if err := h.presence.SetTyping(ctx, c.UserID(), req.MatchID, req.IsTyping); err != nil {
		logger.FromContext(ctx, h.appCtx.Logger).Warn("persist typing failed",
			"user_id", c.UserID(), "match_id", req.MatchID, "err", err)
	}
	h.hub.PublishExcept(ctx, req.MatchID, protocol.New(protocol.TypePartnerTyping, protocol.PartnerTyping{
		MatchID: req.MatchID, UserID: c.UserID(), IsTyping: req.IsTyping,
	}), c.ID())
}

func (h *Handler) heartbeat(ctx context.Context, c *Client) {
	seen, err := h.presence.Heartbeat(ctx, c.UserID())
	if err != nil {
		sendError(c, errorCode(err), svcErr.Message(err), "")
		return
	}
	c.Send(protocol.New(protocol.TypeHeartbeatAck, protocol.HeartbeatAck{LastSeen: seen}))
}

func (h *Handler) disconnect(ctx context.Context, c *Client) {
	log := logger.FromContext(ctx, h.appCtx.Logger)

	if room := h.hub.Unregister(c); room != 0 {
		h.announceLeft(ctx, room, c.UserID())
	}
	if h.hub.UserConnections(c.UserID()) == 0 {
		if err := h.presence.SetOffline(ctx, c.UserID()); err != nil {
			log.Warn("presence on disconnect failed", "user_id", c.UserID(), "err", err)
		}
	}
	log.Info("websocket disconnected", "user_id", c.UserID(), "conn_id", c.ID())
}

func (h *Handler) announceLeft(ctx context.Context, matchID, userID uint64) {
	h.hub.Publish(ctx, matchID, protocol.New(protocol.TypePartnerOffline, protocol.PartnerStatus{
		MatchID: matchID, UserID: userID,
	}))
}

// partnerOf authorizes userID for matchID and returns the other party.
func (h *Handler) partnerOf(ctx context.Context, matchID, userID uint64) (uint64, error) {
	pair, ok := h.partyCache.Get(matchID)
	if !ok {
		a, b, err := h.parties.Parties(ctx, matchID)
		if err != nil {
			return 0, err
		}
		pair = [2]uint64{a, b}
		h.partyCache.Add(matchID, pair)
	}
	switch userID {
	case pair[0]:
		return pair[1], nil
	case pair[1]:
		return pair[0], nil
	}
	return 0, svcErr.PermissionDenied("not a party to this match")
}

func sendError(c *Client, code int, msg, clientTempID string) {
	c.Send(protocol.New(protocol.TypeError, protocol.Error{
		Code: code, Message: msg, ClientTempID: clientTempID,
	}))
}

func errorCode(err error) int {
	switch svcErr.Code(err) {
	case codes.InvalidArgument:
		return protocol.ErrCodeBadFrame
	case codes.PermissionDenied, codes.Unauthenticated:
		return protocol.ErrCodeForbidden
	case codes.NotFound:
		return protocol.ErrCodeNotFound
	case codes.FailedPrecondition, codes.AlreadyExists, codes.Aborted:
		return protocol.ErrCodeNotInRoom
	case codes.ResourceExhausted:
		return protocol.ErrCodeRateLimited
	default:
		return protocol.ErrCodeInternal
	}
}
