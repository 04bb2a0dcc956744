package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/blind-match/internal/auth"
	"github.com/oggyb/blind-match/internal/db"
	"github.com/oggyb/blind-match/internal/logger"
	"github.com/oggyb/blind-match/internal/middleware"
	"github.com/oggyb/blind-match/internal/realtime"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
	"github.com/oggyb/blind-match/internal/server"
	"github.com/oggyb/blind-match/internal/service/chat"
	"github.com/oggyb/blind-match/internal/service/matching"
	"github.com/oggyb/blind-match/internal/service/presence"
	"github.com/oggyb/blind-match/internal/testutil"
)

type harness struct {
	env      *testutil.Env
	tokens   *auth.Tokens
	presence *presence.Service
	match    *db.Match
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := testutil.NewEnv(t)
	for _, id := range []uint64{1, 2, 3} {
		testutil.SeedUser(t, env.DB, db.User{ID: id, Age: 30, Gender: "man", Seeking: "everyone"})
	}
	m := db.Match{UserAID: 1, UserBID: 2, Status: db.MatchStatusActive, RevealAvailableAt: env.Clock.Now().Add(24 * time.Hour)}
	require.NoError(t, env.DB.Create(&m).Error)
	require.NoError(t, env.DB.Create(&[]db.MatchSlot{
		{UserID: 1, MatchID: m.ID}, {UserID: 2, MatchID: m.ID},
	}).Error)

	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)

	return &harness{env: env, tokens: tokens, presence: presence.NewService(env.App), match: &m}
}

// serve starts one instance backed by hub.
func (h *harness) serve(t *testing.T, hub *realtime.Hub) *httptest.Server {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	chatSvc := chat.NewService(h.env.App, node, h.presence)
	matchSvc := matching.NewService(h.env.App, nil, nil)

	handler, err := realtime.NewHandler(h.env.App, hub, chatSvc, h.presence, matchSvc)
	require.NoError(t, err)

	r := gin.New()
	handler.RegisterRoutes(server.Routes{
		API:      r.Group("/v1", middleware.Auth(h.tokens)),
		Internal: r.Group("/internal/v1"),
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return srv
}

func (h *harness) dial(t *testing.T, srv *httptest.Server, userID uint64) *websocket.Conn {
	t.Helper()
	tok, err := h.tokens.Issue(userID)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?token=" + tok
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, protocol.New(typ, data).Bytes()))
}

// expect reads frames until one of type typ arrives.
func expect(t *testing.T, conn *websocket.Conn, typ string) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		env, err := protocol.Parse(raw)
		require.NoError(t, err)
		if env.Type == typ {
			return env
		}
	}
}

func expectError(t *testing.T, conn *websocket.Conn) protocol.Error {
	t.Helper()
	var e protocol.Error
	require.NoError(t, expect(t, conn, protocol.TypeError).Decode(&e))
	return e
}

func join(t *testing.T, conn *websocket.Conn, matchID uint64) protocol.Joined {
	t.Helper()
	write(t, conn, protocol.TypeJoinMatch, protocol.JoinMatch{MatchID: matchID})
	var j protocol.Joined
	require.NoError(t, expect(t, conn, protocol.TypeJoined).Decode(&j))
	return j
}

func TestHandler_RequiresToken(t *testing.T) {
	h := newHarness(t)
	srv := h.serve(t, realtime.NewHub(logger.Discard()))

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RoomChatAndTyping(t *testing.T) {
	h := newHarness(t)
	hub := realtime.NewHub(logger.Discard())
	h.env.App.Broadcaster = hub
	srv := h.serve(t, hub)

	a := h.dial(t, srv, 1)
	b := h.dial(t, srv, 2)

	assert.False(t, join(t, a, h.match.ID).PartnerOnline)
	assert.True(t, join(t, b, h.match.ID).PartnerOnline)

	var online protocol.PartnerStatus
	require.NoError(t, expect(t, a, protocol.TypePartnerOnline).Decode(&online))
	assert.Equal(t, uint64(2), online.UserID)

	write(t, a, protocol.TypeSendMessage, protocol.SendMessage{MatchID: h.match.ID, Content: "hi there", ClientTempID: "tmp-1"})

	for _, conn := range []*websocket.Conn{a, b} {
		var pending protocol.Message
		require.NoError(t, expect(t, conn, protocol.TypeNewMessage).Decode(&pending))
		assert.Equal(t, protocol.StatusPending, pending.Status)
		assert.Equal(t, "tmp-1", pending.ClientTempID)

		var confirmed protocol.Message
		require.NoError(t, expect(t, conn, protocol.TypeMessageConfirmed).Decode(&confirmed))
		assert.Equal(t, protocol.StatusConfirmed, confirmed.Status)
		assert.Equal(t, "tmp-1", confirmed.ClientTempID)
		assert.NotEmpty(t, confirmed.ID)
	}

	var count int64
	require.NoError(t, h.env.DB.Model(&db.Message{}).Where("match_id = ?", h.match.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	write(t, a, protocol.TypeTyping, protocol.Typing{MatchID: h.match.ID, IsTyping: true})
	var typing protocol.PartnerTyping
	require.NoError(t, expect(t, b, protocol.TypePartnerTyping).Decode(&typing))
	assert.Equal(t, uint64(1), typing.UserID)
	assert.True(t, typing.IsTyping)

	tp, err := h.presence.PartnerTyping(context.Background(), 2, h.match.ID)
	require.NoError(t, err)
	assert.True(t, tp.IsTyping)

	write(t, b, protocol.TypeHeartbeat, nil)
	var ack protocol.HeartbeatAck
	require.NoError(t, expect(t, b, protocol.TypeHeartbeatAck).Decode(&ack))
	assert.Equal(t, h.env.Clock.Now(), ack.LastSeen.UTC())
}

func TestHandler_FailedSendReportsToSender(t *testing.T) {
	h := newHarness(t)
	hub := realtime.NewHub(logger.Discard())
	h.env.App.Broadcaster = hub
	srv := h.serve(t, hub)

	a := h.dial(t, srv, 1)
	join(t, a, h.match.ID)

	write(t, a, protocol.TypeSendMessage, protocol.SendMessage{MatchID: h.match.ID, Content: "   ", ClientTempID: "tmp-blank"})

	expect(t, a, protocol.TypeNewMessage)
	var failed protocol.Error
	require.NoError(t, expect(t, a, protocol.TypeMessageFailed).Decode(&failed))
	assert.Equal(t, protocol.ErrCodeBadFrame, failed.Code)
	assert.Equal(t, "tmp-blank", failed.ClientTempID)
}

func TestHandler_Rejections(t *testing.T) {
	h := newHarness(t)
	hub := realtime.NewHub(logger.Discard())
	h.env.App.Broadcaster = hub
	srv := h.serve(t, hub)

	stranger := h.dial(t, srv, 3)
	write(t, stranger, protocol.TypeJoinMatch, protocol.JoinMatch{MatchID: h.match.ID})
	assert.Equal(t, protocol.ErrCodeForbidden, expectError(t, stranger).Code)

	write(t, stranger, protocol.TypeJoinMatch, protocol.JoinMatch{MatchID: 999})
	assert.Equal(t, protocol.ErrCodeNotFound, expectError(t, stranger).Code)

	a := h.dial(t, srv, 1)
	write(t, a, protocol.TypeSendMessage, protocol.SendMessage{MatchID: h.match.ID, Content: "hi", ClientTempID: "tmp-1"})
	e := expectError(t, a)
	assert.Equal(t, protocol.ErrCodeNotInRoom, e.Code)
	assert.Equal(t, "tmp-1", e.ClientTempID)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, protocol.ErrCodeBadFrame, expectError(t, a).Code)

	write(t, a, "dance", nil)
	assert.Equal(t, protocol.ErrCodeBadFrame, expectError(t, a).Code)
}

func TestHandler_RateLimitsMessages(t *testing.T) {
	h := newHarness(t)
	h.env.App.Config.Realtime.MessagesPerSecond = 0.001
	h.env.App.Config.Realtime.Burst = 1
	hub := realtime.NewHub(logger.Discard())
	h.env.App.Broadcaster = hub
	srv := h.serve(t, hub)

	a := h.dial(t, srv, 1)
	join(t, a, h.match.ID)

	write(t, a, protocol.TypeSendMessage, protocol.SendMessage{MatchID: h.match.ID, Content: "one", ClientTempID: "tmp-1"})
	expect(t, a, protocol.TypeMessageConfirmed)

	write(t, a, protocol.TypeSendMessage, protocol.SendMessage{MatchID: h.match.ID, Content: "two", ClientTempID: "tmp-2"})
	e := expectError(t, a)
	assert.Equal(t, protocol.ErrCodeRateLimited, e.Code)
	assert.Equal(t, "tmp-2", e.ClientTempID)
}

func TestHandler_DisconnectGoesOffline(t *testing.T) {
	h := newHarness(t)
	hub := realtime.NewHub(logger.Discard())
	h.env.App.Broadcaster = hub
	srv := h.serve(t, hub)
	ctx := context.Background()

	a := h.dial(t, srv, 1)
	b := h.dial(t, srv, 2)
	join(t, a, h.match.ID)
	join(t, b, h.match.ID)

	assert.Eventually(t, func() bool { return h.presence.IsOnline(ctx, 1) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Close())

	var offline protocol.PartnerStatus
	require.NoError(t, expect(t, b, protocol.TypePartnerOffline).Decode(&offline))
	assert.Equal(t, uint64(1), offline.UserID)

	assert.Eventually(t, func() bool {
		st, err := h.presence.UserStatus(ctx, 1)
		return err == nil && !st.IsOnline
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return hub.UserConnections(1) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RoomsSpanInstancesOverBus(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// two instances share the DB and Redis; each hub hears the other via the bus
	newInstance := func() (*realtime.Hub, *httptest.Server) {
		rdb := redis.NewClient(&redis.Options{Addr: h.env.Redis.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		hub := realtime.NewHub(logger.Discard())
		bus := realtime.NewBus(rdb, "test:rooms", logger.Discard())
		hub.UseBus(bus)
		go func() { _ = bus.Run(ctx, hub.Deliver) }()
		select {
		case <-bus.Ready():
		case <-time.After(3 * time.Second):
			t.Fatal("bus did not subscribe")
		}
		return hub, h.serve(t, hub)
	}
	hub1, srv1 := newInstance()
	_, srv2 := newInstance()

	// server-side broadcasts go through instance 1; the bus reaches both
	h.env.App.Broadcaster = hub1

	a := h.dial(t, srv1, 1)
	b := h.dial(t, srv2, 2)
	join(t, a, h.match.ID)
	join(t, b, h.match.ID)

	write(t, a, protocol.TypeSendMessage, protocol.SendMessage{MatchID: h.match.ID, Content: "across", ClientTempID: "tmp-x"})

	var pending protocol.Message
	require.NoError(t, expect(t, b, protocol.TypeNewMessage).Decode(&pending))
	assert.Equal(t, "across", pending.Content)
	expect(t, b, protocol.TypeMessageConfirmed)

	write(t, b, protocol.TypeTyping, protocol.Typing{MatchID: h.match.ID, IsTyping: true})
	var typing protocol.PartnerTyping
	require.NoError(t, expect(t, a, protocol.TypePartnerTyping).Decode(&typing))
	assert.Equal(t, uint64(2), typing.UserID)
}
