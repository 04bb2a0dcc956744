package chat_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/oggyb/blind-match/internal/db"
	svcErr "github.com/oggyb/blind-match/internal/errors"
	"github.com/oggyb/blind-match/internal/events"
	"github.com/oggyb/blind-match/internal/notify"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
	"github.com/oggyb/blind-match/internal/service/chat"
	"github.com/oggyb/blind-match/internal/testutil"
)

type fakePresence map[uint64]bool

func (f fakePresence) IsOnline(_ context.Context, userID uint64) bool { return f[userID] }

func setup(t *testing.T, online fakePresence) (*testutil.Env, *chat.Service, *db.Match) {
	t.Helper()
	env := testutil.NewEnv(t)

	for _, id := range []uint64{1, 2, 3} {
		testutil.SeedUser(t, env.DB, db.User{ID: id, Age: 30, Gender: "man", Seeking: "everyone"})
	}
	m := db.Match{UserAID: 1, UserBID: 2, Status: db.MatchStatusActive, RevealAvailableAt: env.Clock.Now().Add(24 * time.Hour)}
	require.NoError(t, env.DB.Create(&m).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return env, chat.NewService(env.App, node, online), &m
}

func TestSend_PersistsAndConfirms(t *testing.T) {
	env, svc, m := setup(t, fakePresence{2: true})
	ctx := context.Background()

	msg, err := svc.Send(ctx, 1, m.ID, "  hello there  ", "tmp-1")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, "hello there", msg.Content)

	var stored db.Match
	require.NoError(t, env.DB.First(&stored, m.ID).Error)
	assert.Equal(t, 1, stored.TotalMessages)

	confirmed := env.Broadcasts.OfType(protocol.TypeMessageConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, m.ID, confirmed[0].MatchID)

	var payload protocol.Message
	require.NoError(t, json.Unmarshal(confirmed[0].Env.Data, &payload))
	assert.Equal(t, strconv.FormatInt(msg.ID, 10), payload.ID)
	assert.Equal(t, "tmp-1", payload.ClientTempID)
	assert.Equal(t, protocol.StatusConfirmed, payload.Status)

	assert.Equal(t, 1, env.Events.Count(events.TypeMessageSent))
	assert.Zero(t, env.Notes.For(2, notify.KindNewMessage), "online partner gets no push")
}

func TestSend_PushesOfflinePartner(t *testing.T) {
	env, svc, m := setup(t, fakePresence{})

	_, err := svc.Send(context.Background(), 2, m.ID, "ping", "")
	require.NoError(t, err)
	assert.Equal(t, 1, env.Notes.For(1, notify.KindNewMessage))
}

func TestSend_Rejections(t *testing.T) {
	env, svc, m := setup(t, fakePresence{})
	ctx := context.Background()

	_, err := svc.Send(ctx, 1, m.ID, "   ", "")
	assert.Equal(t, codes.InvalidArgument, svcErr.Code(err))

	_, err = svc.Send(ctx, 1, m.ID, strings.Repeat("é", chat.MaxContentLength+1), "")
	assert.Equal(t, codes.InvalidArgument, svcErr.Code(err))

	_, err = svc.Send(ctx, 1, m.ID, strings.Repeat("é", chat.MaxContentLength), "")
	assert.NoError(t, err, "limit counts characters, not bytes")

	_, err = svc.Send(ctx, 3, m.ID, "hi", "")
	assert.Equal(t, codes.PermissionDenied, svcErr.Code(err))

	_, err = svc.Send(ctx, 1, 999, "hi", "")
	assert.Equal(t, codes.NotFound, svcErr.Code(err))

	require.NoError(t, env.DB.Model(&db.Match{}).Where("id = ?", m.ID).
		Update("status", db.MatchStatusExitedA).Error)
	_, err = svc.Send(ctx, 1, m.ID, "hi", "")
	assert.Equal(t, codes.FailedPrecondition, svcErr.Code(err))
}

func TestList_NewestFirstWithCursor(t *testing.T) {
	_, svc, m := setup(t, fakePresence{1: true, 2: true})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Send(ctx, uint64(1+i%2), m.ID, fmt.Sprintf("msg %d", i), "")
		require.NoError(t, err)
	}

	page, next, err := svc.List(ctx, 2, m.ID, nil, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.NotNil(t, next)
	assert.Equal(t, "msg 4", page[0].Content)
	assert.Equal(t, "msg 2", page[2].Content)

	page, next, err = svc.List(ctx, 2, m.ID, next, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Nil(t, next)
	assert.Equal(t, "msg 1", page[0].Content)
	assert.Equal(t, "msg 0", page[1].Content)

	bad := "not-a-token"
	_, _, err = svc.List(ctx, 2, m.ID, &bad, 3)
	assert.Equal(t, codes.InvalidArgument, svcErr.Code(err))

	_, _, err = svc.List(ctx, 3, m.ID, nil, 3)
	assert.Equal(t, codes.PermissionDenied, svcErr.Code(err))
}
