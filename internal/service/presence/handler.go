package presence

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oggyb/blind-match/internal/app"
	svcErr "github.com/oggyb/blind-match/internal/errors"
	"github.com/oggyb/blind-match/internal/middleware"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
	"github.com/oggyb/blind-match/internal/server"
	"github.com/oggyb/blind-match/internal/utils/response"
)

// Registrar ties the presence and typing endpoints into the HTTP server
type Registrar struct {
	svc         *Service
	broadcaster app.Broadcaster
}

// NewRegistrar creates a new Registrar for the presence tracker.
// Typing changes made over HTTP are relayed to the match room too.
func NewRegistrar(svc *Service, broadcaster app.Broadcaster) *Registrar {
	return &Registrar{svc: svc, broadcaster: broadcaster}
}

var _ server.RouteRegistrar = (*Registrar)(nil)

// RegisterRoutes attaches the presence handlers
func (r *Registrar) RegisterRoutes(routes server.Routes) {
	routes.API.POST("/presence/heartbeat", r.heartbeat)
	routes.API.POST("/presence/offline", r.offline)
	routes.API.GET("/presence/users/:id", r.user)
	routes.API.GET("/presence/matches/:id", r.partner)

	routes.API.PUT("/matches/:id/typing", r.setTyping)
	routes.API.GET("/matches/:id/typing", r.getTyping)
}

type heartbeatResponse struct {
	LastSeen time.Time `json:"last_seen"`
}

type typingRequest struct {
	IsTyping *bool `json:"is_typing"`
}

func (r *Registrar) heartbeat(c *gin.Context) {
	seen, err := r.svc.Heartbeat(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, heartbeatResponse{LastSeen: seen})
}

func (r *Registrar) offline(c *gin.Context) {
	if err := r.svc.SetOffline(c.Request.Context(), middleware.UserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Registrar) user(c *gin.Context) {
	userID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	st, err := r.svc.UserStatus(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

func (r *Registrar) partner(c *gin.Context) {
	matchID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	st, err := r.svc.MatchPartnerStatus(c.Request.Context(), middleware.UserID(c), matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

func (r *Registrar) setTyping(c *gin.Context) {
	uid := middleware.UserID(c)
	matchID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsTyping == nil {
		response.Error(c, svcErr.InvalidArgument("body must be {\"is_typing\": bool}"))
		return
	}

	if err := r.svc.SetTyping(c.Request.Context(), uid, matchID, *req.IsTyping); err != nil {
		response.Error(c, err)
		return
	}
	r.broadcaster.Publish(c.Request.Context(), matchID, protocol.New(protocol.TypePartnerTyping, protocol.PartnerTyping{
		MatchID: matchID, UserID: uid, IsTyping: *req.IsTyping,
	}))
	c.Status(http.StatusNoContent)
}

func (r *Registrar) getTyping(c *gin.Context) {
	matchID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	tp, err := r.svc.PartnerTyping(c.Request.Context(), middleware.UserID(c), matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tp)
}
