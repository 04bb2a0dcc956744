package reveal

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oggyb/blind-match/internal/middleware"
	"github.com/oggyb/blind-match/internal/server"
	"github.com/oggyb/blind-match/internal/service/views"
	"github.com/oggyb/blind-match/internal/utils/response"
)

// Registrar ties the reveal endpoints into the HTTP server
type Registrar struct {
	svc *Service
}

// NewRegistrar creates a new Registrar for the reveal coordinator
func NewRegistrar(svc *Service) *Registrar {
	return &Registrar{svc: svc}
}

var _ server.RouteRegistrar = (*Registrar)(nil)

// RegisterRoutes attaches the reveal handlers
func (r *Registrar) RegisterRoutes(routes server.Routes) {
	routes.API.POST("/matches/:id/reveal", r.request)
	routes.API.POST("/matches/:id/reveal/force", r.force)
	routes.API.POST("/matches/:id/reveal/seen", r.seen)
}

type revealResponse struct {
	Outcome Outcome      `json:"outcome"`
	Match   *views.Match `json:"match"`
}

type seenResponse struct {
	MatchID uint64    `json:"match_id"`
	SeenAt  time.Time `json:"seen_at"`
}

func (r *Registrar) request(c *gin.Context) {
	uid := middleware.UserID(c)
	matchID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	outcome, m, err := r.svc.RequestReveal(c.Request.Context(), uid, matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, revealResponse{Outcome: outcome, Match: views.NewMatch(m, uid, nil)})
}

func (r *Registrar) force(c *gin.Context) {
	uid := middleware.UserID(c)
	matchID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	m, err := r.svc.ForceReveal(c.Request.Context(), uid, matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, revealResponse{Outcome: OutcomeRevealed, Match: views.NewMatch(m, uid, nil)})
}

func (r *Registrar) seen(c *gin.Context) {
	uid := middleware.UserID(c)
	matchID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	at, err := r.svc.MarkSeen(c.Request.Context(), uid, matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, seenResponse{MatchID: matchID, SeenAt: at})
}
