package matching

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oggyb/blind-match/internal/middleware"
	"github.com/oggyb/blind-match/internal/server"
	"github.com/oggyb/blind-match/internal/service/views"
	"github.com/oggyb/blind-match/internal/utils/response"
)

// SeenReader resolves the viewer's reveal acknowledgement for match views.
type SeenReader interface {
	SeenAt(ctx context.Context, matchID, viewerID uint64) (*time.Time, error)
}

// Registrar ties the matching endpoints into the HTTP server
type Registrar struct {
	svc  *Service
	seen SeenReader
}

// NewRegistrar creates a new Registrar for the matching service
func NewRegistrar(svc *Service, seen SeenReader) *Registrar {
	return &Registrar{svc: svc, seen: seen}
}

var _ server.RouteRegistrar = (*Registrar)(nil)

// RegisterRoutes attaches the matching handlers
func (r *Registrar) RegisterRoutes(routes server.Routes) {
	routes.API.GET("/matches/current", r.current)
	routes.API.POST("/matches/find", r.find)
	routes.API.GET("/matches/:id", r.get)
	routes.API.POST("/matches/:id/exit", r.exit)

	routes.Internal.POST("/users/:id/arrival", r.arrival)
}

type findResponse struct {
	Status string       `json:"status"`
	Match  *views.Match `json:"match,omitempty"`
}

type currentResponse struct {
	Match *views.Match `json:"match"`
}

type exitResponse struct {
	Status    string       `json:"status"`
	ExitStage string       `json:"exit_stage"`
	Match     *views.Match `json:"match"`
}

func (r *Registrar) current(c *gin.Context) {
	uid := middleware.UserID(c)
	m, err := r.svc.CurrentMatch(c.Request.Context(), uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	if m == nil {
		response.OK(c, currentResponse{})
		return
	}
	seen, err := r.seen.SeenAt(c.Request.Context(), m.ID, uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, currentResponse{Match: views.NewMatch(m, uid, seen)})
}

func (r *Registrar) find(c *gin.Context) {
	uid := middleware.UserID(c)
	res, err := r.svc.FindMatch(c.Request.Context(), uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.Status == StatusQueued {
		c.JSON(http.StatusAccepted, findResponse{Status: StatusQueued})
		return
	}
	response.OK(c, findResponse{Status: res.Status, Match: views.NewMatch(res.Match, uid, nil)})
}

func (r *Registrar) get(c *gin.Context) {
	uid := middleware.UserID(c)
	matchID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	m, err := r.svc.Match(c.Request.Context(), uid, matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	seen, err := r.seen.SeenAt(c.Request.Context(), m.ID, uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, currentResponse{Match: views.NewMatch(m, uid, seen)})
}

func (r *Registrar) exit(c *gin.Context) {
	uid := middleware.UserID(c)
	matchID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	m, err := r.svc.Exit(c.Request.Context(), uid, matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, exitResponse{Status: "exited", ExitStage: *m.ExitStage, Match: views.NewMatch(m, uid, nil)})
}

func (r *Registrar) arrival(c *gin.Context) {
	userID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	m, err := r.svc.HandleArrival(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if m == nil {
		// the arrival is not queued; it can call find later
		response.OK(c, findResponse{Status: "unmatched"})
		return
	}
	response.OK(c, findResponse{Status: StatusMatched, Match: views.NewMatch(m, userID, nil)})
}
