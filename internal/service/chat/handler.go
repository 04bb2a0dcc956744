package chat

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	svcErr "github.com/oggyb/blind-match/internal/errors"
	"github.com/oggyb/blind-match/internal/middleware"
	"github.com/oggyb/blind-match/internal/server"
	"github.com/oggyb/blind-match/internal/service/views"
	"github.com/oggyb/blind-match/internal/utils/response"
)

// Registrar ties the message endpoints into the HTTP server
type Registrar struct {
	svc *Service
}

// NewRegistrar creates a new Registrar for the chat service
func NewRegistrar(svc *Service) *Registrar {
	return &Registrar{svc: svc}
}

var _ server.RouteRegistrar = (*Registrar)(nil)

// RegisterRoutes attaches the chat handlers
func (r *Registrar) RegisterRoutes(routes server.Routes) {
	routes.API.POST("/matches/:id/messages", r.send)
	routes.API.GET("/matches/:id/messages", r.list)
}

type sendRequest struct {
	Content      string `json:"content"`
	ClientTempID string `json:"client_temp_id"`
}

type listResponse struct {
	Messages      []views.Message `json:"messages"`
	NextPageToken *string         `json:"next_page_token,omitempty"`
}

func (r *Registrar) send(c *gin.Context) {
	uid := middleware.UserID(c)
	matchID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, svcErr.InvalidArgument("body must be JSON with a content field"))
		return
	}

	msg, err := r.svc.Send(c.Request.Context(), uid, matchID, req.Content, req.ClientTempID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, views.NewMessage(msg))
}

func (r *Registrar) list(c *gin.Context) {
	uid := middleware.UserID(c)
	matchID, err := response.UintParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var token *string
	if v, ok := c.GetQuery("page_token"); ok && v != "" {
		token = &v
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	msgs, next, err := r.svc.List(c.Request.Context(), uid, matchID, token, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, listResponse{Messages: views.NewMessages(msgs), NextPageToken: next})
}
