package server

import (
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
)

// Registrar is a common interface for all gRPC service registrars
type Registrar interface {
	Register(s *grpc.Server)
}

// Routes are the HTTP groups a service can attach handlers to.
//   - API: /v1, behind bearer auth.
//   - Internal: /internal/v1, behind the shared service token.
type Routes struct {
	API      *gin.RouterGroup
	Internal *gin.RouterGroup
}

// RouteRegistrar is the HTTP counterpart of Registrar.
type RouteRegistrar interface {
	RegisterRoutes(r Routes)
}
