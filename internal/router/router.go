package router

import (
	"net/http"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/handler"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/pkg/constants"
	"github.com/gin-gonic/gin"
)

// New builds the HTTP router.
func New(
	sessionHandler *handler.SessionHandler,
	relayWS *handler.RelayWSHandler,
	health *handler.HealthHandler,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)

	// REST sessions
	sessions := r.Group(constants.PathSessions)
	{
		sessions.POST("", sessionHandler.CreateSession)
		sessions.GET("/:id", sessionHandler.GetSession)
		sessions.PATCH("/:id/status", sessionHandler.UpdateStatus)
	}

	// WebSocket signaling relay
	r.GET(constants.PathWS, relayWS.ServeWS)

	return r
}
