package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/ordersync/internal/observability/context"
)

const HeaderUserID = "X-User-Id"

// ActorContext tags the request context with the calling user so job logs
// carry actor_id.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := strings.TrimSpace(c.GetHeader(HeaderUserID)); userID != "" {
			ctx := obscontext.WithActor(c.Request.Context(), "user", userID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
