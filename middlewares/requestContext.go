package middlewares

import (
	"strconv"
	"strings"

	"bitbucket.org/fixpoint/repairs_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestContextMiddleware stamps every request with a correlation id and the
// caller-supplied acting user identity. The engine does not authenticate;
// the surrounding application is trusted to put the right user id on the
// request. Identity here is audit attribution only.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := strings.TrimSpace(c.GetHeader("X-Correlation-Id"))
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)

		if rawUserId := strings.TrimSpace(c.GetHeader("X-Acting-User-Id")); rawUserId != "" {
			if userId, err := strconv.Atoi(rawUserId); err == nil {
				ctx = utils.SetUserIdInContext(ctx, userId)
			}
		}
		if userName := strings.TrimSpace(c.GetHeader("X-Acting-User-Name")); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-Id", correlationId)
		c.Next()
	}
}
