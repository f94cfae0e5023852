package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/clinicbill/internal/observability/logger"
	"github.com/smallbiznis/clinicbill/internal/orgcontext"
	"go.uber.org/zap"
)

const (
	HeaderClinic    = "X-Clinic-ID"
	HeaderActor     = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	contextClinicIDKey = "clinic_id"
)

// ClinicContext resolves the tenant and the acting user from request
// headers. Every billing route is clinic scoped.
func ClinicContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderClinic))
		clinicID, err := snowflake.ParseString(raw)
		if raw == "" || err != nil || clinicID == 0 {
			AbortWithError(c, ErrMissingClinic)
			return
		}

		actor := orgcontext.Actor{
			ID:   c.GetHeader(HeaderActor),
			Role: strings.ToLower(c.GetHeader(HeaderActorRole)),
		}
		ctx := orgcontext.WithClinicID(c.Request.Context(), clinicID)
		ctx = orgcontext.WithActor(ctx, actor)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextClinicIDKey, clinicID)

		obslogger.FromContext(ctx).Debug("clinic context resolved",
			zap.String("clinic_id", clinicID.String()),
			zap.String("actor_id", actor.ID),
		)
		c.Next()
	}
}

func clinicIDFrom(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(contextClinicIDKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	id, _ := orgcontext.ClinicIDFromContext(c.Request.Context())
	return id
}
