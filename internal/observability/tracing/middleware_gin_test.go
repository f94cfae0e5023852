package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/clinicbill/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestBillingAttributes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var attrs []attribute.KeyValue
	r.GET("/v1/payments/:id", func(c *gin.Context) {
		ctx := orgcontext.WithClinicID(c.Request.Context(), snowflake.ID(7))
		ctx = orgcontext.WithActor(ctx, orgcontext.Actor{ID: "u-9", Role: "cashier"})
		c.Request = c.Request.WithContext(ctx)
		attrs = billingAttributes(c, c.FullPath())
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/payments/12", nil))

	got := map[attribute.Key]string{}
	for _, a := range attrs {
		got[a.Key] = a.Value.AsString()
	}
	assert.Equal(t, map[attribute.Key]string{
		"clinic_id":           "7",
		"enduser.id":          "u-9",
		"enduser.role":        "cashier",
		"billing.resource":    "payments",
		"billing.resource_id": "12",
	}, got)
}
