package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("patient_ref", "MRN-1"),
		attribute.String("status", "COMPLETED"),
	)
	assert.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("patient_ref"), attr.Key)
	}
}

func TestNoopMetricsAcceptRecords(t *testing.T) {
	m := NewNoop()
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordPayment(ctx, "CARD", "COMPLETED")
		m.RecordRefund(ctx, "PENDING")
		m.RecordCreditOperation(ctx, "apply")
		m.RecordGatewayCall(ctx, "stripe", "charge", "succeeded", 20*time.Millisecond)
	})

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.RecordPayment(ctx, "CASH", "COMPLETED") })
}
