package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/payments"),
		attribute.String("patient_ref", "MRN-1"),
		attribute.String("card_last4", "4242"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorTruncatesAtNewline(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.Equal(t, "boom", SafeError(errors.New("boom\nstack")).Error())
}
