package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsCredentials(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.method", "POST"),
		attribute.String("client_secret", "s3cr3t"),
		attribute.String("http.route", "/oauth/token"),
	)
	assert.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("client_secret"), attr.Key)
	}
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	err := SafeError(fmt.Errorf("consume code: %w", errors.New(`pq: relation "x" does not exist`)))
	assert.Equal(t, "consume code", err.Error())
}
