// Package correlation carries the id that ties an inbound request to the
// processor calls and audit rows it produces.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Header is the inbound and outbound HTTP header name.
const Header = "X-Correlation-Id"

const maxLen = 64

type key struct{}

// FromContext returns the correlation id or an empty string.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key{}).(string)
	return id
}

// WithID stores id on ctx. Blank or oversized ids are ignored.
func WithID(ctx context.Context, id string) context.Context {
	id = Sanitize(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// Ensure returns ctx with a correlation id, minting a ULID when absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return context.WithValue(ctx, key{}, id), id
}

// Sanitize trims a client supplied id and drops it when it is too long or
// carries characters that do not belong in a header value.
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxLen {
		return ""
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return id
}
