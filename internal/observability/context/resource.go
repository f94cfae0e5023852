package context

import "strings"

// ResourceFromRoute names the billing resource a gin route addresses,
// e.g. "refunds" for "/v1/refunds/:id/approve". Routes outside /v1 yield "".
func ResourceFromRoute(route string) string {
	parts := strings.Split(strings.Trim(route, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		return ""
	}
	return parts[1]
}
