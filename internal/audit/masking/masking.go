package masking

import "strings"

const maskToken = "****"

var sensitiveKeys = map[string]struct{}{
	"gateway_reference_id": {},
	"idempotency_key":      {},
	"request_key":          {},
	"patient_ref":          {},
}

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskDetails returns a copy of details with sensitive string values masked.
// Nested maps are walked; other values pass through.
func MaskDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}

	masked := make(map[string]any, len(details))
	for key, value := range details {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		switch cast := value.(type) {
		case map[string]any:
			masked[key] = MaskDetails(cast)
		case string:
			if _, ok := sensitiveKeys[strings.ToLower(key)]; ok {
				masked[key] = MaskSecret(cast)
				continue
			}
			masked[key] = cast
		default:
			masked[key] = value
		}
	}
	return masked
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
