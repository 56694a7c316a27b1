package core

import "strings"

const RedactedValue = "[REDACTED]"

var sensitiveKeyFragments = []string{
	"secret",
	"token",
	"password",
	"authorization",
	"code",
	"signature",
	"encrypted",
	"credential",
}

// identifying keys that contain a sensitive fragment but are safe to log.
var loggableKeys = map[string]struct{}{
	"connection_id":     {},
	"owner_id":          {},
	"tenant_id":         {},
	"site_id":           {},
	"app_id":            {},
	"callback_id":       {},
	"marketplace_user":  {},
	"error_code":        {},
	"status_code":       {},
	"token_expires_at":  {},
	"token_refreshed":   {},
	"has_refresh_token": {},
}

// RedactSensitiveMap returns a copy of fields with every secret-bearing value
// replaced by RedactedValue. Nested maps are walked.
func RedactSensitiveMap(fields map[string]any) map[string]any {
	target := make(map[string]any, len(fields))
	for key, value := range fields {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			target[key] = RedactSensitiveMap(nested)
			continue
		}
		target[key] = value
	}
	return target
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	if _, ok := loggableKeys[key]; ok {
		return false
	}
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}
