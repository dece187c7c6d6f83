package masking

import "strings"

const (
	maskToken     = "****"
	visiblePrefix = 3
	visibleSuffix = 4
)

// sensitiveFields lists metadata keys whose values are always redacted.
var sensitiveFields = map[string]struct{}{
	"key":    {},
	"secret": {},
	"token":  {},
	"state":  {},
	"code":   {},
}

// MaskSecret redacts a secret, keeping the key prefix and a short suffix so
// an operator can still correlate it with a key hint.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= visiblePrefix+visibleSuffix {
		return maskToken
	}
	return trimmed[:visiblePrefix] + maskToken + trimmed[len(trimmed)-visibleSuffix:]
}

// MaskJSON returns a copy of the input with sensitive values masked. Nested
// maps and slices are walked.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if isSensitive(trimmedKey) {
			masked[trimmedKey] = maskSensitive(value)
			continue
		}
		masked[trimmedKey] = maskNested(value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func isSensitive(key string) bool {
	_, ok := sensitiveFields[strings.ToLower(key)]
	return ok
}

func maskSensitive(value any) any {
	if s, ok := value.(string); ok {
		return MaskSecret(s)
	}
	return maskToken
}

func maskNested(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return MaskJSON(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskNested(item))
		}
		return out
	default:
		return value
	}
}
