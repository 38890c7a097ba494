package redact

import (
	"encoding/json"
	"strings"
)

// sensitiveKeyFragments classify a JSON object key as
// carrying a secret. Matching is case-insensitive and substring-based so
// that "twitch_access_token", "refresh_token" and "client_secret" all hit.
var sensitiveKeyFragments = []string{
	"token",
	"secret",
	"password",
	"authorization",
	"credential",
	"api_key",
	"apikey",
	"signing_key",
}

// isSensitiveKey reports whether a JSON object key looks like it holds a secret.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// MaskValue replaces a sensitive string value with "***<last-4>", or with
// "***" alone when the value is too short to safely reveal a suffix.
func MaskValue(value string) string {
	if value == "" {
		return value
	}
	if len(value) <= 4 {
		return "***"
	}
	return "***" + value[len(value)-4:]
}

// FieldMasker is a structural Masker that walks a JSON document and masks
// the value of any object key matching the sensitive-key filter (tokens,
// secrets, authorization headers, passwords — per the audit-record masking
// contract). Non-JSON content is left untouched by AppliesTo.
type FieldMasker struct{}

// Name implements Masker.
func (FieldMasker) Name() string { return "sensitive-fields" }

// AppliesTo implements Masker. It reports true for any syntactically valid
// JSON object or array, deferring the actual decision of "did anything get
// masked" to Mask.
func (FieldMasker) AppliesTo(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// Mask implements Masker.
func (m FieldMasker) Mask(content string) string {
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		// Not valid JSON after all — leave it for the regex sweep.
		return content
	}
	masked := maskValue(doc)
	out, err := json.Marshal(masked)
	if err != nil {
		return content
	}
	return string(out)
}

func maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				if s, ok := val.(string); ok {
					out[k] = MaskValue(s)
					continue
				}
			}
			out[k] = maskValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = maskValue(val)
		}
		return out
	default:
		return v
	}
}
