package bundler

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

const redactedMask = "[REDACTED]"

// secretParam matches credentials passed as query parameters.
var secretParam = regexp.MustCompile(`(?i)\b((?:access_)?(?:password|token|key|secret|auth)[a-z_]*)=([^&\s]+)`)

var sensitiveKeys = []string{"password", "token", "secret", "authorization"}

// RedactURL strips credentials from a URL before it is logged or reported.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return secretParam.ReplaceAllString(raw, "$1="+redactedMask)
	}
	u.RawQuery = secretParam.ReplaceAllString(u.RawQuery, "$1="+redactedMask)
	return u.Redacted()
}

// LogValue implements slog.LogValuer. Signing credentials never reach the
// log.
func (c Config) LogValue() slog.Value {
	data, err := json.Marshal(c)
	if err != nil {
		return slog.StringValue(redactedMask)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return slog.StringValue(redactedMask)
	}
	m = scrubMap(m)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, m[k]))
	}
	return slog.GroupValue(attrs...)
}

// scrubMap recursively masks sensitive keys and drops empty values.
func scrubMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if isEmpty(v) {
			continue
		}
		lowerK := strings.ToLower(k)
		sensitive := false
		for _, sk := range sensitiveKeys {
			if strings.Contains(lowerK, sk) {
				sensitive = true
				break
			}
		}
		if sensitive {
			out[k] = redactedMask
			continue
		}

		switch val := v.(type) {
		case map[string]any:
			out[k] = scrubMap(val)
		case []any:
			out[k] = scrubSlice(val)
		case string:
			out[k] = scrubString(val)
		default:
			out[k] = v
		}
	}
	return out
}

func scrubSlice(data []any) []any {
	out := make([]any, len(data))
	for i, v := range data {
		switch val := v.(type) {
		case map[string]any:
			out[i] = scrubMap(val)
		case []any:
			out[i] = scrubSlice(val)
		case string:
			out[i] = scrubString(val)
		default:
			out[i] = v
		}
	}
	return out
}

func scrubString(s string) string {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return RedactURL(s)
	}
	return s
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case float64:
		return val == 0
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}
