package middleware

import (
	"net/http"
	"strings"

	"github.com/vigil-iam/vigil/backend/internal/util"
)

const maxLoggedHeader = 200

// redactedHeaders never reach the logs. Session cookies and websocket keys
// are credentials for the console.
var redactedHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-auth-token":        {},
	"x-access-token":      {},
	"x-forwarded-for":     {},
	"sec-websocket-key":   {},
}

// SanitizeHeaders returns headers safe for logging: credentials are redacted
// and other values are stripped of control characters and truncated.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if _, ok := redactedHeaders[strings.ToLower(k)]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			clean = append(clean, truncate(util.SanitizeForLog(v)))
		}
		out[k] = clean
	}
	return out
}

// SanitizePath prepares a request path for logging. The query string is
// dropped since websocket tokens travel there.
func SanitizePath(p string) string {
	if i := strings.IndexByte(p, '?'); i != -1 {
		p = p[:i]
	}
	return truncate(util.SanitizeForLog(p))
}

func truncate(s string) string {
	if len(s) > maxLoggedHeader {
		return s[:maxLoggedHeader]
	}
	return s
}
