package middleware

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig holds configuration for the security headers middleware.
type SecurityHeadersConfig struct {
	// IsDevelopment relaxes script and connect sources for local frontends.
	IsDevelopment bool
	// CustomCSPDirectives overrides or adds CSP directives.
	CustomCSPDirectives map[string]string
}

// DefaultSecurityHeadersConfig returns a secure default configuration.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{}
}

// SecurityHeaders sets security-related response headers. API responses
// carry session and identity data, so they are never cached.
func SecurityHeaders(cfg SecurityHeadersConfig) gin.HandlerFunc {
	csp := buildCSP(cfg)
	permissions := buildPermissionsPolicy()
	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", csp)
		if !cfg.IsDevelopment {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		}
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", permissions)
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("Cache-Control", "no-store")
		}
		c.Next()
	}
}

// buildCSP constructs the Content-Security-Policy header value with
// directives in a stable order.
func buildCSP(cfg SecurityHeadersConfig) string {
	directives := map[string]string{
		"default-src": "'self'",
		"script-src":  "'self'",
		"style-src":   "'self' 'unsafe-inline'",
		"img-src":     "'self' data: https:",
		"font-src":    "'self' data:",
		"connect-src": "'self'", // covers same-origin event streams
		"frame-src":   "'none'",
		"object-src":  "'none'",
		"base-uri":    "'self'",
		"form-action": "'self'",
	}
	if cfg.IsDevelopment {
		directives["script-src"] = "'self' 'unsafe-inline' 'unsafe-eval'"
		directives["connect-src"] = "'self' ws: wss:"
	}
	for key, value := range cfg.CustomCSPDirectives {
		directives[key] = value
	}

	keys := make([]string, 0, len(directives))
	for k := range directives {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, directives[k]))
	}
	return strings.Join(parts, "; ")
}

// buildPermissionsPolicy disables browser features the console never uses.
func buildPermissionsPolicy() string {
	return strings.Join([]string{
		"accelerometer=()",
		"camera=()",
		"geolocation=()",
		"gyroscope=()",
		"magnetometer=()",
		"microphone=()",
		"payment=()",
		"usb=()",
	}, ", ")
}
