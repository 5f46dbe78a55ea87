package tracing

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untracedPaths are scraped or probed every few seconds.
var untracedPaths = []string{"/metrics", "/health", "/ready"}

// HTTPMiddleware traces the admin endpoints, skipping probe and scrape
// traffic.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithFilter(Traced),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

// Traced reports whether a request gets a span.
func Traced(r *http.Request) bool {
	for _, p := range untracedPaths {
		if r.URL.Path == p || strings.HasPrefix(r.URL.Path, p+"/") {
			return false
		}
	}
	return true
}
