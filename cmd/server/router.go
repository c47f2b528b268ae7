package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Requests are a short symptom list or a questionnaire.
const maxBodyBytes = 64 << 10

// apiRouter returns the public router with the per-route middleware
// installed. The caller registers routes on it.
func apiRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	// http.route on the request logger and span
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxBodyBytes))
	return r
}

// wrapAPI applies the listener-wide middleware around h. Wrappers are
// applied inside out: the last one here is the first to see a request.
func wrapAPI(h http.Handler, L log.Logger, instrument func(http.Handler) http.Handler, mwCfg httpmw.Config) http.Handler {
	// innermost so request logs carry trace and route fields
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(traced),
		// renamed to the route pattern once chi has matched
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	if instrument != nil {
		h = instrument(h)
	}
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: mwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)
	return h
}

// traced reports whether a request gets a span. Health checks do not.
func traced(r *http.Request) bool {
	switch r.URL.Path {
	case "/-/healthy", "/-/ready":
		return false
	}
	return true
}
