// Package health provides the liveness, readiness and version endpoints of
// the tabula server.
//
// Components register named checks; the readiness probe runs them
// concurrently, each bounded by the checker timeout:
//
//	checker := health.New(5 * time.Second)
//	checker.Register("datasets", catalog.Ping)
//	checker.Register("queue", q.Check)
//
//	mux.HandleFunc("GET /health", checker.LivenessHandler())
//	mux.HandleFunc("GET /ready", checker.ReadinessHandler())
//
// The readiness probe answers 503 with a "degraded" report when any check
// fails.
package health
