// Package health implements relay's liveness and readiness probes.
//
// A Checker holds named CheckFuncs. Liveness only reports that the process
// is serving; readiness runs every registered check concurrently, each
// bounded by the checker timeout, and reports "degraded" with HTTP 503 if
// any of them fails:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("usage_store", store.Ping)
//	checker.RegisterCheck("pool", health.PoolCheck(p))
//	health.Register(mux, checker, version)
//
// Endpoints: /healthz (liveness), /readyz (readiness) and /version.
package health
