// Package pool manages a bounded, provider-partitioned set of upstream
// connections.
//
// # Acquisition
//
// Acquire hands out an idle connection when one exists, preferring the least
// used and healthiest. Otherwise it opens a new connection while both the
// global and the per-provider caps have headroom. When neither is possible the
// caller waits in a priority queue (critical, high, normal, low; FIFO within a
// band) until a release frees capacity or its timeout elapses, in which case
// it receives an *AcquireTimeoutError.
//
// Connections are established through a Connector. Every establishment runs
// inside the provider's circuit breaker; a provider whose breaker is open is
// skipped by automatic selection and rejected when requested by name.
//
// # Lifecycle
//
//	connecting -> idle <-> active
//	any        -> error
//	error      -> idle    (passing health check)
//	error      -> closed  (error count above RetryAttempts)
//	idle       -> closed  (idle timeout, never below MinConnections)
//
// Start runs periodic maintenance: health checks with bounded parallelism,
// idle eviction and top-up to MinConnections. Drain stops new acquisitions,
// waits for active connections and then closes everything.
//
// # Usage
//
//	p, err := pool.New(pool.Options{Config: cfg.Pool, Connector: pool.NewHTTPConnector(nil)})
//	if err != nil {
//		return err
//	}
//	p.Start(ctx)
//	defer p.Close()
//
//	conn, err := p.Acquire(ctx, pool.AcquireOptions{Priority: pool.PriorityHigh})
//	if err != nil {
//		return err
//	}
//	err = call(conn.Session)
//	p.Release(conn, err)
package pool
