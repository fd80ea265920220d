// Package dispatch runs one request through relay end to end.
//
// A Dispatcher admits the request with the limits service, ranks the
// configured agents with the scoring engine, leases a pooled connection to
// the best-ranked agent's provider and hands it to the caller's Executor.
// Whatever happens afterwards, the connection is released with the
// execution error, the outcome is reported back to the scoring engine and
// the user's concurrent slot is returned.
//
// When the pool reports a ranked agent's provider unavailable (disabled,
// unregistered or circuit open) or cannot establish a connection to it, the
// next agent in the ranking is tried:
//
//	d, _ := dispatch.New(dispatch.Options{Limits: svc, Scoring: engine, Pool: p, Agents: agents})
//	res, err := d.Dispatch(ctx, dispatch.Request{UserID: "u1", EstimatedTokens: 800}, exec)
//	if errors.Is(err, limits.ErrLimitExceeded) {
//		// res.Decision.WaitTime says when to retry
//	}
package dispatch
