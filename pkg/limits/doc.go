// Package limits implements per-user admission control.
//
// A Service resolves each user's effective limits (tier defaults, a persisted
// custom record, temporary boosts) and checks a request against live usage
// counters held in a usage.Store. Checks run in a fixed order and stop at the
// first failure:
//
//  1. requests per minute
//  2. requests per hour
//  3. requests per day, tokens per request, tokens per day
//  4. concurrent requests
//  5. monthly budget
//  6. endpoint-specific requests per minute
//  7. the configured LoadAdjuster
//
// An admitted request is recorded before CheckUserLimits returns; the caller
// must call ReleaseConcurrent once the upstream call completes.
//
// # Windows
//
// Counters live under window-stamped keys (UTC minute, hour, day and month),
// so a new window starts from zero without any reset job. Wait times in a
// denial point at the next boundary of the window that failed.
//
// # Storage failures
//
// FailOpen (the default) admits the request with a conservative free-tier
// snapshot and marks the result Degraded. FailClosed returns an error wrapping
// ErrStorageUnavailable.
//
// # Boosts
//
// AddTemporaryBoost scales five caps immediately and records an OverrideRule.
// Expired rules are reverted on the next read of the user's limits and the
// reverted record is persisted.
package limits
