// Package usage provides the key/value counter stores behind per-user
// admission control.
//
// A Store keeps float counters and opaque records under string keys, each
// with its own time to live. Three backends are available:
//
//   - memory: process-local, the default; suitable for a single instance
//   - sqlite: durable across restarts (modernc.org/sqlite, no cgo)
//   - redis:  shared between relay instances (go-redis v9)
//
// Increment is atomic per key on every backend and refreshes the key's TTL.
// Callers stamp window boundaries into the key itself (for example
// "usage:alice:rt:minute:29000000"), so counters never need resetting; old
// windows simply expire. The memory and SQLite backends drop expired keys
// lazily on read and eagerly through a Sweeper scheduled with robfig/cron.
//
// Open builds the configured backend:
//
//	store, err := usage.Open(cfg.UsageStore)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package usage
