// Package config loads and validates the relay configuration.
//
// A Config is built in a fixed order, each step overriding the previous:
//
//  1. built-in defaults (defaults.go)
//  2. the YAML file
//  3. RELAY_* environment variables
//  4. secret references, resolved in place
//  5. Validate, which reports every invalid field at once
//
// LoadConfig stops after step 2; LoadConfigWithEnvOverrides runs them all.
//
// # Environment Variables
//
// Names follow RELAY_SECTION_FIELD:
//
//   - RELAY_POOL_MAX_CONNECTIONS overrides pool.max_connections
//   - RELAY_USAGE_STORE_BACKEND overrides usage_store.backend
//   - RELAY_PROVIDERS_<ID>_BASE_URL overrides the base_url of provider <id>
//
// # Secrets
//
// Credential fields may hold a reference instead of a literal:
//
//	usage_store:
//	  redis:
//	    password: "${secret:redis_password}"   # RELAY_SECRET_REDIS_PASSWORD
//	telemetry:
//	  tracing:
//	    endpoint: "${file:/run/secrets/otlp}"
//
// # Process Configuration
//
// Initialize installs the configuration commands read with GetConfig.
// Packages below cmd/ never call GetConfig; they take their section as an
// argument.
//
// # Hot Reload
//
// Watcher observes the file with fsnotify, debounces bursts of writes and
// calls ReloadConfig. A file that fails to load or validate is logged and
// the previous configuration stays active. Only pool providers and the
// agent catalog are applied to a running service; other sections take
// effect on restart.
//
// # Example
//
//	limits:
//	  default_tier: "free"
//	  failure_policy: "fail_open"
//
//	pool:
//	  max_connections: 50
//	  providers:
//	    - id: "openai"
//	      base_url: "https://api.openai.com"
//	      max_connections: 10
//
//	agents:
//	  - id: "gpt-fast"
//	    provider: "openai"
//	    capabilities: ["chat", "code"]
//
//	usage_store:
//	  backend: "sqlite"
//	  sqlite:
//	    path: "data/usage.db"
package config
