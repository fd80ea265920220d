package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// SecretEnvPrefix namespaces secrets read from the environment.
const SecretEnvPrefix = "RELAY_SECRET_"

// secretRefRegex matches ${secret:name} and ${file:/path} references.
var secretRefRegex = regexp.MustCompile(`\$\{(secret|file):([^}]+)\}`)

// ResolveSecrets replaces secret references in credential fields.
//
//	${secret:redis-password}        reads RELAY_SECRET_REDIS_PASSWORD
//	${file:/run/secrets/redis-pass} reads the file, trailing newline trimmed
//
// Every unresolvable reference is reported; fields keep their raw value.
func ResolveSecrets(cfg *Config) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"usage_store.redis.addr", &cfg.UsageStore.Redis.Addr},
		{"usage_store.redis.password", &cfg.UsageStore.Redis.Password},
		{"telemetry.tracing.endpoint", &cfg.Telemetry.Tracing.Endpoint},
	}

	var errs []error
	for _, f := range fields {
		resolved, err := resolveSecretRefs(*f.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		*f.value = resolved
	}
	return errors.Join(errs...)
}

func resolveSecretRefs(input string) (string, error) {
	if !strings.Contains(input, "${") {
		return input, nil
	}

	var errs []error
	output := secretRefRegex.ReplaceAllStringFunc(input, func(match string) string {
		m := secretRefRegex.FindStringSubmatch(match)
		kind, ref := m[1], strings.TrimSpace(m[2])

		var value string
		var err error
		switch kind {
		case "secret":
			value, err = envSecret(ref)
		case "file":
			value, err = fileSecret(ref)
		}
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return value
	})
	return output, errors.Join(errs...)
}

func envSecret(name string) (string, error) {
	envVar := SecretEnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value, ok := os.LookupEnv(envVar)
	if !ok || value == "" {
		return "", fmt.Errorf("secret %q not found (env var %s)", name, envVar)
	}
	return value, nil
}

func fileSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading secret file: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
