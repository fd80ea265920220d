package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redactor masks personal data and credentials in log values.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// NewRedactor returns a redactor with the built-in patterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: []redactPattern{
		{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`), "Bearer ***"},
		{regexp.MustCompile(`sk-[a-zA-Z0-9]{8,}`), "sk-***"},
		{regexp.MustCompile(`([a-zA-Z0-9._%+-])[a-zA-Z0-9._%+-]*@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`), "$1***@$2"},
	}}
}

// RedactString applies every pattern to s.
func (r *Redactor) RedactString(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook. Keys that name a
// secret are masked outright.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		return slog.String(a.Key, "***")
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	}
	return a
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range []string{"password", "secret", "api_key", "token"} {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}
