package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// RedactPattern is an extra pattern masked in log values.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

type pattern struct {
	name    string
	re      *regexp.Regexp
	replace func(string) string
}

// Redactor masks personal data in log attribute values. Patterns run in
// order; bearer tokens are matched before bare API keys.
type Redactor struct {
	patterns []pattern
}

var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey", "authorization",
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// extra. An extra pattern that does not compile is an error.
func NewRedactor(extra []RedactPattern) (*Redactor, error) {
	r := &Redactor{patterns: []pattern{
		{
			name:    "bearer_token",
			re:      regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
			replace: func(string) string { return "Bearer ***" },
		},
		{
			name:    "api_key",
			re:      regexp.MustCompile(`\b(?:sk|tg|key)[-_][A-Za-z0-9]{8,}\b`),
			replace: RedactAPIKey,
		},
		{
			name:    "email",
			re:      regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			replace: RedactEmail,
		},
		{
			name:    "ipv4",
			re:      regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			replace: RedactIPv4,
		},
		{
			name:    "ipv6",
			re:      regexp.MustCompile(`\b(?:[0-9A-Fa-f]{1,4}:){7}[0-9A-Fa-f]{1,4}\b`),
			replace: func(string) string { return "****:****" },
		},
	}}

	for _, p := range extra {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p.Name, err)
		}
		replacement := p.Replacement
		r.patterns = append(r.patterns, pattern{
			name:    p.Name,
			re:      re,
			replace: func(string) string { return replacement },
		})
	}
	return r, nil
}

// Redact masks every pattern match in s.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.re.ReplaceAllStringFunc(s, p.replace)
	}
	return s
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey || a.Key == slog.LevelKey || a.Key == slog.SourceKey {
		return a
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, "***")
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.Redact(v.String()))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.Redact(err.Error()))
		}
		if s, ok := v.Any().(fmt.Stringer); ok {
			return slog.String(a.Key, r.Redact(s.String()))
		}
	}
	return a
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// RedactEmail keeps the first character of the local part and the domain.
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// RedactAPIKey keeps the key prefix up to its separator.
func RedactAPIKey(key string) string {
	if i := strings.IndexAny(key, "-_"); i > 0 {
		return key[:i+1] + "***"
	}
	return "***"
}

// RedactIPv4 keeps the first octet.
func RedactIPv4(ip string) string {
	if i := strings.IndexByte(ip, '.'); i > 0 {
		return ip[:i] + ".*.*.*"
	}
	return "*.*.*.*"
}
