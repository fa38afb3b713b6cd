package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redacted replaces a value that must not be logged.
const Redacted = "[REDACTED]"

// secretKeys are attribute key fragments whose values are always redacted.
// Matching is case-insensitive and by substring, so "redis_password" and
// "X-Access-Token" are both covered.
var secretKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"authorization",
	"bearer",
	"jwt",
	"cookie",
	"api_key",
	"apikey",
}

// SecretKey reports whether values logged under key are redacted.
func SecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, frag := range secretKeys {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// credentialText finds credentials written inline in free text, such as an
// analysed log line or an upstream error body. Group 1 is kept.
var credentialText = []*regexp.Regexp{
	regexp.MustCompile(`(?i)((?:password|passwd|secret|token)["']?\s*[:=]\s*["']?)[^\s"',;&]+`),
	regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)(basic\s+)[a-z0-9+/]{8,}=*`),
}

// Scrub redacts inline credentials in s and keeps the surrounding text.
func Scrub(s string) string {
	for _, re := range credentialText {
		s = re.ReplaceAllString(s, "${1}"+Redacted)
	}
	return s
}

// MaskToken keeps the first and last four characters of a bearer token so
// that two tokens can be told apart in logs.
func MaskToken(token string) string {
	switch {
	case token == "":
		return ""
	case len(token) <= 12:
		return Redacted
	}
	return token[:4] + "***" + token[len(token)-4:]
}

// MaskEmail keeps the domain and the outer letters of the local part.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, ok := strings.Cut(email, "@")
	switch {
	case !ok || local == "":
		return Redacted
	case len(local) <= 2:
		return Redacted + "@" + domain
	}
	return local[:1] + "***" + local[len(local)-1:] + "@" + domain
}

// redactAttr is the slog ReplaceAttr hook installed by New.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if SecretKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if strings.Contains(strings.ToLower(a.Key), "email") {
		return slog.String(a.Key, MaskEmail(v))
	}
	if s := Scrub(v); s != v {
		return slog.String(a.Key, s)
	}
	return a
}
