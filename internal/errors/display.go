package errors

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync/atomic"
)

var showDetail atomic.Bool

// ShowDetail controls whether Display passes upstream error text through
// untouched. It is off by default.
func ShowDetail(on bool) { showDetail.Store(on) }

type rewrite struct {
	re   *regexp.Regexp
	tmpl string
	fn   func(string) string
}

// scrubs run in order over upstream text before it reaches the screen.
var scrubs = []rewrite{
	// URLs keep scheme and host.
	{re: regexp.MustCompile(`\b(https?://[^/\s"']+)/[^\s"']*`), tmpl: "$1"},
	// Absolute paths keep only their last element.
	{
		re: regexp.MustCompile(`(?:/[\w.\-]+){2,}|[A-Za-z]:\\[\w.\-\\ ]+`),
		fn: func(m string) string { return path.Base(strings.ReplaceAll(m, `\`, "/")) },
	},
	// IPv4 addresses keep their network half.
	{re: regexp.MustCompile(`\b(\d{1,3})\.(\d{1,3})\.\d{1,3}\.\d{1,3}\b`), tmpl: "$1.$2.x.x"},
	{re: regexp.MustCompile(`(?i)bearer\s+\S+|(?:password|token|secret)=\S+`), tmpl: "[REDACTED]"},
}

// Scrub strips file paths, host addresses and credentials from upstream
// error text. Stack traces collapse to a generic message.
func Scrub(s string) string {
	if showDetail.Load() {
		return s
	}
	if strings.Contains(s, "goroutine ") || strings.Count(s, "\n") > 3 {
		return "internal error"
	}
	for _, r := range scrubs {
		if r.fn != nil {
			s = r.re.ReplaceAllStringFunc(s, r.fn)
		} else {
			s = r.re.ReplaceAllString(s, r.tmpl)
		}
	}
	return s
}

// Display returns the message the console shows for err. Session and role
// failures get fixed wording, validation messages are shown as written,
// and anything else is scrubbed.
func Display(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return Scrub(err.Error())
	}

	switch e.Kind {
	case KindUnauthorized:
		return "Session expired or invalid. Please sign in again."
	case KindResetRequired:
		return "You must reset your password before continuing."
	case KindForbidden:
		if e.Message == "" {
			return "Access denied"
		}
		return "Access denied: " + e.Message
	case KindValidation:
		return e.Message
	}
	if e.Err == nil {
		return Scrub(e.Message)
	}
	return Scrub(fmt.Sprintf("%s (%v)", e.Message, e.Err))
}
