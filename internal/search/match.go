package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"alert-triage/internal/rbac"
	"alert-triage/internal/schema"
	"alert-triage/internal/severity"
)

type fieldKind int

const (
	kindText fieldKind = iota
	kindPrediction
	kindScore
	kindTime
	kindSeverity
)

type fieldSpec struct {
	field rbac.Field // empty for derived fields
	kind  fieldKind
	get   func(r *schema.LogRecord) string
}

func text(f rbac.Field, get func(r *schema.LogRecord) string) fieldSpec {
	return fieldSpec{field: f, kind: kindText, get: get}
}

// fieldAliases maps query field names to record fields.
var fieldAliases = map[string]fieldSpec{
	"id":         text(rbac.FieldID, func(r *schema.LogRecord) string { return r.ID }),
	"_id":        text(rbac.FieldID, func(r *schema.LogRecord) string { return r.ID }),
	"event":      text(rbac.FieldEvent, func(r *schema.LogRecord) string { return r.Event }),
	"log":        text(rbac.FieldEvent, func(r *schema.LogRecord) string { return r.Event }),
	"sequence":   text(rbac.FieldSequence, func(r *schema.LogRecord) string { return r.Sequence }),
	"user":       text(rbac.FieldUserEmail, func(r *schema.LogRecord) string { return r.UserEmail }),
	"email":      text(rbac.FieldUserEmail, func(r *schema.LogRecord) string { return r.UserEmail }),
	"user_email": text(rbac.FieldUserEmail, func(r *schema.LogRecord) string { return r.UserEmail }),
	"prediction": {field: rbac.FieldPrediction, kind: kindPrediction},
	"label":      {field: rbac.FieldPrediction, kind: kindPrediction},
	"score":      {field: rbac.FieldScore, kind: kindScore},
	"time":       {field: rbac.FieldTimestamp, kind: kindTime},
	"timestamp":  {field: rbac.FieldTimestamp, kind: kindTime},
	"severity":   {kind: kindSeverity},
	"sev":        {kind: kindSeverity},
}

// Matcher is a compiled query.
type Matcher struct {
	query string
	match func(r *schema.LogRecord) bool
}

// Compile parses query and binds it to the fields the viewer may see.
// Relative times such as "now-1h" are resolved against now. An empty query
// matches every record.
func Compile(query string, fields rbac.FieldSet, now time.Time) (*Matcher, error) {
	node, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	m := &Matcher{query: strings.TrimSpace(query)}
	if node == nil {
		m.match = func(*schema.LogRecord) bool { return true }
		return m, nil
	}
	c := compiler{fields: fields, now: now}
	if m.match, err = c.compile(node); err != nil {
		return nil, err
	}
	return m, nil
}

// Match reports whether r satisfies the query.
func (m *Matcher) Match(r schema.LogRecord) bool {
	return m.match(&r)
}

// Filter returns the records that satisfy the query, in order.
func (m *Matcher) Filter(records []schema.LogRecord) []schema.LogRecord {
	out := make([]schema.LogRecord, 0, len(records))
	for i := range records {
		if m.match(&records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}

func (m *Matcher) String() string { return m.query }

type predicate func(r *schema.LogRecord) bool

type compiler struct {
	fields rbac.FieldSet
	now    time.Time
}

func (c compiler) compile(n Node) (predicate, error) {
	switch n := n.(type) {
	case *And:
		l, r, err := c.pair(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return func(rec *schema.LogRecord) bool { return l(rec) && r(rec) }, nil
	case *Or:
		l, r, err := c.pair(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return func(rec *schema.LogRecord) bool { return l(rec) || r(rec) }, nil
	case *Not:
		p, err := c.compile(n.Operand)
		if err != nil {
			return nil, err
		}
		return func(rec *schema.LogRecord) bool { return !p(rec) }, nil
	case *Term:
		needle := strings.ToLower(n.Value)
		return func(rec *schema.LogRecord) bool {
			return strings.Contains(strings.ToLower(rec.Event), needle)
		}, nil
	case *Condition:
		return c.condition(n)
	}
	return nil, fmt.Errorf("%w: unsupported expression %T", ErrSyntax, n)
}

func (c compiler) pair(a, b Node) (predicate, predicate, error) {
	l, err := c.compile(a)
	if err != nil {
		return nil, nil, err
	}
	r, err := c.compile(b)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func (c compiler) condition(cond *Condition) (predicate, error) {
	def, ok := fieldAliases[cond.Field]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, cond.Field)
	}
	if def.field != "" && !c.fields.Has(def.field) {
		return nil, fmt.Errorf("%w: %s", ErrHiddenField, cond.Field)
	}

	switch def.kind {
	case kindText:
		return textPredicate(cond, def.get)
	case kindPrediction:
		return predictionPredicate(cond)
	case kindScore:
		return scorePredicate(cond)
	case kindTime:
		return c.timePredicate(cond)
	case kindSeverity:
		return severityPredicate(cond)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownField, cond.Field)
}

func unsupported(cond *Condition) error {
	return fmt.Errorf("%w: %s does not support %s", ErrSyntax, cond.Field, cond.Operator)
}

func textPredicate(cond *Condition, get func(*schema.LogRecord) string) (predicate, error) {
	value := strings.ToLower(cond.Value)

	switch cond.Operator {
	case OpContains, OpNotContains:
		neg := cond.Operator == OpNotContains
		return func(r *schema.LogRecord) bool {
			return strings.Contains(strings.ToLower(get(r)), value) != neg
		}, nil
	case OpEquals, OpNotEquals:
		neg := cond.Operator == OpNotEquals
		if strings.Contains(value, "*") {
			pattern := "^" + strings.ReplaceAll(regexp.QuoteMeta(value), `\*`, ".*") + "$"
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
			}
			return func(r *schema.LogRecord) bool { return re.MatchString(get(r)) != neg }, nil
		}
		return func(r *schema.LogRecord) bool {
			return strings.EqualFold(get(r), value) != neg
		}, nil
	}
	return nil, unsupported(cond)
}

func predictionPredicate(cond *Condition) (predicate, error) {
	want := schema.Prediction(strings.ToLower(cond.Value))
	if !want.IsValid() {
		return nil, fmt.Errorf("%w: unknown prediction %q", ErrSyntax, cond.Value)
	}
	switch cond.Operator {
	case OpEquals:
		return func(r *schema.LogRecord) bool { return r.Prediction == want }, nil
	case OpNotEquals:
		return func(r *schema.LogRecord) bool { return r.Prediction != want }, nil
	}
	return nil, unsupported(cond)
}

func scorePredicate(cond *Condition) (predicate, error) {
	want, err := strconv.ParseFloat(cond.Value, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: score %q is not a number", ErrSyntax, cond.Value)
	}
	cmp, err := compareOp(cond)
	if err != nil {
		return nil, err
	}
	return func(r *schema.LogRecord) bool {
		switch {
		case r.Score < want:
			return cmp(-1)
		case r.Score > want:
			return cmp(1)
		}
		return cmp(0)
	}, nil
}

// severityPredicate only matches alert records; normal records have no severity.
func severityPredicate(cond *Condition) (predicate, error) {
	want := severity.Severity(strings.ToLower(cond.Value))
	if severity.Rank(want) == 0 {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrSyntax, cond.Value)
	}
	cmp, err := compareOp(cond)
	if err != nil {
		return nil, err
	}
	return func(r *schema.LogRecord) bool {
		if !r.Prediction.IsAlert() {
			return false
		}
		return cmp(severity.Rank(severity.Of(*r)) - severity.Rank(want))
	}, nil
}

func (c compiler) timePredicate(cond *Condition) (predicate, error) {
	start, end, err := parseTime(cond.Value, c.now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	switch cond.Operator {
	case OpEquals:
		return func(r *schema.LogRecord) bool {
			return !r.Timestamp.Before(start) && r.Timestamp.Before(end)
		}, nil
	case OpNotEquals:
		return func(r *schema.LogRecord) bool {
			return r.Timestamp.Before(start) || !r.Timestamp.Before(end)
		}, nil
	case OpGreater:
		return func(r *schema.LogRecord) bool { return !r.Timestamp.Before(end) }, nil
	case OpGreaterEq:
		return func(r *schema.LogRecord) bool { return !r.Timestamp.Before(start) }, nil
	case OpLess:
		return func(r *schema.LogRecord) bool { return r.Timestamp.Before(start) }, nil
	case OpLessEq:
		return func(r *schema.LogRecord) bool { return r.Timestamp.Before(end) }, nil
	}
	return nil, unsupported(cond)
}

// compareOp turns an operator into a test on a three-way comparison result.
func compareOp(cond *Condition) (func(int) bool, error) {
	switch cond.Operator {
	case OpEquals:
		return func(c int) bool { return c == 0 }, nil
	case OpNotEquals:
		return func(c int) bool { return c != 0 }, nil
	case OpGreater:
		return func(c int) bool { return c > 0 }, nil
	case OpGreaterEq:
		return func(c int) bool { return c >= 0 }, nil
	case OpLess:
		return func(c int) bool { return c < 0 }, nil
	case OpLessEq:
		return func(c int) bool { return c <= 0 }, nil
	}
	return nil, unsupported(cond)
}

// parseTime returns the half-open interval [start, end) a time value names.
// Dates cover the whole day in UTC; instants and relative times cover one
// nanosecond.
func parseTime(s string, now time.Time) (time.Time, time.Time, error) {
	if dur, ok := parseRelative(s); ok {
		t := now.Add(-dur)
		return t, t.Add(time.Nanosecond), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, t.AddDate(0, 0, 1), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, t.Add(time.Nanosecond), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// parseRelative parses expressions like "now", "now-1h" and "now-7d".
func parseRelative(s string) (time.Duration, bool) {
	s = strings.ToLower(s)
	if !strings.HasPrefix(s, "now") {
		return 0, false
	}
	s = strings.TrimPrefix(s, "now")
	if s == "" {
		return 0, true
	}
	if s[0] != '-' {
		return 0, false
	}
	s = s[1:]

	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, false
		}
		return time.Duration(n) * 24 * time.Hour, true
	}
	dur, err := time.ParseDuration(s)
	if err != nil || dur < 0 {
		return 0, false
	}
	return dur, true
}
