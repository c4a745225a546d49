package derive

import (
	"fmt"
	"strings"
	"time"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/c360studio/reliefdesk/report"
)

// Query is a compiled boolean expression over record fields, e.g.
//
//	category in ["flood", "fire"] && ageDays < 3 && imageCount > 0
type Query struct {
	source  string
	program *exprvm.Program
}

// queryEnv is the shape of the variables a query can reference. It is used
// for type checking at compile time.
func queryEnv(r report.Record, now time.Time) map[string]any {
	return map[string]any{
		"id":          r.ID,
		"location":    r.Location,
		"size":        r.Size,
		"description": r.Description,
		"category":    strings.ToLower(string(r.Category)),
		"reporter":    r.ReportedBy,
		"contact":     r.Contact,
		"images":      append([]string{}, r.Images...),
		"imageCount":  len(r.Images),
		"damageTime":  r.DamageTime,
		"ageDays":     now.Sub(r.DamageTime).Hours() / 24,
		"severe":      IsSevere(r.Category),
		"recent":      IsRecent(r.DamageTime, now),
	}
}

// CompileQuery type-checks source. An empty source yields a nil Query, which
// matches everything.
func CompileQuery(source string) (*Query, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	program, err := exprlang.Compile(source,
		exprlang.Env(queryEnv(report.Record{}, time.Time{})),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile filter expression: %w", err)
	}
	return &Query{source: source, program: program}, nil
}

// String returns the expression source.
func (q *Query) String() string {
	if q == nil {
		return ""
	}
	return q.source
}

// Match evaluates the query for r. Evaluation errors count as no match.
func (q *Query) Match(r report.Record, now time.Time) bool {
	if q == nil {
		return true
	}
	out, err := exprlang.Run(q.program, queryEnv(r, now))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// Apply returns the records q matches, in input order.
func (q *Query) Apply(records []report.Record, now time.Time) []report.Record {
	if q == nil {
		return records
	}
	out := make([]report.Record, 0, len(records))
	for _, r := range records {
		if q.Match(r, now) {
			out = append(out, r)
		}
	}
	return out
}
