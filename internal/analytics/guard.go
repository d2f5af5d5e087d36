package analytics

import (
	"regexp"
	"strings"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// forbidden matches mutating SQL keywords at word boundaries, so column
// names like "created_at" do not trip the guard.
var forbidden = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|replace)\b`)

// ValidateQuery vets an ad-hoc analytics statement: it must be a single
// SELECT (or WITH ... SELECT) and must not contain any mutating keyword.
func ValidateQuery(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return gateway.Invalid("query is required")
	}

	// A single trailing semicolon is tolerated; anything after it is not.
	if i := strings.Index(q, ";"); i >= 0 && strings.TrimSpace(q[i+1:]) != "" {
		return gateway.Invalid("multiple statements are not allowed")
	}
	q = strings.TrimSuffix(q, ";")

	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return gateway.Invalid("only SELECT queries are allowed")
	}
	if m := forbidden.FindString(q); m != "" {
		return gateway.Invalid("forbidden keyword %q in query", strings.ToUpper(m))
	}
	return nil
}
