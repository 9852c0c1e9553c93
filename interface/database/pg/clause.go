package pg

import (
	"fmt"
	"strings"
)

// limitOffsetClause paginates a query. limit <= 0 disables pagination.
func limitOffsetClause(page, limit int) string {
	switch {
	case limit <= 0:
		return ""
	case page > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, page*limit)
	default:
		return fmt.Sprintf(" LIMIT %d", limit)
	}
}

// parsePattern translates a glob-style pattern on the aoi name into a SQL
// operator and operand: "*" matches any sequence, "?" a single character, and
// wildcard patterns match case-insensitively. A pattern without wildcards is
// an exact match.
func parsePattern(pattern string) (string, string) {
	if !strings.ContainsAny(pattern, "*?") {
		return pattern, "="
	}
	escaped := strings.ReplaceAll(pattern, "_", "\\_")
	return strings.NewReplacer("*", "%", "?", "_").Replace(escaped), "ILIKE"
}

// clauses accumulates SQL fragments with their positional parameters
type clauses struct {
	Parameters []interface{}
	fragments  []string
}

// append formats the fragment with the positions of its parameters, e.g.
// append("state = $%d", state)
func (c *clauses) append(fragment string, parameters ...interface{}) {
	positions := make([]interface{}, len(parameters))
	for i := range parameters {
		positions[i] = len(c.Parameters) + i + 1
	}
	c.Parameters = append(c.Parameters, parameters...)
	c.fragments = append(c.fragments, fmt.Sprintf(fragment, positions...))
}

func (c clauses) where() string {
	return c.join(" WHERE ", " AND ", "")
}

func (c clauses) join(prefix, sep, suffix string) string {
	if len(c.fragments) == 0 {
		return ""
	}
	return prefix + strings.Join(c.fragments, sep) + suffix
}
