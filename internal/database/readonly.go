package database

import (
	"slices"
	"strings"
	"unicode"
)

// ErrorCodeNotAllowed marks a statement refused because it could modify data.
const ErrorCodeNotAllowed = "SQL_NOT_ALLOWED"

var (
	readOnlyLeaders = []string{"select", "with", "show", "describe", "desc", "explain", "pragma", "values"}
	writeKeywords   = []string{
		"insert", "update", "delete", "merge", "upsert", "into",
		"drop", "create", "alter", "truncate", "rename",
		"grant", "revoke", "attach", "detach", "copy", "call", "exec", "execute",
	}
)

// IsReadOnly reports whether every statement in sqlText starts with a read
// keyword and no data-modifying keyword appears anywhere outside string
// literals, quoted identifiers and comments. A CTE ending in DELETE is
// refused, as is SELECT INTO.
func IsReadOnly(sqlText string) bool {
	statements := strings.Split(stripLiterals(sqlText), ";")
	seen := false
	for _, stmt := range statements {
		words := strings.FieldsFunc(strings.ToLower(stmt), func(r rune) bool { return !isWordRune(r) })
		if len(words) == 0 {
			continue
		}
		seen = true
		if !slices.Contains(readOnlyLeaders, words[0]) {
			return false
		}
		for _, w := range words[1:] {
			if slices.Contains(writeKeywords, w) {
				return false
			}
		}
	}
	return seen
}

// NotAllowed is the failed result returned instead of running a statement
// IsReadOnly refused.
func NotAllowed(sqlText string) ExecutionResult {
	return ExecutionResult{
		ErrorCode:    ErrorCodeNotAllowed,
		ErrorMessage: "only read-only statements are allowed here; the statement would modify data or schema",
		ExecutedSQL:  sqlText,
	}
}

// stripLiterals blanks out quoted text and comments so keywords inside them
// are not seen.
func stripLiterals(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			b.WriteRune(' ')
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			b.WriteRune(' ')
		case r == '\'' || r == '"' || r == '`' || r == '[':
			closing := r
			if r == '[' {
				closing = ']'
			}
			i++
			for i < len(runes) && runes[i] != closing {
				i++
			}
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
