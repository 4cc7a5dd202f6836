package agent

import (
	"regexp"
	"slices"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

var (
	mentionPattern      = regexp.MustCompile(`@(\w+)`)
	mentionStripPattern = regexp.MustCompile(`@\w+\s*`)
)

func canonicalTable(schema database.Schema, name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, table := range schema.Tables {
		if strings.EqualFold(table.Name, name) {
			return table.Name, true
		}
	}
	return "", false
}

// ValidateTables maps names onto the schema's own spelling, dropping unknown
// names and duplicates.
func ValidateTables(schema database.Schema, names []string) []string {
	valid := make([]string, 0, len(names))
	for _, name := range names {
		if canonical, ok := canonicalTable(schema, name); ok && !slices.Contains(valid, canonical) {
			valid = append(valid, canonical)
		}
	}
	return valid
}

// ParseMentions returns the @table references in input that name one of
// tables, in their canonical casing.
func ParseMentions(input string, tables []string) []string {
	var mentioned []string
	for _, m := range mentionPattern.FindAllStringSubmatch(input, -1) {
		for _, table := range tables {
			if strings.EqualFold(table, m[1]) && !slices.Contains(mentioned, table) {
				mentioned = append(mentioned, table)
				break
			}
		}
	}
	return mentioned
}

func StripMentions(input string) string {
	return strings.TrimSpace(mentionStripPattern.ReplaceAllString(input, ""))
}
