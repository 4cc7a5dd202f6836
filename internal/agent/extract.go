package agent

import (
	"strings"
	"unicode"
)

const (
	sqlFence = "```sql"
	fence    = "```"
)

// ExtractSQL pulls the first fenced block out of a model answer. A ```sql
// fence (any case) wins over a bare one; without any fence the whole trimmed
// text is taken as SQL. An unterminated fence runs to the end of the text.
// A language tag on the opening fence line is dropped. explanation is
// whatever surrounds the extracted block.
func ExtractSQL(text string) (sql, explanation string) {
	marker := sqlFence
	start := indexFold(text, sqlFence)
	if start < 0 {
		marker = fence
		start = strings.Index(text, fence)
	}
	if start < 0 {
		return strings.TrimSpace(text), ""
	}
	bodyStart := start + len(marker)
	bodyStart += languageTagLen(text[bodyStart:])
	bodyEnd := len(text)
	spanEnd := len(text)
	if end := strings.Index(text[bodyStart:], fence); end >= 0 {
		bodyEnd = bodyStart + end
		spanEnd = bodyEnd + len(fence)
	}
	sql = strings.TrimSpace(text[bodyStart:bodyEnd])
	before := strings.TrimSpace(text[:start])
	after := strings.TrimSpace(text[spanEnd:])
	switch {
	case before == "":
		explanation = after
	case after == "":
		explanation = before
	default:
		explanation = before + "\n\n" + after
	}
	return sql, explanation
}

func parseGeneration(response string) GenerationResult {
	sql, explanation := ExtractSQL(response)
	if sql == "" {
		return GenerationResult{
			ErrorMessage: "Could not extract SQL from the response",
			Explanation:  response,
		}
	}
	return GenerationResult{Success: true, SQL: sql, Explanation: explanation}
}

// languageTagLen returns the length of a single-word info string such as
// "postgresql" (or the "ite" left over from ```sqlite) ending the opening
// fence line, or 0 when the line holds anything else.
func languageTagLen(s string) int {
	line, _, ok := strings.Cut(s, "\n")
	if !ok {
		return 0
	}
	tag := strings.TrimSpace(line)
	if tag == "" {
		return 0
	}
	for _, r := range tag {
		if r != '_' && r != '-' && r != '+' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return 0
		}
	}
	return len(line)
}

// indexFold is a case-insensitive strings.Index for an ASCII needle.
func indexFold(s, needle string) int {
	for i := 0; i+len(needle) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}
