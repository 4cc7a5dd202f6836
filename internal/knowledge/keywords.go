package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/llm"
)

const (
	keywordTemperature = 0.3
	keywordMaxTokens   = 200
	keywordSystem      = "You are a keyword extraction expert who pulls precise search keywords out of text."
)

var (
	thinkBlock     = regexp.MustCompile(`(?is)<think>.*?</think>`)
	markupTag      = regexp.MustCompile(`<[^>]+>`)
	keywordLabel   = regexp.MustCompile(`(?i)(extracted\s+)?keywords?(\s+list)?(\s+are|\s+is)?\s*[:：]`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// KeywordExtractor asks the model for search keywords describing a
// knowledge item.
type KeywordExtractor struct {
	completer llm.ChatCompleter
}

func NewKeywordExtractor(completer llm.ChatCompleter) *KeywordExtractor {
	return &KeywordExtractor{completer: completer}
}

// Extract returns 3 to 8 keywords for the item, cleaned of any reasoning or
// formatting the model wrapped around them.
func (e *KeywordExtractor) Extract(ctx context.Context, title, content string) ([]string, error) {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("title or content is required")
	}
	prompt := fmt.Sprintf(`Extract 3 to 8 keywords from the following knowledge item. The keywords should:
1. Accurately reflect the core of the knowledge item
2. Make it easy for user questions to match this item
3. Be short and clear, in the language of the item
4. Be separated by commas, with no other text

Title: %s
Content: %s

Return only the keywords separated by commas, for example: user,order,query,statistics`, title, content)

	text, err := llm.Complete(ctx, e.completer, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: keywordSystem},
			{Role: llm.RoleUser, Content: prompt},
		},
		Settings: llm.Settings{Temperature: llm.Temperature(keywordTemperature), MaxTokens: keywordMaxTokens},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("extract keywords: %w", err)
	}
	keywords := ParseKeywords(CleanKeywordResponse(text))
	if len(keywords) == 0 {
		return nil, fmt.Errorf("extract keywords: model returned no keywords")
	}
	return keywords, nil
}

// CleanKeywordResponse reduces a model answer to a single comma separated
// keyword line.
func CleanKeywordResponse(text string) string {
	text = thinkBlock.ReplaceAllString(strings.TrimSpace(text), "")
	text = markupTag.ReplaceAllString(text, "")
	text = strings.NewReplacer("**", "", "*", "", "__", "", "```", "", "`", "").Replace(text)
	text = keywordLabel.ReplaceAllString(text, "")

	if strings.ContainsAny(text, ":：") {
		parts := strings.FieldsFunc(text, func(r rune) bool { return r == ':' || r == '：' })
		if len(parts) > 1 {
			text = strings.TrimSpace(parts[len(parts)-1])
		}
	}
	if strings.Contains(text, "\n") {
		lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
		chosen := ""
		for _, line := range lines {
			lower := strings.ToLower(line)
			if strings.TrimSpace(line) == "" || strings.Contains(lower, "keyword") || strings.ContainsAny(line, ":：") {
				continue
			}
			chosen = line
			break
		}
		if chosen == "" && len(lines) > 0 {
			chosen = lines[0]
		}
		text = strings.TrimSpace(chosen)
	}
	text = strings.Trim(text, "\"'`（）()[]【】")
	text = whitespaceRuns.ReplaceAllString(text, " ")
	return strings.Trim(text, " ，,。.；;")
}
