package agent

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/llm"
	"github.com/sqlstudio/sqlstudio/internal/observability"
)

const analysisMaxTokens = 2000

var (
	tablesLinePattern = regexp.MustCompile(`(?is)TABLES[：:]\s*(.+?)(?:\n|\bREASON\s*[：:]|$)`)
	tableNoise        = regexp.MustCompile("[`\\[\\]*\"]")
	mappingPattern    = regexp.MustCompile(`(?i)->\s*(?:table\s+)?([\p{L}_][\p{L}\p{N}_]*)`)
	reasonPattern     = regexp.MustCompile(`(?is)REASON[：:]\s*(.+?)$`)
	tableSeparators   = strings.NewReplacer("、", ",", "，", ",", "；", ",", "\n", ",", ";", ",")
)

// Analyzer asks the model which tables a question needs so the generation
// prompt only carries those.
type Analyzer struct {
	completer llm.ChatCompleter
}

func NewAnalyzer(completer llm.ChatCompleter) *Analyzer {
	return &Analyzer{completer: completer}
}

func (a *Analyzer) AnalyzeTables(ctx context.Context, req TableAnalysisRequest, onToken func(string)) TableAnalysisResult {
	response, err := streamCompletion(ctx, a.completer, PhaseTableAnalysis, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: analysisSystemPrompt(req)},
			{Role: llm.RoleUser, Content: analysisUserPrompt(req)},
		},
		Settings: llm.Settings{Temperature: llm.Temperature(0), MaxTokens: analysisMaxTokens},
	}, onToken)
	if err != nil {
		return TableAnalysisResult{ErrorMessage: fmt.Sprintf("Failed to analyze tables: %v", err)}
	}
	return parseAnalysis(response, req.FullSchema)
}

func parseAnalysis(response string, schema database.Schema) TableAnalysisResult {
	var tables []string
	add := func(name string) {
		if canonical, ok := canonicalTable(schema, name); ok && !slices.Contains(tables, canonical) {
			tables = append(tables, canonical)
		}
	}

	if m := tablesLinePattern.FindStringSubmatch(response); m != nil {
		list := tableSeparators.Replace(tableNoise.ReplaceAllString(m[1], ""))
		for _, name := range strings.Split(list, ",") {
			name = strings.Trim(strings.TrimSpace(name), ". -")
			if len(name) > 1 {
				add(name)
			}
		}
	}
	for _, m := range mappingPattern.FindAllStringSubmatch(response, -1) {
		add(m[1])
	}

	reasoning := response
	if m := reasonPattern.FindStringSubmatch(response); m != nil {
		reasoning = strings.TrimSpace(m[1])
	}

	if len(tables) == 0 {
		names := schema.TableNames()
		slices.SortStableFunc(names, func(a, b string) int { return len(b) - len(a) })
		for _, name := range names {
			if containsWord(response, name) {
				add(name)
			}
		}
	}

	result := TableAnalysisResult{
		Success:        len(tables) > 0,
		RequiredTables: tables,
		Reasoning:      reasoning,
	}
	if !result.Success {
		result.ErrorMessage = "Could not identify required tables from the response"
	}
	return result
}

// containsWord reports whether name occurs in text, ignoring case, with no
// letter, digit or underscore directly on either side. Unlike regexp \b it
// treats non-ASCII letters as word characters.
func containsWord(text, name string) bool {
	lowerText, lowerName := strings.ToLower(text), strings.ToLower(name)
	if lowerName == "" {
		return false
	}
	for offset := 0; offset < len(lowerText); {
		i := strings.Index(lowerText[offset:], lowerName)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(lowerName)
		before, _ := utf8.DecodeLastRuneInString(lowerText[:start])
		after, _ := utf8.DecodeRuneInString(lowerText[end:])
		if (start == 0 || !isNameRune(before)) && (end == len(lowerText) || !isNameRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(lowerText[start:])
		offset = start + size
	}
	return false
}

func isNameRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func streamCompletion(ctx context.Context, completer llm.ChatCompleter, phase string, req llm.ChatRequest, onToken func(string)) (string, error) {
	start := time.Now()
	tokens := 0
	text, err := llm.Complete(ctx, completer, req, func(token string) {
		tokens++
		if onToken != nil {
			onToken(token)
		}
	})
	observability.ObserveLLMStream(phase, tokens, err == nil, time.Since(start))
	return text, err
}
