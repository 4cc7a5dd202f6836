package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/llm"
)

// Generator writes SQL for a question against a (filtered) schema. Sampling
// settings default to the completer's own.
type Generator struct {
	completer llm.ChatCompleter
	settings  llm.Settings
}

type GeneratorOption func(*Generator)

func WithGenerationSettings(settings llm.Settings) GeneratorOption {
	return func(g *Generator) {
		g.settings = settings
	}
}

func NewGenerator(completer llm.ChatCompleter, opts ...GeneratorOption) *Generator {
	g := &Generator{completer: completer}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prompts returns the system and user prompts Generate would send.
func (g *Generator) Prompts(req GenerationRequest) (string, string) {
	return systemPrompt(req), userPrompt(req)
}

func (g *Generator) Generate(ctx context.Context, req GenerationRequest, onToken func(string)) GenerationResult {
	system, user := g.Prompts(req)
	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	for _, turn := range req.History {
		switch {
		case strings.EqualFold(turn.Role, string(llm.RoleUser)):
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Content})
		case strings.EqualFold(turn.Role, string(llm.RoleAssistant)):
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: turn.Content})
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user})

	response, err := streamCompletion(ctx, g.completer, PhaseSQLGeneration, llm.ChatRequest{Messages: messages, Settings: g.settings}, onToken)
	if err != nil {
		return GenerationResult{ErrorMessage: fmt.Sprintf("Failed to generate SQL: %v", err)}
	}
	return parseGeneration(response)
}

// Regenerate asks for a corrected statement after previousSQL failed with
// errorMessage. The error text is passed to the model verbatim.
func (g *Generator) Regenerate(ctx context.Context, req GenerationRequest, previousSQL, errorMessage string, onToken func(string)) GenerationResult {
	system, user := g.Prompts(req)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
	if previousSQL != "" {
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: fence + "sql\n" + previousSQL + "\n" + fence})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: correctionPrompt(previousSQL, errorMessage)})

	response, err := streamCompletion(ctx, g.completer, PhaseSQLGeneration, llm.ChatRequest{Messages: messages, Settings: g.settings}, onToken)
	if err != nil {
		return GenerationResult{ErrorMessage: fmt.Sprintf("Failed to regenerate SQL: %v", err)}
	}
	return parseGeneration(response)
}
