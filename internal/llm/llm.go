// Package llm streams chat completions from OpenAI-compatible endpoints.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Settings override the client's sampling defaults for one request. Zero
// values keep the defaults.
type Settings struct {
	Temperature *float64
	MaxTokens   int
}

type ChatRequest struct {
	Messages []Message
	Settings Settings
}

// ChatStream yields content deltas. Recv returns io.EOF once the model has
// finished.
type ChatStream interface {
	Recv() (string, error)
	Close() error
}

type ChatCompleter interface {
	StreamChat(ctx context.Context, req ChatRequest) (ChatStream, error)
}

// Temperature is a helper for Settings.Temperature literals.
func Temperature(v float64) *float64 {
	return &v
}

// Collect drains stream, forwarding each non-empty delta to onToken, and
// returns the concatenated text.
func Collect(ctx context.Context, stream ChatStream, onToken func(string)) (string, error) {
	var out strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return out.String(), err
		}
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out.String(), nil
		}
		if err != nil {
			return out.String(), err
		}
		if token == "" {
			continue
		}
		out.WriteString(token)
		if onToken != nil {
			onToken(token)
		}
	}
}

// Complete opens a stream, collects it and closes it.
func Complete(ctx context.Context, completer ChatCompleter, req ChatRequest, onToken func(string)) (string, error) {
	stream, err := completer.StreamChat(ctx, req)
	if err != nil {
		return "", err
	}
	defer func() { _ = stream.Close() }()
	return Collect(ctx, stream, onToken)
}
