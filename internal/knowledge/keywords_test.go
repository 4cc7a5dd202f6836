package knowledge

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sqlstudio/sqlstudio/internal/llm"
)

type cannedCompleter struct {
	reply string
	req   llm.ChatRequest
}

type cannedStream struct{ tokens []string }

func (s *cannedStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *cannedStream) Close() error { return nil }

func (c *cannedCompleter) StreamChat(_ context.Context, req llm.ChatRequest) (llm.ChatStream, error) {
	c.req = req
	return &cannedStream{tokens: []string{c.reply}}, nil
}

func TestCleanKeywordResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "orders, revenue, refund", want: "orders, revenue, refund"},
		{name: "think block", in: "<think>\nthe user wants...\n</think>\norders,revenue", want: "orders,revenue"},
		{name: "label", in: "**Keywords:** orders, customers.", want: "orders, customers"},
		{name: "preamble line", in: "Sure, here are the keywords\norders, revenue\n", want: "orders, revenue"},
		{name: "labelled line", in: "Keywords list\n`orders,vip`", want: "orders,vip"},
		{name: "brackets", in: "[orders, vip]", want: "orders, vip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanKeywordResponse(tt.in); got != tt.want {
				t.Fatalf("CleanKeywordResponse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestKeywordExtractor(t *testing.T) {
	completer := &cannedCompleter{reply: "<think>hmm</think>Keywords: vip, lifetime spend, tiers"}
	keywords, err := NewKeywordExtractor(completer).Extract(context.Background(), "Customer tiers", "VIP means lifetime spend over 10k")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if strings.Join(keywords, "|") != "vip|lifetime|spend|tiers" {
		t.Fatalf("keywords = %q", keywords)
	}
	if got := completer.req.Settings; got.Temperature == nil || *got.Temperature != 0.3 || got.MaxTokens != 200 {
		t.Fatalf("settings = %+v", got)
	}
	if !strings.Contains(completer.req.Messages[1].Content, "Title: Customer tiers") {
		t.Fatalf("prompt = %q", completer.req.Messages[1].Content)
	}

	if _, err := NewKeywordExtractor(completer).Extract(context.Background(), " ", ""); err == nil {
		t.Fatal("expected error for empty item")
	}
	empty := &cannedCompleter{reply: "<think>nothing</think>"}
	if _, err := NewKeywordExtractor(empty).Extract(context.Background(), "t", "c"); err == nil {
		t.Fatal("expected error for empty answer")
	}
}
