package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFormatAsContext(t *testing.T) {
	if got := FormatAsContext(nil); got != "" {
		t.Fatalf("FormatAsContext(nil) = %q", got)
	}
	got := FormatAsContext([]Item{
		{ID: "k1", Title: "Active users", Content: "status = 1 means active", Keywords: []string{"active", "status"}},
		{Content: "Refunds are negative totals", Title: "Finance FAQ", FileName: "faq.md"},
	})
	want := Header + "\n\n" +
		"1. Active users\n   Content: status = 1 means active\n   Keywords: active, status\n\n" +
		"2. Refunds are negative totals\n   Source: Finance FAQ\n   File: faq.md\n\n"
	if got != want {
		t.Fatalf("FormatAsContext() = %q, want %q", got, want)
	}
}

func TestCombineContext(t *testing.T) {
	tests := []struct {
		additional, knowledge, want string
	}{
		{"", "", ""},
		{"only orders", "", "only orders"},
		{"  ", "K", "K"},
		{"A", "K", "A\n\nK"},
	}
	for _, tt := range tests {
		if got := CombineContext(tt.additional, tt.knowledge); got != tt.want {
			t.Fatalf("CombineContext(%q, %q) = %q, want %q", tt.additional, tt.knowledge, got, tt.want)
		}
	}
}

type stubRetriever struct {
	items []Item
	err   error
}

func (s stubRetriever) Search(context.Context, string) ([]Item, error) { return s.items, s.err }

func TestChainKeepsPartialResults(t *testing.T) {
	boom := errors.New("remote down")
	chain := Chain{
		stubRetriever{items: []Item{{ID: "a", Title: "A", Content: "a"}}},
		nil,
		stubRetriever{err: boom},
		stubRetriever{items: []Item{{Content: "b"}}},
	}
	items, err := chain.Search(context.Background(), "q")
	if !errors.Is(err, boom) {
		t.Fatalf("Search() error = %v", err)
	}
	if len(items) != 2 || items[1].Content != "b" {
		t.Fatalf("items = %+v", items)
	}
	if !strings.HasPrefix(FormatAsContext(items), Header) {
		t.Fatal("formatted chain output lacks header")
	}
}
