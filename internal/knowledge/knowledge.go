// Package knowledge retrieves business rules and domain notes that steer
// table selection and SQL generation.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Header opens every formatted knowledge block. Prompt builders look for it
// to decide how to present the context.
const Header = "=== Relevant Domain Knowledge ==="

var ErrItemNotFound = errors.New("knowledge item not found")

type Item struct {
	ID        string    `json:"id,omitempty" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Content   string    `json:"content" yaml:"content"`
	Keywords  []string  `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Score     float64   `json:"score,omitempty" yaml:"-"`
	Source    string    `json:"source,omitempty" yaml:"-"`
	FileName  string    `json:"file_name,omitempty" yaml:"-"`
	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitzero" yaml:"updated_at"`
}

type Retriever interface {
	Search(ctx context.Context, query string) ([]Item, error)
}

// FormatAsContext renders items as a numbered block under Header. Items
// from the local store list title, content and keywords; retrieved
// passages list the passage, then its title and file.
func FormatAsContext(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(Header)
	b.WriteString("\n\n")
	for i, item := range items {
		if item.ID != "" {
			fmt.Fprintf(&b, "%d. %s\n", i+1, item.Title)
			fmt.Fprintf(&b, "   Content: %s\n", item.Content)
			if len(item.Keywords) > 0 {
				fmt.Fprintf(&b, "   Keywords: %s\n", strings.Join(item.Keywords, ", "))
			}
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, item.Content)
			if item.Title != "" {
				fmt.Fprintf(&b, "   Source: %s\n", item.Title)
			}
			if item.FileName != "" {
				fmt.Fprintf(&b, "   File: %s\n", item.FileName)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// CombineContext joins caller-supplied context and retrieved knowledge with
// a blank line, dropping whichever side is blank.
func CombineContext(additional, knowledge string) string {
	additional = strings.TrimSpace(additional)
	knowledge = strings.TrimSpace(knowledge)
	switch {
	case additional == "":
		return knowledge
	case knowledge == "":
		return additional
	default:
		return additional + "\n\n" + knowledge
	}
}

// Chain queries each retriever in order and concatenates the hits. A failing
// retriever does not hide the others' results; its error is joined into the
// returned error.
type Chain []Retriever

func (c Chain) Search(ctx context.Context, query string) ([]Item, error) {
	var (
		items []Item
		errs  []error
	)
	for _, r := range c {
		if r == nil {
			continue
		}
		found, err := r.Search(ctx, query)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return items, ctxErr
			}
			errs = append(errs, err)
			continue
		}
		items = append(items, found...)
	}
	return items, errors.Join(errs...)
}
