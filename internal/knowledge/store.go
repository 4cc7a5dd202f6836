package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const defaultStoreLimit = 5

// Store is a YAML-file backed knowledge base. Every mutation rewrites the
// file.
type Store struct {
	path  string
	limit int
	now   func() time.Time

	mu    sync.RWMutex
	items []Item
}

type storeFile struct {
	Items []Item `yaml:"items"`
}

type StoreOption func(*Store)

// WithSearchLimit caps the number of hits Search returns.
func WithSearchLimit(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

func withClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// OpenStore loads path. A missing file is an empty store; it is created on
// the first write.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("knowledge file path is required")
	}
	s := &Store{path: path, limit: defaultStoreLimit, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	var file storeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode knowledge file %s: %w", path, err)
	}
	s.items = file.Items
	return s, nil
}

func (s *Store) List() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	for i, item := range s.items {
		out[i] = cloneItem(item)
	}
	return out
}

func (s *Store) Get(id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return cloneItem(item), nil
		}
	}
	return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// Add stores item under a fresh id unless it already carries one.
func (s *Store) Add(item Item) (Item, error) {
	if err := validateItem(item); err != nil {
		return Item{}, err
	}
	if strings.TrimSpace(item.ID) == "" {
		item.ID = uuid.NewString()
	}
	now := s.now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	item.Keywords = normalizeKeywords(item.Keywords)
	item.Score, item.Source, item.FileName = 0, "", ""

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.ID == item.ID {
			return Item{}, fmt.Errorf("knowledge item %s already exists", item.ID)
		}
	}
	next := append(append([]Item(nil), s.items...), item)
	if err := s.persist(next); err != nil {
		return Item{}, err
	}
	s.items = next
	return cloneItem(item), nil
}

// Update replaces title, content and keywords of an existing item.
func (s *Store) Update(item Item) (Item, error) {
	if err := validateItem(item); err != nil {
		return Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append([]Item(nil), s.items...)
	for i, existing := range next {
		if existing.ID != item.ID {
			continue
		}
		existing.Title = item.Title
		existing.Content = item.Content
		existing.Keywords = normalizeKeywords(item.Keywords)
		existing.UpdatedAt = s.now().UTC()
		next[i] = existing
		if err := s.persist(next); err != nil {
			return Item{}, err
		}
		s.items = next
		return cloneItem(existing), nil
	}
	return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, item.ID)
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.items {
		if existing.ID != id {
			continue
		}
		next := append(append([]Item(nil), s.items[:i]...), s.items[i+1:]...)
		if err := s.persist(next); err != nil {
			return err
		}
		s.items = next
		return nil
	}
	return fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

func (s *Store) Search(_ context.Context, query string) ([]Item, error) {
	return s.Rank(query, s.limit), nil
}

// Rank scores every item against query and returns the best limit items
// with a positive score, highest first.
func (s *Store) Rank(query string, limit int) []Item {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []Item{}
	}
	words := splitQuery(query)

	s.mu.RLock()
	scored := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		if score := scoreItem(item, query, words); score > 0 {
			hit := cloneItem(item)
			hit.Score = score
			scored = append(scored, hit)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func scoreItem(item Item, query string, words []string) float64 {
	var score float64
	title := strings.ToLower(item.Title)
	if strings.Contains(title, query) {
		score += 10
	}
	for _, word := range words {
		if strings.Contains(title, word) {
			score += 5
		}
	}
	content := strings.ToLower(item.Content)
	if strings.Contains(content, query) {
		score += 5
	}
	for _, word := range words {
		if strings.Contains(content, word) {
			score += 2
		}
	}
	for _, keyword := range item.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(query, keyword) {
			score += 8
		}
		for _, word := range words {
			if strings.Contains(keyword, word) || strings.Contains(word, keyword) {
				score += 6
			}
		}
	}
	return score
}

func splitQuery(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		switch r {
		case ' ', '，', '。', ',', '.', '?', '？', '!', '！':
			return true
		}
		return false
	})
}

// ParseKeywords splits a user-typed keyword list on commas and spaces.
func ParseKeywords(raw string) []string {
	return normalizeKeywords(strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '，' || r == ' '
	}))
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			out = append(out, keyword)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func validateItem(item Item) error {
	if strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Content) == "" {
		return fmt.Errorf("knowledge title and content are required")
	}
	return nil
}

func cloneItem(item Item) Item {
	item.Keywords = append([]string(nil), item.Keywords...)
	return item
}

func (s *Store) persist(items []Item) error {
	raw, err := yaml.Marshal(storeFile{Items: items})
	if err != nil {
		return fmt.Errorf("encode knowledge file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create knowledge dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".knowledge-*.yaml")
	if err != nil {
		return fmt.Errorf("create knowledge temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write knowledge file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close knowledge file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace knowledge file: %w", err)
	}
	return nil
}
