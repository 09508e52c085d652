// Package strategy defines the extraction strategy contract and a registry
// mapping source platforms to their implementations.
package strategy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
)

// ErrUnsupported is returned when no registered strategy supports a URL.
var ErrUnsupported = errors.New("no strategy supports url")

// RawDocument is a fetched page.
type RawDocument struct {
	FetchedAt  time.Time
	URL        string
	FinalURL   string
	Body       []byte
	StatusCode int
}

// FetchOptions bounds a single fetch.
type FetchOptions struct {
	Timeout  time.Duration
	MaxBytes int64
	Retries  int
}

// ExtractOptions tunes extraction.
type ExtractOptions struct {
	Logger *slog.Logger
	// Policy is one of link.PolicyAuto, link.PolicyStructured, link.PolicyAnchors.
	Policy string
}

// Strategy fetches and extracts one kind of source page.
// Each source platform needs exactly one implementation.
type Strategy interface {
	// Name returns the source platform id (e.g. "linktree").
	Name() string

	// Supports returns true if the URL belongs to this source.
	Supports(url string) bool

	// Fetch retrieves the page. Hosts outside the strategy's allow-list fail
	// with a fatal INVALID_URL error before any network call.
	Fetch(ctx context.Context, url string, opts FetchOptions) (*RawDocument, error)

	// Extract turns a fetched page into candidate links. Zero links is not an error.
	Extract(doc *RawDocument, opts ExtractOptions) (*link.ExtractionResult, error)
}

// Registry holds strategies in registration order.
type Registry struct {
	byName map[string]Strategy
	list   []Strategy
	mu     sync.RWMutex
}

// NewRegistry returns a registry holding strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{byName: make(map[string]Strategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds a strategy. Registering the same name twice panics.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.byName[name]; exists {
		panic("strategy already registered: " + name)
	}
	r.byName[name] = s
	r.list = append(r.list, s)
}

// Lookup returns the strategy with the given name.
func (r *Registry) Lookup(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byName[name]
	return s, ok
}

// Match returns the first strategy that supports url, checked in registration order.
func (r *Registry) Match(url string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.list {
		if s.Supports(url) {
			return s, nil
		}
	}
	return nil, ErrUnsupported
}

// Names returns registered strategy names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.list))
	for i, s := range r.list {
		names[i] = s.Name()
	}
	return names
}
