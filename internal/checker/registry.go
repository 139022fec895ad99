package checker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"linkcheck/internal/models"
)

// ErrSkipped is returned when a check was deferred, for example because the
// target's domain is suspended. It is not a result and must not be stored.
var ErrSkipped = errors.New("check skipped")

// ErrUnknownLinkType is returned by Registry.Get for unregistered tags.
var ErrUnknownLinkType = errors.New("unknown link type")

// Checker checks one link target of a given link type.
type Checker interface {
	CheckLink(ctx context.Context, url string, meta models.LinkCandidate, flags Flags) (*models.ResponseRecord, error)
}

// Registry maps link type tags to checkers.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds or replaces the checker for linkType.
func (r *Registry) Register(linkType string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[linkType] = c
}

// Get returns the checker registered for linkType.
func (r *Registry) Get(linkType string) (Checker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkers[linkType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLinkType, linkType)
	}
	return c, nil
}

// Types returns the registered link types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.checkers))
	for t := range r.checkers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
