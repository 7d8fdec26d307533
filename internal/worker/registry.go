package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
)

// Handler processes the payload of one work item. The payload format is
// owned by the handler registered for the item's work type.
type Handler func(ctx context.Context, payload string) error

// Registry maps a work type tag to its handler. It is populated once at
// startup and only read afterwards.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for a work type
func (r *Registry) Register(workType string, handler Handler) {
	r.handlers[workType] = handler
}

// Get returns the handler for a work type
func (r *Registry) Get(workType string) (Handler, error) {
	handler, ok := r.handlers[workType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownWorkType, workType)
	}
	return handler, nil
}

// WorkTypes returns the registered work types in sorted order
func (r *Registry) WorkTypes() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
