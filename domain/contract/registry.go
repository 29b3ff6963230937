package contract

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("contract [%s] is already registered", e.Name)
}

type Registry struct {
	lock      sync.RWMutex
	contracts map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{contracts: make(map[string]Handler)}
}

func (r *Registry) Register(ctx context.Context, name string, handler Handler) error {
	if handler == nil {
		return errors.Errorf("registering contract [%s]: nil handler", name)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.contracts[name]; ok {
		return &DuplicateNameError{Name: name}
	}

	if creator, ok := handler.(Creator); ok {
		if err := creator.Create(ctx); err != nil {
			return errors.Wrapf(err, "creating contract [%s]", name)
		}
	}

	r.contracts[name] = handler
	return nil
}

// Unregister removes the contract even if its destroy hook fails.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	handler, ok := r.contracts[name]
	if !ok {
		return nil
	}
	delete(r.contracts, name)

	if destroyer, ok := handler.(Destroyer); ok {
		if err := destroyer.Destroy(ctx); err != nil {
			return errors.Wrapf(err, "destroying contract [%s]", name)
		}
	}
	return nil
}

func (r *Registry) Resolve(name string) (Handler, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	handler, ok := r.contracts[name]
	return handler, ok
}

func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
