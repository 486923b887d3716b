// Package registry holds the delegates service tasks may reference.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/bpmnvm/pkg/protocol"
)

var (
	ErrDelegateNotRegistered = errors.New("delegate not registered")
	ErrInvalidConfiguration  = errors.New("invalid delegate configuration")
)

type Registry struct {
	logger            *slog.Logger
	mu                sync.RWMutex
	delegateFactories map[string]protocol.DelegateFactory
	schemas           map[string]*gojsonschema.Schema
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:            log.With("module", "registry"),
		delegateFactories: make(map[string]protocol.DelegateFactory),
		schemas:           make(map[string]*gojsonschema.Schema),
	}
}

// RegisterDelegate registers a factory under its ID, replacing any previous one.
func (r *Registry) RegisterDelegate(factory protocol.DelegateFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delegateFactories[factory.ID()] = factory
	delete(r.schemas, factory.ID())

	r.logger.Debug("Registered delegate", "delegate_type", factory.ID())
}

// IsRegistered reports whether delegateType has a factory.
func (r *Registry) IsRegistered(delegateType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.delegateFactories[delegateType]

	return ok
}

// GetAvailableDelegates returns the registered factories sorted by ID.
func (r *Registry) GetAvailableDelegates() []protocol.DelegateFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.DelegateFactory, 0, len(r.delegateFactories))
	for _, factory := range r.delegateFactories {
		factories = append(factories, factory)
	}

	sort.Slice(factories, func(i, j int) bool {
		return factories[i].ID() < factories[j].ID()
	})

	return factories
}

// CreateDelegate validates config against the delegate schema and creates the delegate.
func (r *Registry) CreateDelegate(delegateType string, config map[string]any) (protocol.Delegate, error) {
	r.mu.RLock()
	factory, ok := r.delegateFactories[delegateType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: delegate type '%s' not registered", ErrDelegateNotRegistered, delegateType)
	}

	if config == nil {
		config = map[string]any{}
	}

	err := r.Validate(delegateType, config)
	if err != nil {
		return nil, err
	}

	return factory.Create(config)
}

// Validate checks config against the JSON schema of delegateType.
func (r *Registry) Validate(delegateType string, config map[string]any) error {
	schema, err := r.schema(delegateType)
	if err != nil {
		return err
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("failed to validate configuration of delegate '%s': %w", delegateType, err)
	}

	if !result.Valid() {
		var messages []string
		for _, resultError := range result.Errors() {
			messages = append(messages, resultError.String())
		}

		return fmt.Errorf("%w '%s': %s", ErrInvalidConfiguration, delegateType, strings.Join(messages, "; "))
	}

	return nil
}

func (r *Registry) schema(delegateType string) (*gojsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if schema, ok := r.schemas[delegateType]; ok {
		return schema, nil
	}

	factory, ok := r.delegateFactories[delegateType]
	if !ok {
		return nil, fmt.Errorf("%w: delegate type '%s' not registered", ErrDelegateNotRegistered, delegateType)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(factory.Schema()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema of delegate '%s': %w", delegateType, err)
	}

	r.schemas[delegateType] = schema

	return schema, nil
}
