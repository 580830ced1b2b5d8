package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	nilStrategyMessageConstant               = "strategy must not be nil"
	strategyNameRequiredMessageConstant      = "strategy name must be provided"
	strategyFromRequiredMessageConstant      = "strategy must accept at least one version"
	strategyNegativeVersionTemplateConstant  = "strategy %s declares negative version %d"
	invalidStrategyTemplateConstant          = "%w: %s"
	duplicateStrategyTemplateConstant        = "%w: version %d is claimed by %s and %s"
	strategyDescriptorStringTemplateConstant = "%s (%s -> %d)"
	strategyVersionSeparatorConstant         = ","
	strategyVersionListTemplateConstant      = "%d"
)

// Document is the in-memory state of an artifact while strategies transform it.
type Document struct {
	Path     string
	Identity string
	Version  int
	Content  []byte
}

// StrategyDescriptor names a strategy and the versions it accepts and produces.
type StrategyDescriptor struct {
	Name         string
	FromVersions []int
	ToVersion    int
}

// String renders the descriptor for logs and plans.
func (descriptor StrategyDescriptor) String() string {
	versionLabels := make([]string, 0, len(descriptor.FromVersions))
	for _, fromVersion := range descriptor.FromVersions {
		versionLabels = append(versionLabels, fmt.Sprintf(strategyVersionListTemplateConstant, fromVersion))
	}
	return fmt.Sprintf(strategyDescriptorStringTemplateConstant, descriptor.Name, strings.Join(versionLabels, strategyVersionSeparatorConstant), descriptor.ToVersion)
}

// MigrationStrategy advances a document from one of its accepted versions to a later one.
//
// Apply receives a private copy of the document and returns the transformed
// document with Version set to the version it produced. Strategies are the
// only code allowed to change artifact content.
type MigrationStrategy interface {
	Descriptor() StrategyDescriptor
	Apply(executionContext context.Context, document Document) (Document, error)
}

// FuncStrategy adapts a function to MigrationStrategy.
type FuncStrategy struct {
	Definition StrategyDescriptor
	ApplyFunc  func(executionContext context.Context, document Document) (Document, error)
}

// Descriptor returns the configured descriptor.
func (strategy FuncStrategy) Descriptor() StrategyDescriptor {
	return strategy.Definition
}

// Apply invokes ApplyFunc. A missing function advances the document to ToVersion unchanged.
func (strategy FuncStrategy) Apply(executionContext context.Context, document Document) (Document, error) {
	if strategy.ApplyFunc == nil {
		document.Version = strategy.Definition.ToVersion
		return document, nil
	}
	return strategy.ApplyFunc(executionContext, document)
}

// StrategyRegistry maps each accepted source version to exactly one strategy.
type StrategyRegistry struct {
	mutex      sync.RWMutex
	byVersion  map[int]MigrationStrategy
	registered []MigrationStrategy
}

// NewStrategyRegistry constructs an empty registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{byVersion: make(map[int]MigrationStrategy)}
}

// Register claims every version the strategy accepts. Nothing is registered when any version is already claimed.
func (registry *StrategyRegistry) Register(strategy MigrationStrategy) error {
	if strategy == nil {
		return fmt.Errorf(invalidStrategyTemplateConstant, ErrInvalidStrategy, nilStrategyMessageConstant)
	}

	descriptor := strategy.Descriptor()
	if validationError := validateDescriptor(descriptor); validationError != nil {
		return validationError
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	for _, fromVersion := range descriptor.FromVersions {
		if existing, claimed := registry.byVersion[fromVersion]; claimed {
			return fmt.Errorf(duplicateStrategyTemplateConstant, ErrDuplicateStrategy, fromVersion, existing.Descriptor().Name, descriptor.Name)
		}
	}
	for _, fromVersion := range descriptor.FromVersions {
		registry.byVersion[fromVersion] = strategy
	}
	registry.registered = append(registry.registered, strategy)
	return nil
}

// Lookup returns the strategy accepting version.
func (registry *StrategyRegistry) Lookup(version int) (MigrationStrategy, bool) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	strategy, found := registry.byVersion[version]
	return strategy, found
}

// Descriptors lists registered strategies ordered by their lowest accepted version.
func (registry *StrategyRegistry) Descriptors() []StrategyDescriptor {
	registry.mutex.RLock()
	descriptors := make([]StrategyDescriptor, 0, len(registry.registered))
	for _, strategy := range registry.registered {
		descriptors = append(descriptors, strategy.Descriptor())
	}
	registry.mutex.RUnlock()

	sort.SliceStable(descriptors, func(leftIndex int, rightIndex int) bool {
		return lowestVersion(descriptors[leftIndex]) < lowestVersion(descriptors[rightIndex])
	})
	return descriptors
}

// Len reports the number of registered strategies.
func (registry *StrategyRegistry) Len() int {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	return len(registry.registered)
}

func validateDescriptor(descriptor StrategyDescriptor) error {
	if len(strings.TrimSpace(descriptor.Name)) == 0 {
		return fmt.Errorf(invalidStrategyTemplateConstant, ErrInvalidStrategy, strategyNameRequiredMessageConstant)
	}
	if len(descriptor.FromVersions) == 0 {
		return fmt.Errorf(invalidStrategyTemplateConstant, ErrInvalidStrategy, strategyFromRequiredMessageConstant)
	}
	for _, fromVersion := range descriptor.FromVersions {
		if fromVersion < 0 {
			return fmt.Errorf(invalidStrategyTemplateConstant, ErrInvalidStrategy, fmt.Sprintf(strategyNegativeVersionTemplateConstant, descriptor.Name, fromVersion))
		}
	}
	if descriptor.ToVersion < 0 {
		return fmt.Errorf(invalidStrategyTemplateConstant, ErrInvalidStrategy, fmt.Sprintf(strategyNegativeVersionTemplateConstant, descriptor.Name, descriptor.ToVersion))
	}
	return nil
}

func lowestVersion(descriptor StrategyDescriptor) int {
	lowest := descriptor.ToVersion
	for _, fromVersion := range descriptor.FromVersions {
		if fromVersion < lowest {
			lowest = fromVersion
		}
	}
	return lowest
}
