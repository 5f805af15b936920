package httpcache

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrUnknownBackend is returned by New for names nobody registered.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Factory creates a backend from its configuration node.
// A nil node means the backend defaults.
type Factory func(options *yaml.Node, logger zerolog.Logger) (HttpCache, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a backend available by name. It is meant to be called from init.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic("httpcache: Register called twice for backend " + name)
	}
	factories[name] = factory
}

// New creates the backend registered under name.
func New(name string, options *yaml.Node, logger zerolog.Logger) (HttpCache, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, name, Backends())
	}
	cache, err := factory(options, logger.With().Str("backend", name).Logger())
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", name, err)
	}
	return cache, nil
}

// Backends returns the sorted names of all registered backends.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeOptions decodes a backend configuration node into out.
// A nil node leaves out untouched.
func DecodeOptions(options *yaml.Node, out interface{}) error {
	if options == nil || options.Kind == 0 {
		return nil
	}
	if err := options.Decode(out); err != nil {
		return fmt.Errorf("decode backend options: %w", err)
	}
	return nil
}
