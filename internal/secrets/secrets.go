// Package secrets resolves secret references used in job environments and
// masks resolved values in step output.
//
// Secrets come from named contexts, loaded from a YAML file of the form
//
//	shared:
//	  API_TOKEN: abc123
//	registry:
//	  REGISTRY_PASSWORD: hunter2
//
// and, as a fallback, from the process environment. A job only sees the
// contexts its workflow invocation lists.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a secret is in none of the searched sources.
var ErrNotFound = errors.New("secret not found")

// ErrUnknownContext is returned when a job asks for a context that was not loaded.
var ErrUnknownContext = errors.New("unknown context")

// LookupFunc looks up a single variable, like os.LookupEnv.
type LookupFunc func(name string) (string, bool)

// Store holds every loaded context.
type Store struct {
	contexts map[string]map[string]string
	env      LookupFunc
}

// NewStore creates a store from in-memory contexts. env may be nil to
// disable the environment fallback.
func NewStore(contexts map[string]map[string]string, env LookupFunc) *Store {
	if contexts == nil {
		contexts = make(map[string]map[string]string)
	}
	return &Store{contexts: contexts, env: env}
}

// Load reads a contexts file. An empty path yields a store backed only by
// the process environment.
func Load(path string) (*Store, error) {
	if path == "" {
		return NewStore(nil, os.LookupEnv), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contexts file: %w", err)
	}
	var contexts map[string]map[string]string
	if err := yaml.Unmarshal(data, &contexts); err != nil {
		return nil, fmt.Errorf("failed to parse contexts file %s: %w", path, err)
	}
	return NewStore(contexts, os.LookupEnv), nil
}

// Resolve looks name up in each of the given contexts in order, then in the
// environment.
func (s *Store) Resolve(contexts []string, name string) (string, error) {
	for _, c := range contexts {
		values, ok := s.contexts[c]
		if !ok {
			return "", fmt.Errorf("%w %q", ErrUnknownContext, c)
		}
		if v, ok := values[name]; ok {
			return v, nil
		}
	}
	if s.env != nil {
		if v, ok := s.env(name); ok {
			return v, nil
		}
	}
	where := "environment"
	if len(contexts) > 0 {
		where = fmt.Sprintf("contexts [%s] or environment", strings.Join(contexts, ", "))
	}
	return "", fmt.Errorf("%w: %q is not in %s", ErrNotFound, name, where)
}
