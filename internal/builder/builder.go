package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
	"github.com/vk/pipegrid/internal/task"
)

// SecretResolver looks a secret up by name within a list of contexts.
// *secrets.Store implements it.
type SecretResolver interface {
	Resolve(contexts []string, name string) (string, error)
}

// DefaultBuilder implements the logic for preparing a single node for execution.
type DefaultBuilder struct {
	secrets SecretResolver
}

// New creates a builder resolving secrets through r.
func New(r SecretResolver) Builder {
	return &DefaultBuilder{secrets: r}
}

// Build implements the Builder interface.
func (b *DefaultBuilder) Build(ctx context.Context, n *node.Node, g graph.Graph) (*task.Task, error) {
	logger := ctxlog.FromContext(ctx)
	if n.Instance == nil || n.Instance.Job == nil {
		return nil, fmt.Errorf("node '%s' has no job body", n.ID)
	}
	job := n.Instance.Job

	secretValues, err := b.resolveSecrets(job, n.Instance.Context)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", n.Name, err)
	}
	upstream, err := Upstream(ctx, g, n.ID)
	if err != nil {
		return nil, err
	}

	logger.Debug("Task built.", "node", n.ID.String(), "secrets", len(secretValues), "upstream", len(upstream))
	return &task.Task{
		Node:     n,
		Job:      job,
		Secrets:  secretValues,
		Upstream: upstream,
	}, nil
}

func (b *DefaultBuilder) resolveSecrets(job *config.Job, contexts []string) (map[string]string, error) {
	out := make(map[string]string)
	var errs []error
	for _, name := range SecretNames(job) {
		if b.secrets == nil {
			errs = append(errs, fmt.Errorf("secret %q referenced but no secret store is configured", name))
			continue
		}
		v, err := b.secrets.Resolve(contexts, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = v
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// SecretNames lists every secret the job references, without duplicates, in
// order of first appearance.
func SecretNames(job *config.Job) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(v config.EnvValue) {
		if v.IsSecret() && !seen[v.Secret] {
			seen[v.Secret] = true
			names = append(names, v.Secret)
		}
	}
	addEnv := func(env map[string]config.EnvValue) {
		for _, k := range sortedKeys(env) {
			add(env[k])
		}
	}
	addCreds := func(c *config.Credentials) {
		if c != nil {
			add(c.Username)
			add(c.Password)
		}
	}

	addEnv(job.Environment)
	addCreds(job.ImageAuth)
	for _, s := range job.Steps {
		if s.Run != nil {
			addEnv(s.Run.Environment)
		}
		if s.BuildImage != nil {
			addCreds(s.BuildImage.Auth)
		}
	}
	return names
}

// Upstream returns every node id transitively requires, dependencies first.
func Upstream(ctx context.Context, g graph.Graph, id nodeid.Address) ([]nodeid.Address, error) {
	visited := make(map[nodeid.Address]bool)
	var order []nodeid.Address

	var visit func(addr nodeid.Address) error
	visit = func(addr nodeid.Address) error {
		deps, err := g.DependenciesOf(ctx, addr)
		if err != nil {
			return err
		}
		for _, dep := range deps {
			if visited[dep.ID] {
				continue
			}
			visited[dep.ID] = true
			if err := visit(dep.ID); err != nil {
				return err
			}
			order = append(order, dep.ID)
		}
		return nil
	}
	if err := visit(id); err != nil {
		return nil, err
	}
	return order, nil
}
