package task

import (
	"maps"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
)

// Task represents a node that is fully prepared for execution.
// It is the output of a builder.Builder and the input for the JobRunner.
type Task struct {
	// Node is the original node definition from the graph.
	Node *node.Node

	// Job is the expanded job body the node runs.
	Job *config.Job

	// Secrets holds the value of every secret the job references, by name.
	// Values are masked in all step logs.
	Secrets map[string]string

	// Upstream lists every node the job transitively requires, dependencies
	// first. attach_workspace copies their persisted workspaces in this order.
	Upstream []nodeid.Address
}

// Value resolves an environment value: literals are returned as is and secret
// references are looked up in Secrets.
func (t *Task) Value(v config.EnvValue) string {
	if v.IsSecret() {
		return t.Secrets[v.Secret]
	}
	return v.Value
}

// Env resolves the job-level environment.
func (t *Task) Env() map[string]string {
	return t.ResolveEnv(t.Job.Environment)
}

// ResolveEnv resolves every value in env.
func (t *Task) ResolveEnv(env map[string]config.EnvValue) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = t.Value(v)
	}
	return out
}

// StepEnv returns the environment of a run step: the job environment
// overlaid with the step's own.
func (t *Task) StepEnv(step *config.RunStep) map[string]string {
	out := t.Env()
	if step != nil {
		maps.Copy(out, t.ResolveEnv(step.Environment))
	}
	return out
}

// SecretValues returns the secret values to mask.
func (t *Task) SecretValues() []string {
	out := make([]string, 0, len(t.Secrets))
	for _, v := range t.Secrets {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
