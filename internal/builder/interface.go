// Package builder transforms graph nodes into fully-resolved, executable
// tasks by resolving secret references and upstream workspace lineage.
//
// # Why Builder Exists
//
// The builder is the bridge between the declarative job definition and the
// runtime values a job needs. Secret references in the job body are resolved
// once, before the job starts, so a missing secret fails the job before any
// container is pulled or any command is run.
//
// This separation provides several architectural benefits:
//   - **Secret Isolation:** Only the builder talks to the secret store
//   - **Testability:** Task building can be tested independently of step execution
//   - **Clarity:** The step runner receives plain strings, not references
//
// # Responsibilities
//
// The builder is responsible for:
//   - **Secret Resolution:** Looking up every `secret` reference in the job
//     environment, step environments and registry credentials, searching the
//     invocation's contexts in order and then the process environment
//   - **Workspace Lineage:** Collecting every node the job transitively
//     requires, dependencies first, so attach_workspace can layer their
//     persisted workspaces
//   - **Error Handling:** Naming the missing secret and the context list
//
// # Relationship with Other Components
//
//   - **Graph:** Builder walks the graph to compute upstream nodes
//   - **Executor:** Calls Build() for each ready node before execution
//   - **Secrets:** Resolves references through a secrets.Store
package builder

import (
	"context"

	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/task"
)

// Builder transforms a graph node into a fully-resolved, executable task.
//
// # Usage Pattern
//
// The executor calls Build() for each ready node before execution:
//
//	t, err := builder.Build(ctx, readyNode, g)
//	if err != nil {
//	    // a secret is missing or the graph is inconsistent
//	}
//	result, err := runner.RunJob(ctx, t)
//
// # Thread-Safety
//
// Build() must be safe to call concurrently for different nodes.
type Builder interface {
	Build(ctx context.Context, n *node.Node, g graph.Graph) (*task.Task, error)
}
