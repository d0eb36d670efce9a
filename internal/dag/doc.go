// Package dag is a small, generic, concurrency-safe directed graph keyed by
// string IDs. It knows nothing about jobs or workflows: the graph package
// feeds it node addresses and asks it two questions, whether the `requires`
// edges form a cycle and in which order the nodes can run.
package dag
