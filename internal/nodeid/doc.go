// internal/nodeid/doc.go

/*
Package nodeid provides a structured, type-safe representation for node
identifiers within the system.

Every node in a run is a job instance inside a workflow, so the canonical
format is `workflow/job` for plain invocations and `workflow/job[index]` for
matrix instances, e.g. `test/test-debian-11[2]`.

This package enforces the identifier schema and centralizes all
formatting and parsing logic.
*/
package nodeid
