// Package steprunner executes the steps of a single job inside a runenv
// Environment and collects everything the job produces: per-step logs,
// artifacts, test results, persisted workspaces, cache entries and images.
//
// Steps run in order. Once a step fails only steps marked `when: always` or
// `when: on_fail` still run; store_artifacts and store_test_results default
// to `always` so collection survives failures. A run step that writes no
// output for longer than its no-output timeout is killed and fails with
// ErrNoOutputTimeout.
package steprunner
