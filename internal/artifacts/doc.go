// Package artifacts manages the on-disk layout of a single run: per-step log
// files, stored artifacts, collected test results, persisted workspaces and
// the final report.
//
// A run directory looks like:
//
//	<state-dir>/runs/<run-id>/
//	    logs/<node>/<index>-<step>.log
//	    artifacts/<node>/...
//	    test-results/<node>/...
//	    workspace/<node>/...
//	    report.json
package artifacts
