// Package report assembles the outcome of a run into report.json and a
// console summary.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/vk/pipegrid/internal/executor"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/history"
	"github.com/vk/pipegrid/internal/node"
)

// Report is the persisted summary of one run.
type Report struct {
	RunID      string            `json:"run_id"`
	Event      string            `json:"event"`
	Branch     string            `json:"branch"`
	Revision   string            `json:"revision,omitempty"`
	Workflows  []string          `json:"workflows"`
	Status     history.RunStatus `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Jobs       []Job             `json:"jobs"`
}

// Job is the final state of one node in the run.
type Job struct {
	ID           string              `json:"id"`
	Workflow     string              `json:"workflow"`
	Name         string              `json:"name"`
	Template     string              `json:"template"`
	Parameters   map[string]string   `json:"parameters,omitempty"`
	Status       node.Status         `json:"status"`
	AllowFailure bool                `json:"allow_failure,omitempty"`
	Error        string              `json:"error,omitempty"`
	Result       *executor.JobResult `json:"result,omitempty"`
}

// Collect reads the final state of every node in g, ordered by address.
func Collect(ctx context.Context, g graph.Graph) []Job {
	states := make(map[string]graph.NodeState)
	for _, st := range g.Snapshot(ctx) {
		states[st.ID] = st
	}

	nodes := g.AllNodes(ctx)
	jobs := make([]Job, 0, len(nodes))
	for _, n := range nodes {
		st := states[n.ID.String()]
		j := Job{
			ID:           n.ID.String(),
			Name:         n.Name,
			Status:       st.Status,
			AllowFailure: n.AllowFailure,
			Error:        st.Error,
		}
		if inst := n.Instance; inst != nil {
			j.Workflow = inst.Workflow
			j.Template = inst.Template
			j.Parameters = inst.Parameters
		}
		if res, ok := st.Output.(*executor.JobResult); ok {
			j.Result = res
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// StatusOf derives the run status from its jobs. A run fails when any job
// failed without allowed failure or was skipped for a reason other than an
// allowed upstream failure.
func StatusOf(jobs []Job, cancelled bool) history.RunStatus {
	if cancelled {
		return history.RunCancelled
	}
	for _, j := range jobs {
		switch j.Status {
		case node.StatusFailed:
			if !j.AllowFailure {
				return history.RunFailed
			}
		case node.StatusSkipped, node.StatusPending, node.StatusRunning:
			return history.RunFailed
		}
	}
	return history.RunSucceeded
}

// Counts returns the number of jobs per status.
func (r *Report) Counts() map[node.Status]int {
	out := make(map[node.Status]int)
	for _, j := range r.Jobs {
		out[j.Status]++
	}
	return out
}

// JobRecords converts the jobs into rows for the run history.
func (r *Report) JobRecords() []history.JobRecord {
	out := make([]history.JobRecord, 0, len(r.Jobs))
	for _, j := range r.Jobs {
		rec := history.JobRecord{
			Node:         j.ID,
			Workflow:     j.Workflow,
			Job:          j.Name,
			Status:       j.Status.String(),
			AllowFailure: j.AllowFailure,
			Error:        j.Error,
		}
		if j.Result != nil {
			rec.StartedAt, rec.FinishedAt = j.Result.StartedAt, j.Result.FinishedAt
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Node < out[b].Node })
	return out
}

// Write stores the report as indented JSON at path.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &r, nil
}
