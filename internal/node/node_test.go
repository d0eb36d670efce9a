package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vk/pipegrid/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("matrix instance carries its index", func(t *testing.T) {
		n := New(&config.JobInstance{Workflow: "test", Name: "test-debian-11", Index: 1, Job: &config.Job{AllowFailure: true}})

		assert.Equal(t, "test/test-debian-11[1]", n.ID.String())
		assert.Equal(t, "test-debian-11", n.Name)
		assert.True(t, n.AllowFailure)
	})

	t.Run("plain instance has no index", func(t *testing.T) {
		n := New(&config.JobInstance{Workflow: "build", Name: "lint", Index: -1, Job: &config.Job{}})

		assert.Equal(t, "build/lint", n.ID.String())
		assert.False(t, n.AllowFailure)
	})
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "skipped", StatusSkipped.String())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())

	text, err := StatusCompleted.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "completed", string(text))

	var parsed Status
	assert.NoError(t, parsed.UnmarshalText([]byte("failed")))
	assert.Equal(t, StatusFailed, parsed)
	assert.Error(t, parsed.UnmarshalText([]byte("bogus")))
}
