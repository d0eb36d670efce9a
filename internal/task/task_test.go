package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vk/pipegrid/internal/config"
)

func TestTask_Env(t *testing.T) {
	// --- Arrange ---
	tk := &Task{
		Job: &config.Job{Environment: map[string]config.EnvValue{
			"MODE":  config.Literal("release"),
			"TOKEN": config.SecretRef("GH_TOKEN"),
		}},
		Secrets: map[string]string{"GH_TOKEN": "s3cr3t", "EMPTY": ""},
	}
	step := &config.RunStep{Environment: map[string]config.EnvValue{
		"MODE": config.Literal("debug"),
	}}

	// --- Act & Assert ---
	assert.Equal(t, map[string]string{"MODE": "release", "TOKEN": "s3cr3t"}, tk.Env())
	assert.Equal(t, map[string]string{"MODE": "debug", "TOKEN": "s3cr3t"}, tk.StepEnv(step))
	assert.Equal(t, []string{"s3cr3t"}, tk.SecretValues())
	assert.Equal(t, "", tk.Value(config.SecretRef("MISSING")))
}
