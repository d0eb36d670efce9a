package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p := pipelineWith(t, &Job{Name: "lint", Steps: []Step{{Type: StepCheckout}, runStep("make lint")}})
	require.NoError(t, p.AddWorkflow(&Workflow{
		Name:     "nightly",
		Triggers: []Trigger{{Event: EventSchedule, Cron: "0 3 * * *", Filters: Filter{Only: []string{"main"}}}},
		Jobs:     []*WorkflowJob{{Job: "lint"}},
	}))
	return p
}

func TestValidate(t *testing.T) {
	t.Run("valid pipeline passes", func(t *testing.T) {
		assert.NoError(t, Validate(validPipeline(t)))
	})

	testCases := []struct {
		name   string
		mutate func(p *Pipeline)
		errMsg string
	}{
		{
			name:   "undefined job in workflow",
			mutate: func(p *Pipeline) { p.Workflows["nightly"].Jobs[0].Job = "build" },
			errMsg: `workflow "nightly": job "build" is not defined`,
		},
		{
			name:   "step without body",
			mutate: func(p *Pipeline) { p.Jobs["lint"].Steps[1].Run = nil },
			errMsg: "run step has no body",
		},
		{
			name:   "unknown step type",
			mutate: func(p *Pipeline) { p.Jobs["lint"].Steps[0].Type = "deploy" },
			errMsg: `unknown step type "deploy"`,
		},
		{
			name:   "invalid when",
			mutate: func(p *Pipeline) { p.Jobs["lint"].Steps[1].When = "sometimes" },
			errMsg: `invalid when "sometimes"`,
		},
		{
			name:   "bad cron",
			mutate: func(p *Pipeline) { p.Workflows["nightly"].Triggers[0].Cron = "0 25 * * *" },
			errMsg: "hour: 25 out of range",
		},
		{
			name:   "unknown event",
			mutate: func(p *Pipeline) { p.Workflows["nightly"].Triggers[0].Event = "tag" },
			errMsg: `unknown event "tag"`,
		},
		{
			name:   "bad branch regex",
			mutate: func(p *Pipeline) { p.Workflows["nightly"].Triggers[0].Filters.Only = []string{"release/("} },
			errMsg: "invalid branch filter",
		},
		{
			name: "empty matrix parameter",
			mutate: func(p *Pipeline) {
				p.Workflows["nightly"].Jobs[0].Matrix = &Matrix{Parameters: map[string][]string{"distro": {}}}
			},
			errMsg: `matrix parameter "distro" has no values`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPipeline(t)
			tc.mutate(p)

			err := Validate(p)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		p := validPipeline(t)
		p.Jobs["lint"].Steps = nil
		p.Workflows["nightly"].Jobs[0].Job = "build"

		err := Validate(p)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no steps defined")
		assert.Contains(t, err.Error(), `job "build" is not defined`)
	})
}

func TestStep_EffectiveWhen(t *testing.T) {
	assert.Equal(t, WhenAlways, Step{Type: StepStoreArtifacts}.EffectiveWhen())
	assert.Equal(t, WhenAlways, Step{Type: StepStoreTestResults}.EffectiveWhen())
	assert.Equal(t, WhenOnSuccess, Step{Type: StepRun}.EffectiveWhen())
	assert.Equal(t, WhenOnFail, Step{Type: StepStoreArtifacts, When: WhenOnFail}.EffectiveWhen())
}

func TestJob_MapStrings(t *testing.T) {
	job := &Job{
		Name:        "test",
		Image:       "img:X",
		Environment: map[string]EnvValue{"V": Literal("X"), "S": SecretRef("X")},
		Steps: []Step{
			runStep("echo X"),
			{Type: StepSaveCache, SaveCache: &SaveCacheStep{Key: "k-X", Paths: []string{"/X"}}},
		},
	}
	replace := func(s string) (string, error) {
		out := []rune(s)
		for i, r := range out {
			if r == 'X' {
				out[i] = 'Y'
			}
		}
		return string(out), nil
	}

	got, err := job.MapStrings(replace)

	require.NoError(t, err)
	assert.Equal(t, "img:Y", got.Image)
	assert.Equal(t, Literal("Y"), got.Environment["V"])
	assert.Equal(t, SecretRef("X"), got.Environment["S"], "secret names are not rewritten")
	assert.Equal(t, "echo Y", got.Steps[0].Run.Command)
	assert.Equal(t, "k-Y", got.Steps[1].SaveCache.Key)
	assert.Equal(t, []string{"/Y"}, got.Steps[1].SaveCache.Paths)
	assert.Equal(t, "echo X", job.Steps[0].Run.Command, "the original is untouched")
}
