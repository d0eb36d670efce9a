package yamlconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pipegrid/internal/config"
)

const pipelineYAML = `
version: 2.1

references:
  base: &base
    docker:
      - image: registry.example.com/ci/base:latest
        auth:
          username: ci-bot
          password: {secret: REGISTRY_PASSWORD}
    working_directory: /tmp/project
    environment: &base_env
      LANG: C.UTF-8
      TOKEN:
        secret: API_TOKEN

jobs:
  lint:
    <<: *base
    steps:
      - checkout
      - run: make lint

  test:
    <<: *base
    environment:
      <<: *base_env
      LANG: en_US.UTF-8
    parameters:
      distro:
        type: string
      version:
        type: string
        default: 11
    steps:
      - checkout
      - restore_cache:
          key: pip-{{ checksum "requirements.txt" }}
          keys:
            - pip-
      - run:
          name: Run tests
          command: ./test.sh << parameters.distro >>
          no_output_timeout: 30m
      - save_cache:
          key: pip-{{ checksum "requirements.txt" }}
          paths: ~/.cache/pip
      - store_test_results:
          path: junit
      - store_artifacts:
          path: logs
          destination: test-logs
          when: on_fail

  image:
    extends: lint
    steps:
      - build_image:
          image: registry.example.com/ci/app:<< parameters.tag >>
          dockerfile: Dockerfile
          build_args:
            PY: 3.11
          push: true

workflows:
  version: 2
  ci:
    jobs:
      - lint
      - test:
          name: unit
          requires: [lint]
          context: shared
          matrix:
            alias: unit
            parameters:
              distro: [debian, centos]
              version: [11, 12]
            exclude:
              - distro: centos
                version: 12
          filters:
            branches:
              ignore: gh-pages
  nightly:
    triggers:
      - schedule:
          cron: "0 3 * * *"
          filters:
            branches:
              only:
                - main
    jobs:
      - image:
          tag: nightly
`

func TestParse(t *testing.T) {
	// --- Arrange ---
	p := config.NewPipeline()

	// --- Act ---
	err := Parse([]byte(pipelineYAML), p)

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, p.Jobs, 3)
	require.Len(t, p.Workflows, 2, "the version key is not a workflow")

	t.Run("anchor merge inherits the base job", func(t *testing.T) {
		lint := p.Jobs["lint"]
		assert.Equal(t, "registry.example.com/ci/base:latest", lint.Image)
		assert.Equal(t, "/tmp/project", lint.WorkingDirectory)
		require.NotNil(t, lint.ImageAuth)
		assert.Equal(t, config.Literal("ci-bot"), lint.ImageAuth.Username)
		assert.Equal(t, config.SecretRef("REGISTRY_PASSWORD"), lint.ImageAuth.Password)
		assert.Equal(t, config.SecretRef("API_TOKEN"), lint.Environment["TOKEN"])
	})

	t.Run("local keys win over merged keys", func(t *testing.T) {
		env := p.Jobs["test"].Environment
		assert.Equal(t, config.Literal("en_US.UTF-8"), env["LANG"])
		assert.Equal(t, config.SecretRef("API_TOKEN"), env["TOKEN"])
	})

	t.Run("bare and mapped steps", func(t *testing.T) {
		steps := p.Jobs["lint"].Steps
		require.Len(t, steps, 2)
		assert.Equal(t, config.StepCheckout, steps[0].Type)
		require.NotNil(t, steps[1].Run)
		assert.Equal(t, "make lint", steps[1].Run.Command)
		assert.Equal(t, config.DefaultNoOutputTimeout, steps[1].Run.NoOutputTimeout)
	})

	t.Run("step bodies", func(t *testing.T) {
		steps := p.Jobs["test"].Steps
		require.Len(t, steps, 6)

		assert.Equal(t, []string{`pip-{{ checksum "requirements.txt" }}`, "pip-"}, steps[1].RestoreCache.Keys)
		assert.Equal(t, "Run tests", steps[2].Run.Name)
		assert.Equal(t, 30*time.Minute, steps[2].Run.NoOutputTimeout)
		assert.Equal(t, []string{"~/.cache/pip"}, steps[3].SaveCache.Paths)
		assert.Equal(t, "junit", steps[4].StoreTestResults.Path)
		assert.Equal(t, config.WhenOnFail, steps[5].EffectiveWhen())
		assert.Equal(t, "test-logs", steps[5].StoreArtifacts.Destination)

		version := p.Jobs["test"].Parameters["version"]
		require.NotNil(t, version.Default)
		assert.Equal(t, "11", *version.Default)
	})

	t.Run("build image step", func(t *testing.T) {
		image := p.Jobs["image"]
		assert.Equal(t, "lint", image.Extends)
		require.Len(t, image.Steps, 1)
		b := image.Steps[0].BuildImage
		require.NotNil(t, b)
		assert.True(t, b.Push)
		assert.Equal(t, map[string]string{"PY": "3.11"}, b.BuildArgs)
	})

	t.Run("workflow jobs", func(t *testing.T) {
		ci := p.Workflows["ci"]
		require.Len(t, ci.Jobs, 2)
		assert.Equal(t, "lint", ci.Jobs[0].Job)

		want := &config.WorkflowJob{
			Job:      "test",
			Name:     "unit",
			Requires: []string{"lint"},
			Context:  []string{"shared"},
			Matrix: &config.Matrix{
				Alias: "unit",
				Parameters: map[string][]string{
					"distro":  {"debian", "centos"},
					"version": {"11", "12"},
				},
				Exclude: []map[string]string{{"distro": "centos", "version": "12"}},
			},
			Filters: config.Filter{Ignore: []string{"gh-pages"}},
		}
		if diff := cmp.Diff(want, ci.Jobs[1]); diff != "" {
			t.Errorf("workflow job mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("triggers and fixed parameters", func(t *testing.T) {
		nightly := p.Workflows["nightly"]
		require.Len(t, nightly.Triggers, 1)
		assert.Equal(t, config.EventSchedule, nightly.Triggers[0].Event)
		assert.Equal(t, "0 3 * * *", nightly.Triggers[0].Cron)
		assert.Equal(t, []string{"main"}, nightly.Triggers[0].Filters.Only)
		assert.Equal(t, map[string]string{"tag": "nightly"}, nightly.Jobs[0].Parameters)
	})
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "step with two keys",
			yaml:    "jobs:\n  a:\n    steps:\n      - {run: x, checkout: y}\n",
			wantErr: "single-key mapping",
		},
		{
			name:    "invalid timeout",
			yaml:    "jobs:\n  a:\n    steps:\n      - run: {command: x, no_output_timeout: soon}\n",
			wantErr: `invalid no_output_timeout "soon"`,
		},
		{
			name:    "env mapping without secret",
			yaml:    "jobs:\n  a:\n    environment:\n      X: {value: 1}\n    steps: [checkout]\n",
			wantErr: "{secret: NAME}",
		},
		{
			name:    "scalar body on non-run step",
			yaml:    "jobs:\n  a:\n    steps:\n      - save_cache: foo\n",
			wantErr: "needs a mapping body",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Parse([]byte(tc.yaml), config.NewPipeline())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoader_Load(t *testing.T) {
	t.Run("merges every file in a directory", func(t *testing.T) {
		// --- Arrange ---
		dir := t.TempDir()
		writeFile(t, dir, "a.yml", "jobs:\n  lint:\n    steps: [checkout]\n")
		writeFile(t, dir, "b.yaml", "jobs:\n  test:\n    steps: [checkout]\nworkflows:\n  ci:\n    jobs: [lint, test]\n")
		writeFile(t, dir, "notes.txt", "not a pipeline")

		// --- Act ---
		p, err := NewLoader().Load(context.Background(), dir)

		// --- Assert ---
		require.NoError(t, err)
		assert.Len(t, p.Jobs, 2)
		assert.Len(t, p.Workflows, 1)
		assert.Len(t, p.Sources, 2)
	})

	t.Run("duplicate job across files", func(t *testing.T) {
		// --- Arrange ---
		dir := t.TempDir()
		writeFile(t, dir, "a.yml", "jobs:\n  lint:\n    steps: [checkout]\n")
		writeFile(t, dir, "b.yml", "jobs:\n  lint:\n    steps: [checkout]\n")

		// --- Act ---
		_, err := NewLoader().Load(context.Background(), dir)

		// --- Assert ---
		require.Error(t, err)
		assert.Contains(t, err.Error(), `job "lint" is defined more than once`)
		assert.Contains(t, err.Error(), "b.yml")
	})
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
