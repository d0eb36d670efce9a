// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package config

import (
	"strings"
	"time"
)

// StepType identifies the action a step performs.
type StepType string

const (
	StepCheckout           StepType = "checkout"
	StepRun                StepType = "run"
	StepRestoreCache       StepType = "restore_cache"
	StepSaveCache          StepType = "save_cache"
	StepStoreArtifacts     StepType = "store_artifacts"
	StepStoreTestResults   StepType = "store_test_results"
	StepPersistToWorkspace StepType = "persist_to_workspace"
	StepAttachWorkspace    StepType = "attach_workspace"
	StepBuildImage         StepType = "build_image"
)

// KnownStepTypes lists every step type a loader may produce.
var KnownStepTypes = []StepType{
	StepCheckout, StepRun, StepRestoreCache, StepSaveCache, StepStoreArtifacts,
	StepStoreTestResults, StepPersistToWorkspace, StepAttachWorkspace, StepBuildImage,
}

// When controls whether a step runs given the outcome of earlier steps.
type When string

const (
	WhenOnSuccess When = "on_success"
	WhenAlways    When = "always"
	WhenOnFail    When = "on_fail"
)

// DefaultNoOutputTimeout applies to run steps that do not set one.
const DefaultNoOutputTimeout = 10 * time.Minute

// Step is one action in a job. Exactly one body matching Type is set, except
// for checkout which carries no body.
type Step struct {
	Type StepType
	When When

	Run                *RunStep
	RestoreCache       *RestoreCacheStep
	SaveCache          *SaveCacheStep
	StoreArtifacts     *StoreArtifactsStep
	StoreTestResults   *StoreTestResultsStep
	PersistToWorkspace *PersistToWorkspaceStep
	AttachWorkspace    *AttachWorkspaceStep
	BuildImage         *BuildImageStep
}

// RunStep executes a shell command.
type RunStep struct {
	Name             string
	Command          string
	Shell            string
	Environment      map[string]EnvValue
	WorkingDirectory string
	NoOutputTimeout  time.Duration
}

type RestoreCacheStep struct {
	Name string
	Keys []string
}

type SaveCacheStep struct {
	Name  string
	Key   string
	Paths []string
}

type StoreArtifactsStep struct {
	Path        string
	Destination string
}

type StoreTestResultsStep struct {
	Path string
}

type PersistToWorkspaceStep struct {
	Root  string
	Paths []string
}

type AttachWorkspaceStep struct {
	At string
}

// BuildImageStep builds, and optionally pushes, a container image.
type BuildImageStep struct {
	Name       string
	Image      string
	Dockerfile string
	Context    string
	BuildArgs  map[string]string
	Push       bool
	Auth       *Credentials
}

// EffectiveWhen returns the step's When, applying the per-type default.
// Collection steps run regardless of earlier failures unless told otherwise.
func (s Step) EffectiveWhen() When {
	if s.When != "" {
		return s.When
	}
	switch s.Type {
	case StepStoreArtifacts, StepStoreTestResults:
		return WhenAlways
	}
	return WhenOnSuccess
}

// DisplayName returns a short human-readable label for logs and reports.
func (s Step) DisplayName() string {
	switch s.Type {
	case StepRun:
		if s.Run == nil {
			break
		}
		if s.Run.Name != "" {
			return s.Run.Name
		}
		line, _, _ := strings.Cut(strings.TrimSpace(s.Run.Command), "\n")
		if len(line) > 60 {
			line = line[:57] + "..."
		}
		return line
	case StepRestoreCache:
		if s.RestoreCache != nil && s.RestoreCache.Name != "" {
			return s.RestoreCache.Name
		}
	case StepSaveCache:
		if s.SaveCache != nil && s.SaveCache.Name != "" {
			return s.SaveCache.Name
		}
	case StepBuildImage:
		if s.BuildImage != nil && s.BuildImage.Name != "" {
			return s.BuildImage.Name
		}
	}
	return string(s.Type)
}

// hasBody reports whether the body matching Type is present.
func (s Step) hasBody() bool {
	switch s.Type {
	case StepCheckout:
		return true
	case StepRun:
		return s.Run != nil
	case StepRestoreCache:
		return s.RestoreCache != nil
	case StepSaveCache:
		return s.SaveCache != nil
	case StepStoreArtifacts:
		return s.StoreArtifacts != nil
	case StepStoreTestResults:
		return s.StoreTestResults != nil
	case StepPersistToWorkspace:
		return s.PersistToWorkspace != nil
	case StepAttachWorkspace:
		return s.AttachWorkspace != nil
	case StepBuildImage:
		return s.BuildImage != nil
	}
	return false
}
