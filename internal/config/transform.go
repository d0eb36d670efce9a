package config

import (
	"fmt"
	"maps"
	"slices"
)

// StringMapper rewrites a single string value. It is used to substitute
// parameters into every string field of a job.
type StringMapper func(s string) (string, error)

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.ImageAuth = j.ImageAuth.clone()
	out.Environment = maps.Clone(j.Environment)
	out.Parameters = maps.Clone(j.Parameters)
	if j.Steps != nil {
		out.Steps = make([]Step, len(j.Steps))
		for i, s := range j.Steps {
			out.Steps[i] = s.Clone()
		}
	}
	return &out
}

func (c *Credentials) clone() *Credentials {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	if s.Run != nil {
		r := *s.Run
		r.Environment = maps.Clone(s.Run.Environment)
		out.Run = &r
	}
	if s.RestoreCache != nil {
		r := *s.RestoreCache
		r.Keys = slices.Clone(s.RestoreCache.Keys)
		out.RestoreCache = &r
	}
	if s.SaveCache != nil {
		r := *s.SaveCache
		r.Paths = slices.Clone(s.SaveCache.Paths)
		out.SaveCache = &r
	}
	if s.StoreArtifacts != nil {
		r := *s.StoreArtifacts
		out.StoreArtifacts = &r
	}
	if s.StoreTestResults != nil {
		r := *s.StoreTestResults
		out.StoreTestResults = &r
	}
	if s.PersistToWorkspace != nil {
		r := *s.PersistToWorkspace
		r.Paths = slices.Clone(s.PersistToWorkspace.Paths)
		out.PersistToWorkspace = &r
	}
	if s.AttachWorkspace != nil {
		r := *s.AttachWorkspace
		out.AttachWorkspace = &r
	}
	if s.BuildImage != nil {
		r := *s.BuildImage
		r.BuildArgs = maps.Clone(s.BuildImage.BuildArgs)
		r.Auth = s.BuildImage.Auth.clone()
		out.BuildImage = &r
	}
	return out
}

// MapStrings returns a copy of the job with fn applied to every string field
// that can carry user content. Names used for identity (Name, Extends) and
// secret names are left untouched.
func (j *Job) MapStrings(fn StringMapper) (*Job, error) {
	out := j.Clone()
	m := &mapper{fn: fn}

	out.Image = m.str(out.Image)
	out.WorkingDirectory = m.str(out.WorkingDirectory)
	out.Shell = m.str(out.Shell)
	out.Environment = m.env(out.Environment)
	m.creds(out.ImageAuth)

	for i := range out.Steps {
		m.step(&out.Steps[i])
	}
	if m.err != nil {
		return nil, fmt.Errorf("job %q: %w", j.Name, m.err)
	}
	return out, nil
}

// mapper applies fn and keeps the first error so call sites stay linear.
type mapper struct {
	fn  StringMapper
	err error
}

func (m *mapper) str(s string) string {
	if m.err != nil || s == "" {
		return s
	}
	out, err := m.fn(s)
	if err != nil {
		m.err = err
		return s
	}
	return out
}

func (m *mapper) strs(in []string) []string {
	for i := range in {
		in[i] = m.str(in[i])
	}
	return in
}

func (m *mapper) env(in map[string]EnvValue) map[string]EnvValue {
	for k, v := range in {
		if !v.IsSecret() {
			v.Value = m.str(v.Value)
			in[k] = v
		}
	}
	return in
}

func (m *mapper) creds(c *Credentials) {
	if c == nil {
		return
	}
	if !c.Username.IsSecret() {
		c.Username.Value = m.str(c.Username.Value)
	}
	if !c.Password.IsSecret() {
		c.Password.Value = m.str(c.Password.Value)
	}
}

func (m *mapper) step(s *Step) {
	if r := s.Run; r != nil {
		r.Name = m.str(r.Name)
		r.Command = m.str(r.Command)
		r.Shell = m.str(r.Shell)
		r.WorkingDirectory = m.str(r.WorkingDirectory)
		r.Environment = m.env(r.Environment)
	}
	if r := s.RestoreCache; r != nil {
		r.Name = m.str(r.Name)
		r.Keys = m.strs(r.Keys)
	}
	if r := s.SaveCache; r != nil {
		r.Name = m.str(r.Name)
		r.Key = m.str(r.Key)
		r.Paths = m.strs(r.Paths)
	}
	if r := s.StoreArtifacts; r != nil {
		r.Path = m.str(r.Path)
		r.Destination = m.str(r.Destination)
	}
	if r := s.StoreTestResults; r != nil {
		r.Path = m.str(r.Path)
	}
	if r := s.PersistToWorkspace; r != nil {
		r.Root = m.str(r.Root)
		r.Paths = m.strs(r.Paths)
	}
	if r := s.AttachWorkspace; r != nil {
		r.At = m.str(r.At)
	}
	if r := s.BuildImage; r != nil {
		r.Name = m.str(r.Name)
		r.Image = m.str(r.Image)
		r.Dockerfile = m.str(r.Dockerfile)
		r.Context = m.str(r.Context)
		for k, v := range r.BuildArgs {
			r.BuildArgs[k] = m.str(v)
		}
		m.creds(r.Auth)
	}
}
