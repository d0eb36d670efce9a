package yamlconfig

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// fileRoot holds the top-level keys we understand. Anything else (version,
// orbs, anchor holders such as `references`) is ignored.
type fileRoot struct {
	Jobs      map[string]*rawJob   `yaml:"jobs"`
	Workflows map[string]yaml.Node `yaml:"workflows"`
}

type rawJob struct {
	Extends          string                  `yaml:"extends"`
	Docker           []rawDocker             `yaml:"docker"`
	Image            string                  `yaml:"image"`
	Environment      map[string]rawEnvValue  `yaml:"environment"`
	WorkingDirectory string                  `yaml:"working_directory"`
	Shell            string                  `yaml:"shell"`
	Parameters       map[string]rawParameter `yaml:"parameters"`
	Steps            []rawStep               `yaml:"steps"`
	AllowFailure     bool                    `yaml:"allow_failure"`
}

type rawDocker struct {
	Image string   `yaml:"image"`
	Auth  *rawAuth `yaml:"auth"`
}

type rawAuth struct {
	Username rawEnvValue `yaml:"username"`
	Password rawEnvValue `yaml:"password"`
}

type rawParameter struct {
	Type        string  `yaml:"type"`
	Description string  `yaml:"description"`
	Default     *scalar `yaml:"default"`
}

// rawStepBody is the union of every step type's fields.
type rawStepBody struct {
	Name             string                 `yaml:"name"`
	Command          string                 `yaml:"command"`
	Shell            string                 `yaml:"shell"`
	Environment      map[string]rawEnvValue `yaml:"environment"`
	WorkingDirectory string                 `yaml:"working_directory"`
	NoOutputTimeout  string                 `yaml:"no_output_timeout"`
	When             string                 `yaml:"when"`
	Key              string                 `yaml:"key"`
	Keys             []string               `yaml:"keys"`
	Paths            stringList             `yaml:"paths"`
	Path             string                 `yaml:"path"`
	Destination      string                 `yaml:"destination"`
	Root             string                 `yaml:"root"`
	At               string                 `yaml:"at"`
	Image            string                 `yaml:"image"`
	Dockerfile       string                 `yaml:"dockerfile"`
	Context          string                 `yaml:"context"`
	BuildArgs        map[string]scalar      `yaml:"build_args"`
	Push             bool                   `yaml:"push"`
	Auth             *rawAuth               `yaml:"auth"`
}

// rawStep accepts both `- checkout` and `- run: {...}` forms.
type rawStep struct {
	Type string
	Body *rawStepBody
}

func (s *rawStep) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		s.Type = value.Value
		return nil
	case yaml.MappingNode:
		key, body, err := singleKey(value, "step")
		if err != nil {
			return err
		}
		s.Type = key
		s.Body = &rawStepBody{}
		switch body.Kind {
		case yaml.ScalarNode:
			// `run: make test` and `checkout:` (null) short forms.
			if body.ShortTag() != "!!null" {
				if key != "run" {
					return fmt.Errorf("line %d: %s step needs a mapping body", body.Line, key)
				}
				s.Body.Command = body.Value
			}
			return nil
		case yaml.MappingNode:
			return body.Decode(s.Body)
		}
		return fmt.Errorf("line %d: unsupported body for %s step", body.Line, key)
	}
	return fmt.Errorf("line %d: a step must be a string or a single-key mapping", value.Line)
}

// rawEnvValue is a scalar literal or `{secret: NAME}`.
type rawEnvValue struct {
	Value  string
	Secret string
}

func (e *rawEnvValue) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		e.Value = value.Value
		return nil
	case yaml.MappingNode:
		var ref struct {
			Secret string `yaml:"secret"`
		}
		if err := value.Decode(&ref); err != nil {
			return err
		}
		if ref.Secret == "" {
			return fmt.Errorf("line %d: environment value mapping must be {secret: NAME}", value.Line)
		}
		e.Secret = ref.Secret
		return nil
	}
	return fmt.Errorf("line %d: environment value must be a scalar or {secret: NAME}", value.Line)
}

// scalar decodes any scalar (string, number, bool) as its literal text.
type scalar string

func (s *scalar) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", value.Line)
	}
	*s = scalar(value.Value)
	return nil
}

// stringList accepts a single string or a list of strings.
type stringList []string

func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = stringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var items []scalar
		if err := value.Decode(&items); err != nil {
			return err
		}
		out := make(stringList, len(items))
		for i, it := range items {
			out[i] = string(it)
		}
		*l = out
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
}

type rawFilter struct {
	Branches struct {
		Only   stringList `yaml:"only"`
		Ignore stringList `yaml:"ignore"`
	} `yaml:"branches"`
}

type rawWorkflow struct {
	Triggers []rawTrigger     `yaml:"triggers"`
	Jobs     []rawWorkflowJob `yaml:"jobs"`
}

// rawTrigger is `- schedule: {cron, filters}` or `- commit: {filters}`.
type rawTrigger struct {
	Event   string
	Cron    string
	Filters rawFilter
}

func (t *rawTrigger) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.Event = value.Value
		return nil
	}
	key, body, err := singleKey(value, "trigger")
	if err != nil {
		return err
	}
	t.Event = key
	var b struct {
		Cron    string    `yaml:"cron"`
		Filters rawFilter `yaml:"filters"`
	}
	if err := body.Decode(&b); err != nil {
		return err
	}
	t.Cron = b.Cron
	t.Filters = b.Filters
	return nil
}

type rawMatrix struct {
	Parameters map[string][]scalar `yaml:"parameters"`
	Exclude    []map[string]scalar `yaml:"exclude"`
	Alias      string              `yaml:"alias"`
}

// rawWorkflowJob is `- lint` or `- test: {requires: [...], ...}`. Keys that
// are not recognised are the job's fixed parameters.
type rawWorkflowJob struct {
	Job        string
	Name       string
	Requires   stringList
	Context    stringList
	Matrix     *rawMatrix
	Filters    rawFilter
	Parameters map[string]string
}

func (j *rawWorkflowJob) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		j.Job = value.Value
		return nil
	}
	key, body, err := singleKey(value, "workflow job")
	if err != nil {
		return err
	}
	j.Job = key
	if body.Kind == yaml.ScalarNode && body.ShortTag() == "!!null" {
		return nil
	}

	var fields map[string]yaml.Node
	if err := body.Decode(&fields); err != nil {
		return err
	}
	for k, v := range fields {
		switch k {
		case "name":
			err = v.Decode(&j.Name)
		case "requires":
			err = v.Decode(&j.Requires)
		case "context":
			err = v.Decode(&j.Context)
		case "matrix":
			j.Matrix = &rawMatrix{}
			err = v.Decode(j.Matrix)
		case "filters":
			err = v.Decode(&j.Filters)
		default:
			var s scalar
			if err = v.Decode(&s); err == nil {
				if j.Parameters == nil {
					j.Parameters = make(map[string]string)
				}
				j.Parameters[k] = string(s)
			}
		}
		if err != nil {
			return fmt.Errorf("workflow job %q, key %q: %w", j.Job, k, err)
		}
	}
	return nil
}

// singleKey returns the only key and value of a mapping node.
func singleKey(value *yaml.Node, what string) (string, *yaml.Node, error) {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return "", nil, fmt.Errorf("line %d: a %s must be a single-key mapping", value.Line, what)
	}
	return value.Content[0].Value, value.Content[1], nil
}
