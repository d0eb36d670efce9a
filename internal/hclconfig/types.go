package hclconfig

import "github.com/hashicorp/hcl/v2"

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Jobs      []*jobBlock      `hcl:"job,block"`
	Workflows []*workflowBlock `hcl:"workflow,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

type jobBlock struct {
	Name             string            `hcl:"name,label"`
	Extends          string            `hcl:"extends,optional"`
	Image            string            `hcl:"image,optional"`
	ImageAuth        *authBlock        `hcl:"image_auth,block"`
	Environment      hcl.Expression    `hcl:"environment,optional"`
	WorkingDirectory string            `hcl:"working_directory,optional"`
	Shell            string            `hcl:"shell,optional"`
	AllowFailure     bool              `hcl:"allow_failure,optional"`
	Parameters       []*parameterBlock `hcl:"parameter,block"`
	Steps            []*stepBlock      `hcl:"step,block"`
}

type authBlock struct {
	Username hcl.Expression `hcl:"username"`
	Password hcl.Expression `hcl:"password"`
}

type parameterBlock struct {
	Name        string         `hcl:"name,label"`
	Type        string         `hcl:"type,optional"`
	Description string         `hcl:"description,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
}

// stepBlock is the union of every step type's attributes.
type stepBlock struct {
	Type             string         `hcl:"type,label"`
	When             string         `hcl:"when,optional"`
	Name             string         `hcl:"name,optional"`
	Command          string         `hcl:"command,optional"`
	Shell            string         `hcl:"shell,optional"`
	Environment      hcl.Expression `hcl:"environment,optional"`
	WorkingDirectory string         `hcl:"working_directory,optional"`
	NoOutputTimeout  string         `hcl:"no_output_timeout,optional"`
	Key              string         `hcl:"key,optional"`
	Keys             []string       `hcl:"keys,optional"`
	Paths            []string       `hcl:"paths,optional"`
	Path             string         `hcl:"path,optional"`
	Destination      string         `hcl:"destination,optional"`
	Root             string         `hcl:"root,optional"`
	At               string         `hcl:"at,optional"`
	Image            string         `hcl:"image,optional"`
	Dockerfile       string         `hcl:"dockerfile,optional"`
	Context          string         `hcl:"context,optional"`
	BuildArgs        hcl.Expression `hcl:"build_args,optional"`
	Push             bool           `hcl:"push,optional"`
	Auth             *authBlock     `hcl:"auth,block"`
}

type workflowBlock struct {
	Name     string              `hcl:"name,label"`
	Triggers []*triggerBlock     `hcl:"trigger,block"`
	Jobs     []*workflowJobBlock `hcl:"job,block"`
}

type triggerBlock struct {
	Event   string       `hcl:"event,label"`
	Cron    string       `hcl:"cron,optional"`
	Filters *filterBlock `hcl:"filters,block"`
}

type filterBlock struct {
	Only   []string `hcl:"only,optional"`
	Ignore []string `hcl:"ignore,optional"`
}

type workflowJobBlock struct {
	Job        string         `hcl:"job,label"`
	Name       string         `hcl:"name,optional"`
	Requires   []string       `hcl:"requires,optional"`
	Context    []string       `hcl:"context,optional"`
	Parameters hcl.Expression `hcl:"parameters,optional"`
	Matrix     *matrixBlock   `hcl:"matrix,block"`
	Filters    *filterBlock   `hcl:"filters,block"`
}

type matrixBlock struct {
	Alias      string         `hcl:"alias,optional"`
	Parameters hcl.Expression `hcl:"parameters"`
	Exclude    hcl.Expression `hcl:"exclude,optional"`
}
