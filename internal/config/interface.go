package config

import (
	"context"
)

// Loader is the interface for a format-specific pipeline loader.
type Loader interface {
	// Load reads configuration from the given paths (files or directories),
	// translates it into the format-agnostic model, and returns it. The
	// returned pipeline has not been template-resolved or validated.
	Load(ctx context.Context, paths ...string) (*Pipeline, error)
}
