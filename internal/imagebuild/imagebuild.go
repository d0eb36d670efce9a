// Package imagebuild builds and pushes container images for build_image
// steps by invoking the docker CLI, then resolves the pushed digest from the
// registry.
package imagebuild

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/runenv"
)

// Request describes one image build. Paths are host paths.
type Request struct {
	Image      string
	Dockerfile string
	Context    string
	BuildArgs  map[string]string
	Push       bool
	Auth       *runenv.Auth
	// Output receives the output of docker build and docker push.
	Output io.Writer
}

// Result is the outcome of a successful build.
type Result struct {
	Image  string
	Pushed bool
	Digest string
}

// DigestResolver returns the registry digest of a pushed image.
type DigestResolver func(ctx context.Context, ref name.Reference, auth *runenv.Auth) (string, error)

// Builder runs image builds through a CommandRunner.
type Builder struct {
	runner  runenv.CommandRunner
	resolve DigestResolver
	// nameOpts is passed to name.ParseReference, e.g. name.Insecure for
	// plain-HTTP registries.
	nameOpts []name.Option
}

// Option customizes a Builder.
type Option func(*Builder)

// WithDigestResolver replaces the registry lookup.
func WithDigestResolver(r DigestResolver) Option {
	return func(b *Builder) { b.resolve = r }
}

// WithInsecureRegistries allows plain-HTTP registries.
func WithInsecureRegistries() Option {
	return func(b *Builder) { b.nameOpts = append(b.nameOpts, name.Insecure) }
}

// New creates a Builder.
func New(runner runenv.CommandRunner, opts ...Option) *Builder {
	b := &Builder{runner: runner, resolve: RemoteDigest}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs docker build and, if requested, docker login and docker push.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("image", req.Image)

	ref, err := name.ParseReference(req.Image, b.nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid image reference %q: %w", req.Image, err)
	}
	out := req.Output
	if out == nil {
		out = io.Discard
	}

	args := []string{"build", "--tag", req.Image}
	if req.Dockerfile != "" {
		args = append(args, "--file", req.Dockerfile)
	}
	// Values travel through the environment so they never show up in argv.
	var env []string
	for _, k := range sortedKeys(req.BuildArgs) {
		args = append(args, "--build-arg", k)
		env = append(env, k+"="+req.BuildArgs[k])
	}
	args = append(args, req.Context)

	logger.Debug("Building image.", "context", req.Context)
	if err := b.runner.Run(ctx, runenv.Command{Name: "docker", Args: args, Env: env, Stdout: out, Stderr: out}); err != nil {
		return nil, fmt.Errorf("docker build failed for %s: %w", req.Image, err)
	}

	res := &Result{Image: req.Image}
	if !req.Push {
		return res, nil
	}

	if req.Auth != nil {
		if err := runenv.Login(ctx, b.runner, ref.Context().RegistryStr(), *req.Auth); err != nil {
			return nil, fmt.Errorf("registry login failed for %s: %w", req.Image, err)
		}
	}
	logger.Debug("Pushing image.")
	if err := b.runner.Run(ctx, runenv.Command{Name: "docker", Args: []string{"push", req.Image}, Stdout: out, Stderr: out}); err != nil {
		return nil, fmt.Errorf("docker push failed for %s: %w", req.Image, err)
	}
	res.Pushed = true

	digest, err := b.resolve(ctx, ref, req.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve digest of %s: %w", req.Image, err)
	}
	res.Digest = digest
	logger.Info("📦 Image pushed.", "digest", digest)
	return res, nil
}

// RemoteDigest asks the registry for the manifest digest of ref. Without
// explicit credentials the default docker keychain is used.
func RemoteDigest(ctx context.Context, ref name.Reference, auth *runenv.Auth) (string, error) {
	opts := []remote.Option{remote.WithContext(ctx), remote.WithUserAgent("pipegrid")}
	if auth != nil {
		opts = append(opts, remote.WithAuth(&authn.Basic{Username: auth.Username, Password: auth.Password}))
	} else {
		opts = append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	}
	desc, err := remote.Head(ref, opts...)
	if err != nil {
		return "", err
	}
	return desc.Digest.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
