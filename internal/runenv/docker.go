package runenv

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/uuid"
	"github.com/vk/pipegrid/internal/ctxlog"
)

// DefaultContainerHome is the working directory of a container job that does
// not set one.
const DefaultContainerHome = "/project"

// Auth holds resolved registry credentials.
type Auth struct {
	Username string
	Password string
}

// Docker runs steps in a container started from the job's image. The
// container idles on `sleep` and every step is a `docker exec`.
type Docker struct {
	image  string
	ref    name.Reference
	auth   *Auth
	home   string
	runner CommandRunner
	label  string

	containerID string
}

var _ Environment = (*Docker)(nil)

// NewDocker validates the image reference and returns an unstarted
// container environment. label names the container and should identify the
// job.
func NewDocker(image, workingDirectory, label string, auth *Auth, runner CommandRunner) (*Docker, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return nil, fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	home := resolvePath("/", workingDirectory)
	if workingDirectory == "" {
		home = DefaultContainerHome
	}
	return &Docker{
		image:  image,
		ref:    ref,
		auth:   auth,
		home:   home,
		runner: runner,
		label:  label,
	}, nil
}

// Image returns the fully qualified image reference.
func (d *Docker) Image() string { return d.ref.Name() }

func (d *Docker) Home() string { return d.home }

func (d *Docker) Path(p string) string { return resolvePath(d.home, p) }

// Prepare logs in when credentials are set, pulls the image and starts the
// container.
func (d *Docker) Prepare(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("image", d.image)

	if d.auth != nil && d.auth.Username != "" {
		registry := d.ref.Context().RegistryStr()
		logger.Debug("Logging in to registry.", "registry", registry)
		if err := Login(ctx, d.runner, registry, *d.auth); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrImagePull, d.image, err)
		}
	}

	logger.Debug("Pulling image.")
	if _, err := d.docker(ctx, nil, "pull", "--quiet", d.image); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrImagePull, d.image, err)
	}

	containerName := "pipegrid-" + sanitizeContainerName(d.label) + "-" + uuid.NewString()[:8]
	out, err := d.docker(ctx, nil,
		"run", "--detach", "--init",
		"--name", containerName,
		"--workdir", d.home,
		"--entrypoint", "sleep",
		d.image, "infinity",
	)
	if err != nil {
		return fmt.Errorf("failed to start container for %s: %w", d.image, err)
	}
	d.containerID = strings.TrimSpace(out)
	logger.Debug("Container started.", "container", d.containerID, "name", containerName)
	return nil
}

func (d *Docker) Exec(ctx context.Context, req ExecRequest) (int, error) {
	if d.containerID == "" {
		return -1, fmt.Errorf("container for %s is not running", d.image)
	}
	dir := d.Path(req.Dir)
	if _, err := d.docker(ctx, nil, "exec", d.containerID, "mkdir", "-p", dir); err != nil {
		return -1, err
	}

	// Values travel through the docker CLI's own environment so that secrets
	// never appear on a command line.
	args := []string{"exec", "--workdir", dir}
	env := envList(req.Env)
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		args = append(args, "--env", k)
	}
	args = append(args, d.containerID)
	args = append(args, shellArgs(req.Shell, req.Command)...)

	err := d.runner.Run(ctx, Command{
		Name:   "docker",
		Args:   args,
		Env:    env,
		Stdout: req.Output,
		Stderr: req.Output,
	})
	return execResult(ctx, err)
}

func (d *Docker) CopyIn(ctx context.Context, hostPath, envPath string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return err
	}
	dst := d.Path(envPath)
	src := hostPath
	mkdir := dst
	if info.IsDir() {
		// "src/." copies the directory's contents rather than the directory.
		src = filepath.Clean(hostPath) + string(filepath.Separator) + "."
	} else {
		mkdir = path.Dir(dst)
	}
	if _, err := d.docker(ctx, nil, "exec", d.containerID, "mkdir", "-p", mkdir); err != nil {
		return err
	}
	_, err = d.docker(ctx, nil, "cp", src, d.containerID+":"+dst)
	return err
}

func (d *Docker) CopyOut(ctx context.Context, envPath, hostPath string) error {
	src := d.Path(envPath)
	code, err := d.Exec(ctx, ExecRequest{Command: "test -e " + shellQuote(src), Output: &bytes.Buffer{}})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("copy out %s: %w", envPath, fs.ErrNotExist)
	}
	if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
		return err
	}
	_, err = d.docker(ctx, nil, "cp", d.containerID+":"+src, hostPath)
	return err
}

// Close force-removes the container. It uses a fresh context so cleanup
// still happens after the run was cancelled.
func (d *Docker) Close(ctx context.Context) error {
	if d.containerID == "" {
		return nil
	}
	ctxlog.FromContext(ctx).Debug("Removing container.", "container", d.containerID)
	_, err := d.docker(context.WithoutCancel(ctx), nil, "rm", "--force", d.containerID)
	d.containerID = ""
	return err
}

// docker runs a docker CLI command and returns its stdout. Failures include
// the command's stderr.
func (d *Docker) docker(ctx context.Context, env []string, args ...string) (string, error) {
	return runDocker(ctx, d.runner, env, nil, args...)
}

func runDocker(ctx context.Context, runner CommandRunner, env []string, stdin *strings.Reader, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := Command{Name: "docker", Args: args, Env: env, Stdout: &stdout, Stderr: &stderr}
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if err := runner.Run(ctx, cmd); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("docker %s: %w", args[0], err)
		}
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, msg)
	}
	return stdout.String(), nil
}

// Login runs `docker login` with the password on stdin.
func Login(ctx context.Context, runner CommandRunner, registry string, auth Auth) error {
	_, err := runDocker(ctx, runner, nil, strings.NewReader(auth.Password),
		"login", "--username", auth.Username, "--password-stdin", registry)
	return err
}

// Available reports whether the docker CLI can reach a daemon.
func Available(ctx context.Context, runner CommandRunner) bool {
	_, err := runDocker(ctx, runner, nil, nil, "version", "--format", "{{.Server.Version}}")
	return err == nil
}

func sanitizeContainerName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
