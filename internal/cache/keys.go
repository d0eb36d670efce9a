package cache

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/zeebo/blake3"
)

// KeyData is what a key template can reference.
type KeyData struct {
	Branch      string
	Revision    string
	Environment map[string]string
	// Checksum hashes a file named in the template. Paths are as written in
	// the pipeline; the caller resolves them in the job's environment.
	Checksum func(path string) (string, error)
	// Now is used by epoch; zero means time.Now.
	Now time.Time
}

// RenderKey expands a key template.
func RenderKey(tmpl string, data KeyData) (string, error) {
	now := data.Now
	if now.IsZero() {
		now = time.Now()
	}
	funcs := template.FuncMap{
		"checksum": func(path string) (string, error) {
			if data.Checksum == nil {
				return "", fmt.Errorf("checksum is not available")
			}
			return data.Checksum(path)
		},
		"arch":  func() string { return runtime.GOOS + "-" + runtime.GOARCH },
		"epoch": func() string { return strconv.FormatInt(now.Unix(), 10) },
	}

	t, err := template.New("key").Option("missingkey=error").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("invalid cache key %q: %w", tmpl, err)
	}
	env := data.Environment
	if env == nil {
		env = map[string]string{}
	}
	var b strings.Builder
	err = t.Execute(&b, struct {
		Branch      string
		Revision    string
		Environment map[string]string
	}{data.Branch, data.Revision, env})
	if err != nil {
		return "", fmt.Errorf("failed to render cache key %q: %w", tmpl, err)
	}
	key := strings.TrimSpace(b.String())
	if key == "" {
		return "", fmt.Errorf("cache key %q renders to an empty string", tmpl)
	}
	return key, nil
}

// FileChecksum returns the hex BLAKE3 digest of a host file.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
