package cache

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const manifestName = "manifest.json"

// manifest maps each archived slot back to the path it was saved from.
type manifest struct {
	Paths []string `json:"paths"`
}

// Pack writes a compressed archive of staging to w. staging must hold one
// entry per element of paths, named by its index ("0", "1", ...); missing
// slots are skipped, which lets callers ignore paths that did not exist.
func Pack(w io.Writer, staging string, paths []string) (err error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			zw.Close()
		}
	}()
	tw := tar.NewWriter(zw)

	data, err := json.Marshal(manifest{Paths: paths})
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{Name: manifestName, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}); err != nil {
		return err
	}
	if _, err := tw.Write(data); err != nil {
		return err
	}

	for i := range paths {
		slot := strconv.Itoa(i)
		root := filepath.Join(staging, slot)
		if _, err := os.Lstat(root); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := addTree(tw, root, slot); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

func addTree(tw *tar.Writer, root, prefix string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := path.Join(prefix, filepath.ToSlash(rel))
		info, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// Unpack extracts an archive written by Pack into staging and returns the
// original paths, indexed like the slots.
func Unpack(r io.Reader, staging string) ([]string, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	tr := tar.NewReader(zr)

	var m *manifest
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("corrupt cache archive: %w", err)
		}
		if hdr.Name == manifestName {
			m = &manifest{}
			if err := json.NewDecoder(tr).Decode(m); err != nil {
				return nil, fmt.Errorf("corrupt cache manifest: %w", err)
			}
			continue
		}
		if err := extractEntry(tr, hdr, staging); err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, errors.New("corrupt cache archive: manifest missing")
	}
	return m.Paths, nil
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, staging string) error {
	name := path.Clean(hdr.Name)
	if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
		return fmt.Errorf("corrupt cache archive: unsafe entry %q", hdr.Name)
	}
	target := filepath.Join(staging, filepath.FromSlash(name))
	mode := fs.FileMode(hdr.Mode).Perm()

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, mode|0o700)
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	// Other entry types are not produced by Pack.
	return nil
}
