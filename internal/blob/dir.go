// Package blob provides the object stores that hold gallery image
// content: S3-compatible storage for production and a local directory
// for development.
package blob

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/amaradri/gallery-admin/internal/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	dirPerm  = fs.FileMode(0o755)
	filePerm = fs.FileMode(0o644)
)

// Dir stores blobs as files under a root directory. Keys map to relative
// paths; writes go to a temp file first and are renamed into place so a
// reader never sees a partial image.
type Dir struct {
	root       string
	publicBase string
	mu         sync.RWMutex
}

// NewDir creates a store rooted at root, creating the directory if it
// does not exist. publicBase is the URL prefix under which the files are
// served, for example "http://localhost:8080/blobs".
func NewDir(root, publicBase string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("blob directory must not be empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving blob directory %s: %w", root, err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating blob directory %s: %w", abs, err)
	}

	// Symlinked roots (macOS /var, some CI tmp dirs) must compare equal
	// to the EvalSymlinks results in resolve.
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}

	return &Dir{root: abs, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

// Root returns the directory holding the blobs.
func (d *Dir) Root() string {
	return d.root
}

// Upload writes r to key, replacing any existing blob.
func (d *Dir) Upload(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	absPath, err := d.resolve(key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", key, err)
	}

	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing %s: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", key, err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting mode for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, absPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s into place: %w", key, err)
	}

	return nil
}

// URL returns the public URL of key. It fails with errors.ErrBlobNotFound
// when no blob is stored under key.
func (d *Dir) URL(_ context.Context, key string) (string, error) {
	absPath, err := d.resolve(key)
	if err != nil {
		return "", err
	}

	d.mu.RLock()
	info, err := os.Stat(absPath)
	d.mu.RUnlock()

	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", key, apperrors.ErrBlobNotFound)
		}

		return "", fmt.Errorf("stat %s: %w", key, err)
	}

	if info.IsDir() {
		return "", fmt.Errorf("%s: %w", key, apperrors.ErrBlobNotFound)
	}

	return d.publicBase + "/" + escapeKey(normalizeKey(key)), nil
}

// Delete removes the blob under key. Deleting a missing key is not an
// error.
func (d *Dir) Delete(_ context.Context, key string) error {
	absPath, err := d.resolve(key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", key, err)
	}

	return nil
}

// ServeHTTP serves the blob named by the request path, relative to the
// handler's mount point.
func (d *Dir) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")

	absPath, err := d.resolve(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	d.mu.RLock()
	f, err := os.Open(absPath) //nolint:gosec // G304: absPath validated by Dir.resolve
	d.mu.RUnlock()

	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// resolve converts a key to an absolute path within the root directory,
// rejecting traversal attempts. Validates against null bytes, ".."
// segments, and symlinks that escape the root.
func (d *Dir) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}

	if strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("key contains null byte: %q", key)
	}

	key = normalizeKey(key)

	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return "", fmt.Errorf("key contains dot segment: %q", key)
		}

		if strings.HasPrefix(seg, ".upload-") {
			return "", fmt.Errorf("key uses reserved name: %q", key)
		}
	}

	absPath := filepath.Join(d.root, filepath.FromSlash(key))
	if !strings.HasPrefix(absPath, d.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal blocked: %q resolves outside blob dir", key)
	}

	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving symlinks for %q: %w", key, err)
		}

		// New blob: the nearest existing ancestor must stay inside root.
		parent := filepath.Dir(absPath)
		for {
			parentReal, pErr := filepath.EvalSymlinks(parent)
			if pErr == nil {
				if parentReal != d.root && !strings.HasPrefix(parentReal, d.root+string(os.PathSeparator)) {
					return "", fmt.Errorf("symlink traversal blocked: parent of %q resolves to %q outside blob dir", key, parentReal)
				}

				return absPath, nil
			}

			if parent == d.root {
				return absPath, nil
			}

			parent = filepath.Dir(parent)
		}
	}

	if !strings.HasPrefix(realPath, d.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("symlink traversal blocked: %q resolves to %q outside blob dir", key, realPath)
	}

	return absPath, nil
}

// normalizeKey converts separators to forward slashes, collapses repeated
// slashes, trims leading and trailing slashes and applies NFC.
func normalizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")

	parts := strings.Split(key, "/")
	kept := parts[:0]

	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}

	return norm.NFC.String(strings.Join(kept, "/"))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}

	return strings.Join(parts, "/")
}
