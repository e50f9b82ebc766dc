// Package storage defines the StorageTarget capability interface (§6) and a
// minimal local-directory backend used to exercise it in tests. Concrete
// production backends (filesystem, zip, browser storage) are out-of-scope
// collaborators per spec.md §1; this package ships only the interface the
// rest of the module depends on, plus the one reference implementation
// needed so the builder/reader/export packages have something concrete to
// test against.
package storage

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hipsgo/hips/internal/herr"
)

// Target is the abstract persistence capability the builder, reader, and
// export engine depend on. Implementations must tolerate concurrent
// WriteBinary calls to distinct paths (§5).
type Target interface {
	WriteBinary(ctx context.Context, path string, data []byte) error
	WriteText(ctx context.Context, path string, text string) error
	ReadBinary(ctx context.Context, path string) ([]byte, error)
	ReadText(ctx context.Context, path string) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// NormalizePath converts a path to forward slashes and strips every leading
// slash, so "/a/b" and "//a/b" both become "a/b".
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "//") {
		p = p[1:]
	}
	return strings.TrimPrefix(p, "/")
}

// LocalDir is a StorageTarget backed by a local directory. It is a test and
// reference collaborator, not a production storage backend (spec.md §1
// places filesystem backends out of scope as a shipped product surface).
type LocalDir struct {
	root string
}

// NewLocalDir creates a LocalDir rooted at dir. The directory must already
// exist.
func NewLocalDir(dir string) *LocalDir {
	return &LocalDir{root: dir}
}

func (l *LocalDir) abs(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(NormalizePath(p)))
}

// WriteBinary writes data atomically: it writes to a uuid-suffixed temp
// file in the destination directory, then renames over the final path, so
// concurrent writers to distinct paths never observe a partial file.
func (l *LocalDir) WriteBinary(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return herr.Cancelled(herr.CodeOperationCancelled, "write cancelled")
	}
	dest := l.abs(p)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return herr.Io(herr.CodeNotFound, "creating parent directory", err)
	}
	tmp := dest + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return herr.Io(herr.CodeNotFound, "writing temp file", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return herr.Io(herr.CodeNotFound, "renaming temp file into place", err)
	}
	return nil
}

// WriteText writes a UTF-8 string via WriteBinary.
func (l *LocalDir) WriteText(ctx context.Context, p string, text string) error {
	return l.WriteBinary(ctx, p, []byte(text))
}

// ReadBinary reads a file's contents.
func (l *LocalDir) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, herr.Cancelled(herr.CodeOperationCancelled, "read cancelled")
	}
	data, err := os.ReadFile(l.abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, herr.Io(herr.CodeNotFound, "path not found: "+p, err)
		}
		return nil, herr.Io(herr.CodeNotFound, "reading file", err)
	}
	return data, nil
}

// ReadText reads a file's contents as a UTF-8 string.
func (l *LocalDir) ReadText(ctx context.Context, p string) (string, error) {
	data, err := l.ReadBinary(ctx, p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Exists reports whether a path exists under the root.
func (l *LocalDir) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, herr.Cancelled(herr.CodeOperationCancelled, "exists check cancelled")
	}
	_, err := os.Stat(l.abs(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, herr.Io(herr.CodeNotFound, "stat failed", err)
}

// ListPaths walks the directory tree and returns every file path relative
// to the root, forward-slash normalized. Satisfies internal/lint's
// Enumerator capability (4.J is only reachable against sources that can
// enumerate themselves).
func (l *LocalDir) ListPaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.Walk(l.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, NormalizePath(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, herr.Io(herr.CodeNotFound, "walking directory", err)
	}
	if ctx.Err() != nil {
		return nil, herr.Cancelled(herr.CodeOperationCancelled, "list paths cancelled")
	}
	return paths, nil
}

// Join normalizes and joins path segments with forward slashes, matching
// the on-disk layout's convention regardless of host OS.
func Join(segments ...string) string {
	return NormalizePath(path.Join(segments...))
}
