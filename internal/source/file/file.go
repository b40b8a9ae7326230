package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// FileSource mirrors a local directory into the pipework root.
type FileSource struct {
	src  string
	dest string
}

func NewFileSource(c *Config) (*FileSource, error) {
	if _, err := os.Stat(c.Destination); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err := os.MkdirAll(c.Destination, 0o755); err != nil {
			return nil, err
		}
	}
	return &FileSource{src: c.SourcePath, dest: c.Destination}, nil
}

func (f *FileSource) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(f.dest); os.IsNotExist(err) {
		return fmt.Errorf("source destination path %v does not exist", f.dest)
	}
	if _, err := os.Stat(f.src); os.IsNotExist(err) {
		return fmt.Errorf("source directory %v does not exist", f.src)
	}
	same, err := samePath(f.src, f.dest)
	if err != nil {
		return err
	}
	if same {
		log.Debug("file source is the source directory, nothing to sync", "path", f.dest)
		return nil
	}
	inside, err := below(f.dest, f.src)
	if err != nil {
		return err
	}
	if inside {
		return fmt.Errorf("source directory %v is inside destination %v", f.src, f.dest)
	}
	entries, err := os.ReadDir(f.dest)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(f.dest, e.Name())); err != nil {
			return fmt.Errorf("error syncing filesystem: can't clear path: %w", err)
		}
	}
	if err := os.CopyFS(f.dest, os.DirFS(f.src)); err != nil {
		return fmt.Errorf("error syncing filesystem: can't copy fs: %w", err)
	}
	log.Debug("synced file source", "src", f.src, "dest", f.dest)
	return nil
}

func (f *FileSource) Clean() error {
	return os.RemoveAll(f.dest)
}

func samePath(a, b string) (bool, error) {
	aa, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	bb, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return aa == bb, nil
}

// below reports whether p is inside dir.
func below(dir, p string) (bool, error) {
	ad, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	ap, err := filepath.Abs(p)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(ad, ap)
	if err != nil {
		return false, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}
