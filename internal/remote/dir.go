package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirBlobStore writes blobs under a local directory, typically a mounted
// network share.
type DirBlobStore struct {
	root string
}

// NewDirBlobStore creates root if needed.
func NewDirBlobStore(root string) (*DirBlobStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob dir: %w", err)
	}
	return &DirBlobStore{root: abs}, nil
}

// Upload writes to a temp file and renames it into place so readers never
// see a partial object.
func (d *DirBlobStore) Upload(ctx context.Context, p string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Network("upload", err)
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", Rejected("upload", "path escapes blob root", nil)
	}
	dst := filepath.Join(d.root, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", Network("upload", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", Network("upload", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", Network("upload", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", Network("upload", err)
	}
	if err := tmp.Close(); err != nil {
		return "", Network("upload", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", Network("upload", err)
	}
	return "file://" + filepath.ToSlash(dst), nil
}

func (d *DirBlobStore) Close() error {
	return nil
}
