package content

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// FolderBackend stores content zstd-compressed in a local directory,
// content-addressed by sha256. Used in tests and single-host setups.
type FolderBackend struct {
	root string
}

func NewFolderBackend(root string) *FolderBackend {
	return &FolderBackend{root: root}
}

func (f *FolderBackend) path(hash string) string {
	return filepath.Join(f.root, filepath.FromSlash(shardKey(hash))+".zst")
}

// Put stores content and returns its hash. Deduplicates on hash.
func (f *FolderBackend) Put(ctx context.Context, data []byte) (string, error) {
	hash := HashBytes(data)
	p := f.path(hash)
	if _, err := os.Stat(p); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", err
	}
	fh, err := os.Create(p)
	if err != nil {
		return "", err
	}
	defer fh.Close()
	w, err := zstd.NewWriter(fh)
	if err != nil {
		os.Remove(p)
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		os.Remove(p)
		return "", err
	}
	if err := w.Close(); err != nil {
		os.Remove(p)
		return "", err
	}
	return hash, nil
}

func (f *FolderBackend) Exists(ctx context.Context, hash string) (bool, error) {
	if _, err := os.Stat(f.path(hash)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *FolderBackend) Fetch(ctx context.Context, hash string) ([]byte, error) {
	fh, err := os.Open(f.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer fh.Close()
	r, err := zstd.NewReader(fh)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", hash, err)
	}
	if got := HashBytes(data); got != hash {
		return nil, fmt.Errorf("content %s corrupt: stored bytes hash to %s", hash, got)
	}
	return data, nil
}
