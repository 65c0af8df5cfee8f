package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// tempPrefix marks in-progress writes; ListObjects never returns them.
const tempPrefix = ".tmp-"

// LocalStorage implements ObjectStorage using the local filesystem.
// Several LocalStorage values may share one basePath: create-if-absent puts
// are resolved by the filesystem (hard links fail on existing targets), so
// no in-process state is needed to arbitrate between them.
type LocalStorage struct {
	basePath string
	mu       sync.Mutex // serializes etag-conditional puts within this instance
}

// NewLocalStorage creates a new local filesystem storage rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Upload copies localPath to objectPath, replacing any existing object.
// The object appears atomically via rename.
func (l *LocalStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := l.stage(localPath, objectPath)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, l.fullPath(objectPath)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return nil
}

// UploadMultipart behaves like Upload and returns the object's ETag.
func (l *LocalStorage) UploadMultipart(ctx context.Context, localPath, objectPath string) (string, error) {
	if err := l.Upload(ctx, localPath, objectPath); err != nil {
		return "", err
	}
	etag, err := l.GetETag(objectPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return etag, nil
}

// Download copies objectPath to localPath.
func (l *LocalStorage) Download(ctx context.Context, objectPath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return nil
}

// Delete removes an object. Like S3, deleting a missing object succeeds.
func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.fullPath(objectPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// Exists checks if an object exists in local storage.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ConditionalPut uploads only if the precondition is met.
func (l *LocalStorage) ConditionalPut(ctx context.Context, localPath, objectPath, etag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch etag {
	case "":
		return l.Upload(ctx, localPath, objectPath)
	case IfNoneMatch:
		return l.putIfAbsent(localPath, objectPath)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.GetETag(objectPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if current != etag {
		return ErrPreconditionFailed
	}
	return l.Upload(ctx, localPath, objectPath)
}

// putIfAbsent stages the file next to its destination and hard-links it into
// place. link(2) fails with EEXIST if another writer claimed the path first.
func (l *LocalStorage) putIfAbsent(localPath, objectPath string) error {
	tmp, err := l.stage(localPath, objectPath)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, l.fullPath(objectPath)); err != nil {
		if os.IsExist(err) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return nil
}

// stage copies localPath into a temp file in the destination directory.
func (l *LocalStorage) stage(localPath, objectPath string) (string, error) {
	destDir := filepath.Dir(l.fullPath(objectPath))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(destDir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return dst.Name(), nil
}

// GetETag returns the hex MD5 of the object's content, matching what S3
// reports for single-part uploads.
func (l *LocalStorage) GetETag(objectPath string) (string, error) {
	f, err := os.Open(l.fullPath(objectPath))
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ListObjects returns all object paths starting with prefix, sorted. As with
// S3 the prefix need not end at a directory boundary. Paths use forward
// slashes regardless of platform.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := l.fullPath(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		root = filepath.Dir(root)
	}

	var objects []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		if rel = filepath.ToSlash(rel); strings.HasPrefix(rel, prefix) {
			objects = append(objects, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(objects)
	return objects, nil
}

func (l *LocalStorage) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}
