package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestBatchDownloader_BasicDownload(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	srcDir := t.TempDir()

	var paths []string
	for i := 0; i < 10; i++ {
		p := fmt.Sprintf("table/_txn_log/%020d.json", i)
		src := filepath.Join(srcDir, fmt.Sprintf("src-%d", i))
		if err := os.WriteFile(src, []byte(p), 0644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}
		if err := store.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload failed for %s: %v", p, err)
		}
		paths = append(paths, p)
	}

	downloader := NewBatchDownloader(store, 3, filepath.Join(t.TempDir(), "dl"))
	result, err := downloader.Download(ctx, paths)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", result.Errors)
	}
	if err := result.Err(paths); err != nil {
		t.Fatalf("Err should be nil, got %v", err)
	}
	if len(result.LocalPaths) != len(paths) {
		t.Fatalf("expected %d local paths, got %d", len(paths), len(result.LocalPaths))
	}

	for _, p := range paths {
		data, err := os.ReadFile(result.LocalPaths[p])
		if err != nil {
			t.Fatalf("failed to read downloaded file %s: %v", p, err)
		}
		if string(data) != p {
			t.Errorf("content mismatch for %s: got %q", p, data)
		}
	}
}

func TestBatchDownloader_PartialFailure(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "src")
	if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := store.Upload(ctx, src, "present"); err != nil {
		t.Fatal(err)
	}

	downloader := NewBatchDownloader(store, 2, t.TempDir())
	order := []string{"present", "missing"}
	result, err := downloader.Download(ctx, order)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	if _, ok := result.LocalPaths["present"]; !ok {
		t.Error("expected present object to be downloaded")
	}
	if !errors.Is(result.Errors["missing"], ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound for missing, got %v", result.Errors["missing"])
	}
	if err := result.Err(order); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Err should surface the missing object, got %v", err)
	}
}

func TestBatchDownloader_Empty(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	result, err := NewBatchDownloader(store, 0, t.TempDir()).Download(context.Background(), nil)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if len(result.LocalPaths) != 0 || len(result.Errors) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}
