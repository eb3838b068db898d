package ledgersync

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherFiresOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	if err := os.WriteFile(path, []byte("101\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fired := make(chan struct{}, 1)
	watcher, err := NewWatcher(WatcherOptions{
		Path:     path,
		Debounce: 50 * time.Millisecond,
		OnChange: func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("NewWatcher returned error: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := os.WriteFile(path, []byte("101\n102\n"), 0o644); err != nil {
		t.Fatalf("update fixture: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not fire within 2s")
	}
}

func TestWatcherFiresOnRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.csv")
	if err := os.WriteFile(path, []byte("101\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fired := make(chan struct{}, 1)
	watcher, err := NewWatcher(WatcherOptions{
		Path:     path,
		Debounce: 50 * time.Millisecond,
		OnChange: func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("NewWatcher returned error: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	// Atomic writers replace the target via rename, the same way the CSV
	// ledger does.
	tmp := filepath.Join(dir, "ledger.csv.tmp")
	if err := os.WriteFile(tmp, []byte("101\n102\n"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not fire within 2s")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.csv")
	if err := os.WriteFile(path, []byte("101\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fired := make(chan struct{}, 1)
	watcher, err := NewWatcher(WatcherOptions{
		Path:     path,
		Debounce: 20 * time.Millisecond,
		OnChange: func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("NewWatcher returned error: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := os.WriteFile(filepath.Join(dir, "other.csv"), []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	select {
	case <-fired:
		t.Fatalf("watcher fired for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewWatcherValidatesOptions(t *testing.T) {
	if _, err := NewWatcher(WatcherOptions{OnChange: func() {}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing path: err = %v, want ErrInvalidInput", err)
	}
	if _, err := NewWatcher(WatcherOptions{Path: "ledger.csv"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing callback: err = %v, want ErrInvalidInput", err)
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	watcher, err := NewWatcher(WatcherOptions{Path: path, OnChange: func() {}})
	if err != nil {
		t.Fatalf("NewWatcher returned error: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
