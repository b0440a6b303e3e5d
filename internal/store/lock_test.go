package store

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "smith.pid")

	lock, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	if want := strconv.Itoa(os.Getpid()) + "\n"; string(raw) != want {
		t.Fatalf("expected pid %q in lock, got %q", want, raw)
	}

	_, err = AcquireLock(path)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	var locked *LockedError
	if !errors.As(err, &locked) || locked.PID != os.Getpid() {
		t.Fatalf("expected holder pid %d, got %v", os.Getpid(), err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release lock: %v", err)
	}
	again, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := again.Release(); err != nil {
		t.Fatalf("release lock: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected lock file removed, got %v", err)
	}
}

func TestAcquireLockReplacesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smith.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(math.MaxInt32)+"\n"), 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	lock, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("expected stale lock to be replaced, got %v", err)
	}
	defer lock.Release()
}

func TestAcquireLockTreatsUnreadablePIDAsHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smith.pid")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write empty lock: %v", err)
	}

	if _, err := AcquireLock(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}
