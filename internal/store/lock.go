package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked is returned by AcquireLock when another live process holds the
// lock.
var ErrLocked = errors.New("lock is held by another process")

// LockedError names the process holding a lock.
type LockedError struct {
	Path string
	PID  int
}

func (e *LockedError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s is held by running process %d", e.Path, e.PID)
	}
	return fmt.Sprintf("%s is held by a running process; remove it if no promptsmith process is running", e.Path)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// Lock is an exclusive, cross-process lock backed by a pid file.
type Lock struct {
	path string
}

// AcquireLock creates path exclusively and writes the current pid into it.
// A lock file left behind by a process that no longer exists is replaced.
func AcquireLock(path string) (*Lock, error) {
	cleanPath, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for lock %q: %w", cleanPath, err)
	}
	for attempt := 0; ; attempt++ {
		err := createLockFile(cleanPath)
		if err == nil {
			return &Lock{path: cleanPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		pid, held := lockHolder(cleanPath)
		if held || attempt > 0 {
			return nil, &LockedError{Path: cleanPath, PID: pid}
		}
		if err := os.Remove(cleanPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock %q: %w", cleanPath, err)
		}
	}
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock %q: %w", l.path, err)
	}
	return nil
}

func createLockFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write lock %q: %w", path, err)
	}
	return f.Close()
}

// lockHolder reports the pid recorded in a lock file and whether that
// process is alive. An unreadable or empty file counts as held, since its
// writer may still be filling it in.
func lockHolder(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, !errors.Is(err, os.ErrNotExist)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, true
	}
	return pid, processAlive(pid)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
