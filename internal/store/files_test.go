package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestWriteFileCreatesParentsAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prompts.jsonl")

	if err := WriteFile(path, []byte("old")); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := WriteFile(path, []byte("new")); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if got != "new" {
		t.Fatalf("expected new, got %q", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, got %d entries", len(entries))
	}
}

func TestAppendFileConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.jsonl")
	const writes = 100

	var wg sync.WaitGroup
	for i := 0; i < writes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := AppendFile(path, []byte("x\n")); err != nil {
				t.Errorf("append file: %v", err)
			}
		}()
	}
	wg.Wait()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != writes {
		t.Fatalf("expected %d lines, got %d", writes, len(lines))
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if err := AppendFile("  ", []byte("x")); err == nil || !strings.Contains(err.Error(), "path is required") {
		t.Fatalf("expected path error, got %v", err)
	}
}

func TestAppendAndScanJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	type event struct {
		ID   int    `json:"id"`
		Kind string `json:"kind"`
	}
	if err := AppendJSONL(path, event{ID: 1, Kind: "feedback"}, event{ID: 2, Kind: "feedback"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendFile(path, []byte("\n")); err != nil {
		t.Fatalf("append blank: %v", err)
	}
	if err := AppendJSONL(path, event{ID: 3, Kind: "processed"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	var lines []int
	var raw []string
	err := ScanJSONL(path, func(lineNo int, line []byte) error {
		lines = append(lines, lineNo)
		raw = append(raw, string(line))
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(raw) != 3 {
		t.Fatalf("expected 3 records, got %d: %v", len(raw), raw)
	}
	if lines[2] != 4 {
		t.Fatalf("expected blank line to be counted, got line numbers %v", lines)
	}
	if raw[2] != `{"id":3,"kind":"processed"}` {
		t.Fatalf("unexpected record: %s", raw[2])
	}
}

func TestScanJSONLMissingFileIsEmpty(t *testing.T) {
	called := false
	err := ScanJSONL(filepath.Join(t.TempDir(), "missing.jsonl"), func(int, []byte) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Fatalf("expected empty scan, got err=%v called=%v", err, called)
	}
}

func TestScanJSONLStopsOnCallbackError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	if err := RewriteJSONL(path, 1, 2, 3); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	stop := errors.New("stop")
	count := 0
	err := ScanJSONL(path, func(int, []byte) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || count != 2 {
		t.Fatalf("expected stop after 2 records, got err=%v count=%d", err, count)
	}
}
