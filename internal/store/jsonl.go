package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// maxLineBytes bounds one JSONL record; prompt texts can be long.
const maxLineBytes = 4 << 20

// AppendJSONL encodes each value as one JSON line and appends them in a
// single write.
func AppendJSONL(path string, values ...any) error {
	if len(values) == 0 {
		return nil
	}
	data, err := encodeJSONL(values)
	if err != nil {
		return err
	}
	return AppendFile(path, data)
}

// RewriteJSONL atomically replaces path with one JSON line per value.
func RewriteJSONL(path string, values ...any) error {
	data, err := encodeJSONL(values)
	if err != nil {
		return err
	}
	return WriteFile(path, data)
}

// ScanJSONL calls fn for every non-empty line of path, passing the 1-based
// line number. A missing file is treated as empty. Scanning stops at the
// first error returned by fn.
func ScanJSONL(path string, fn func(lineNo int, line []byte) error) error {
	cleanPath, err := cleanPath(path)
	if err != nil {
		return err
	}

	f, err := os.Open(cleanPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %q: %w", cleanPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %q: %w", cleanPath, err)
	}
	return nil
}

func encodeJSONL(values []any) ([]byte, error) {
	var b bytes.Buffer
	for _, v := range values {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		b.Write(encoded)
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}
