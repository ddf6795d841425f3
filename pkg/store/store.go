package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/selcan/mira/internal/observability"
)

const (
	// maxScanLine bounds a single JSONL line; longer lines fail the scan
	maxScanLine = 10 * 1024 * 1024

	// maxQuarantineLine caps how much of a corrupt line is preserved
	maxQuarantineLine = 4096

	// logExcerptLen caps corrupt-line excerpts in log output
	logExcerptLen = 120
)

// QuarantinePath returns the sibling file corrupt lines are moved to
func QuarantinePath(path string) string {
	return path + ".quarantine"
}

// AppendJSONL marshals v and appends it as a single line to path,
// creating parent directories as needed. The write is synced to disk
// before returning. Concurrent appends to the same file are safe at the
// OS level; callers needing ordering must serialize themselves.
func AppendJSONL(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return nil
}

// ReadJSONL reads every well-formed line from path. Malformed lines are
// moved to the sibling quarantine file and the main file is rewritten
// clean, so a later read sees only valid entries. A corrupt line never
// aborts the read. A missing file yields no entries and no error.
func ReadJSONL(path string) ([]json.RawMessage, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var entries []json.RawMessage
	var corrupt []string

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanLine)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if line == "" {
			continue
		}

		if !json.Valid([]byte(line)) {
			log.Warn().
				Str("file", path).
				Int("line", lineNum).
				Str("excerpt", excerpt(line)).
				Msg("Quarantining corrupt line")
			corrupt = append(corrupt, line)
			continue
		}

		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		entries = append(entries, raw)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(corrupt) > 0 {
		quarantine(path, corrupt, entries)
	}

	return entries, nil
}

// quarantine appends the corrupt lines to the sibling file and rewrites
// the main file with only the surviving entries. Failures here are
// logged, never propagated: the read already succeeded.
func quarantine(path string, corrupt []string, survivors []json.RawMessage) {
	qPath := QuarantinePath(path)
	qFile, err := os.OpenFile(qPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		log.Error().Err(err).Str("file", qPath).Msg("Failed to open quarantine file")
		return
	}
	for _, line := range corrupt {
		if len(line) > maxQuarantineLine {
			line = line[:maxQuarantineLine]
		}
		if _, err := qFile.WriteString(line + "\n"); err != nil {
			log.Error().Err(err).Str("file", qPath).Msg("Failed to write quarantine line")
			break
		}
	}
	qFile.Close()

	raws := make([]interface{}, len(survivors))
	for i, e := range survivors {
		raws[i] = e
	}
	if err := RewriteJSONL(path, raws); err != nil {
		log.Error().Err(err).Str("file", path).Msg("Failed to rewrite file after quarantine")
		return
	}

	observability.AddQuarantinedLines(len(corrupt))

	log.Info().
		Str("file", path).
		Int("quarantined", len(corrupt)).
		Int("kept", len(survivors)).
		Msg("Corrupt lines quarantined")
}

// RewriteJSONL atomically replaces path with the given entries, one JSON
// line each. Two concurrent rewrites of the same file race
// last-writer-wins; each is individually atomic.
func RewriteJSONL(path string, entries []interface{}) error {
	var buf []byte
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	return WriteAtomic(path, buf)
}

// ReadJSON reads a whole-document JSON file into out. A missing file
// returns os.ErrNotExist wrapped for callers that treat it as empty.
func ReadJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// WriteJSON atomically writes v as an indented JSON document
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	return WriteAtomic(path, append(data, '\n'))
}

// WriteAtomic writes data to a uniquely suffixed temp file in the same
// directory, syncs it, then renames over path. The unique suffix keeps
// concurrent writers from clobbering each other's temp file; it does not
// serialize the final renames. The temp file is removed on failure.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	suffix, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate temp suffix: %w", err)
	}
	tempPath := path + ".tmp." + suffix

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	return nil
}

func excerpt(line string) string {
	if len(line) > logExcerptLen {
		return line[:logExcerptLen] + "..."
	}
	return line
}
