// Package changelog persists the append-only record of MAC change attempts,
// one JSON object per line.
package changelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"macshift/pkg/models"
)

// Log is an append-only change journal backed by a file.
type Log struct {
	path string
	mu   sync.Mutex
}

// New creates a change log writing to the given path.
func New(path string) *Log {
	return &Log{path: path}
}

// Append writes one entry to the end of the journal.
func (l *Log) Append(entry models.ChangeLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open change log: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode change log entry: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append change log entry: %w", err)
	}
	return nil
}

// Tail returns the last n entries, oldest first. A missing journal yields an
// empty slice.
func (l *Log) Tail(n int) ([]models.ChangeLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.ChangeLogEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open change log: %w", err)
	}
	defer file.Close()

	var entries []models.ChangeLogEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry models.ChangeLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// Skip corrupt lines rather than losing the whole journal.
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read change log: %w", err)
	}

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	if entries == nil {
		entries = []models.ChangeLogEntry{}
	}
	return entries, nil
}
