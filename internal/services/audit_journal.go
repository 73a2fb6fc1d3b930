package services

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"fixit/internal/models"
)

// AuditJournal is an append-only JSON-lines file of audit rows that could not
// be written to the database. Each line is one models.AuditLog.
type AuditJournal struct {
	path string
	mu   sync.Mutex
}

func NewAuditJournal(path string) *AuditJournal {
	return &AuditJournal{path: path}
}

func (j *AuditJournal) Path() string { return j.path }

// Append writes entries and syncs the file before returning.
func (j *AuditJournal) Append(entries ...*models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode audit row: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if dir := filepath.Dir(j.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Drain hands every journaled row to write. Rows write rejects stay in the
// journal; the rest are removed. Undecodable lines are kept verbatim.
func (j *AuditJournal) Drain(write func(*models.AuditLog) error) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var (
		kept    bytes.Buffer
		written int
		lastErr error
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry models.AuditLog
		if err := json.Unmarshal(line, &entry); err != nil {
			kept.Write(line)
			kept.WriteByte('\n')
			continue
		}
		if err := write(&entry); err != nil {
			lastErr = err
			kept.Write(line)
			kept.WriteByte('\n')
			continue
		}
		written++
	}
	if err := scanner.Err(); err != nil {
		return written, err
	}

	if kept.Len() == 0 {
		if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return written, err
		}
		return written, lastErr
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, kept.Bytes(), 0o600); err != nil {
		return written, err
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return written, err
	}
	return written, lastErr
}
