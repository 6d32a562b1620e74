// Package failurelog stores fetch failures as "<url>::<error>" lines so a
// later recovery pass can retry them.
package failurelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Separator divides the URL from the error text on each line.
const Separator = "::"

// Record is one parsed failure line.
type Record struct {
	URL   string
	Error string
}

var lineFlattener = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Log appends failure records to a file. Each write opens, appends and
// closes the file so records survive an abrupt exit.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns a Log for path. The file is created on first write.
func Open(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("failure log path is required")
	}
	return &Log{path: path}, nil
}

// Path returns the file the log writes to.
func (l *Log) Path() string {
	return l.path
}

// Record appends one line for url. Newlines in cause are flattened so every
// record stays on one line.
func (l *Log) Record(url string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	line := lineFlattener.Replace(url) + Separator + lineFlattener.Replace(msg) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append failure log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close failure log: %w", err)
	}
	return nil
}

// ParseLine splits a log line. The URL is the text before the first
// separator, trimmed; a line without a separator is treated as a bare URL.
func ParseLine(line string) Record {
	urlPart, errPart, _ := strings.Cut(line, Separator)
	return Record{URL: strings.TrimSpace(urlPart), Error: strings.TrimSpace(errPart)}
}

// Read parses every line of r, skipping lines whose URL is blank.
func Read(r io.Reader) ([]Record, error) {
	var out []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		rec := ParseLine(scanner.Text())
		if rec.URL == "" {
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan failure log: %w", err)
	}
	return out, nil
}

// ReadFile parses the log at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

// UniqueURLs returns the distinct URLs of records in first-seen order.
func UniqueURLs(records []Record) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.URL]; ok {
			continue
		}
		seen[rec.URL] = struct{}{}
		out = append(out, rec.URL)
	}
	return out
}
