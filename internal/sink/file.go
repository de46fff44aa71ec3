package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var datasetName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// File appends one JSON line per record to <dir>/<dataset>.jsonl.
type File struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dataset dir %s: %w", dir, err)
	}
	return &File{dir: dir, files: make(map[string]*os.File)}, nil
}

func (f *File) Append(_ context.Context, dataset string, record any) error {
	if !datasetName.MatchString(dataset) {
		return fmt.Errorf("invalid dataset name %q", dataset)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, ok := f.files[dataset]
	if !ok {
		file, err = os.OpenFile(f.path(dataset), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open dataset %s: %w", dataset, err)
		}
		f.files[dataset] = file
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write dataset %s: %w", dataset, err)
	}
	return nil
}

func (f *File) Records(_ context.Context, dataset string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path(dataset))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", dataset, err)
	}
	defer file.Close()

	var out []json.RawMessage
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		out = append(out, line)
	}
	return out, scanner.Err()
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for name, file := range f.files {
		errs = append(errs, file.Close())
		delete(f.files, name)
	}
	return errors.Join(errs...)
}

func (f *File) path(dataset string) string {
	return filepath.Join(f.dir, dataset+".jsonl")
}
