package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

// FileBackend keeps one JSON document per record at <dir>/<kind>/<id>.json.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(kind domain.Kind, id string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown record kind %q", contractx.ErrValidation, kind)
	}
	id = strings.TrimSpace(id)
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: record id %q is not a valid file name", contractx.ErrValidation, id)
	}
	return filepath.Join(b.dir, string(kind), id+".json"), nil
}

func (b *FileBackend) Put(_ context.Context, kind domain.Kind, id string, payload []byte) error {
	path, err := b.path(kind, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create kind dir: %w", err)
	}
	// Temp file in the same directory, then rename over the target.
	if err := atomicwriter.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (b *FileBackend) Get(_ context.Context, kind domain.Kind, id string) ([]byte, error) {
	path, err := b.path(kind, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", contractx.ErrNotFound, kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (b *FileBackend) List(_ context.Context, kind domain.Kind) ([]string, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown record kind %q", contractx.ErrValidation, kind)
	}
	entries, err := os.ReadDir(filepath.Join(b.dir, string(kind)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s dir: %w", kind, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (b *FileBackend) Delete(_ context.Context, kind domain.Kind, id string) error {
	path, err := b.path(kind, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }
