// Package modelstore resolves task models to files on local disk.
package modelstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

type Files struct {
	Model    string `yaml:"model"`
	Metadata string `yaml:"metadata"`
}

// Fetcher returns local paths for a task's model, downloading if needed.
type Fetcher interface {
	Fetch(ctx context.Context, task string) (Files, error)
}

// ErrUnknownTask is returned when no model is registered for a task.
var ErrUnknownTask = errors.New("no model registered for task")

// LocalStore serves models already present under Dir.
type LocalStore struct {
	Dir    string
	Models map[string]Files
}

func (s *LocalStore) Fetch(_ context.Context, task string) (Files, error) {
	f, ok := s.Models[task]
	if !ok {
		return Files{}, errors.Wrap(ErrUnknownTask, task)
	}
	out := Files{
		Model:    s.resolve(f.Model),
		Metadata: s.resolve(f.Metadata),
	}
	for _, p := range []string{out.Model, out.Metadata} {
		if _, err := os.Stat(p); err != nil {
			return Files{}, errors.Wrapf(err, "model file for %s", task)
		}
	}
	return out, nil
}

func (s *LocalStore) resolve(p string) string {
	if filepath.IsAbs(p) || s.Dir == "" {
		return p
	}
	return filepath.Join(s.Dir, p)
}
