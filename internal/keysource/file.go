package keysource

import (
	"context"
	"fmt"
	"os"
)

// FileSource reads the key from a file, e.g. a mounted Kubernetes secret.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string { return "file:" + s.Path }

func (s *FileSource) Fetch(_ context.Context) (string, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("reading key file: %w", err)
	}
	return string(b), nil
}
