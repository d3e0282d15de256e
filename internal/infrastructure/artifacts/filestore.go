// Package artifacts keeps generated stage outputs on local disk.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"NewsDigest/internal/domain"
)

// FileStore writes content-addressed artifacts under one directory, one subdirectory per stage.
type FileStore struct {
	dir string
}

// NewFileStore makes sure dir exists.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, domain.Configuration("artifacts directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

// Dir returns the absolute root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save stores data and returns its reference, the absolute file path.
// Identical content for the same stage maps to the same file.
func (s *FileStore) Save(stage domain.Stage, data []byte, ext string) (string, error) {
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:12])
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}

	stageDir := filepath.Join(s.dir, string(stage))
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return "", fmt.Errorf("create stage dir: %w", err)
	}

	path := filepath.Join(stageDir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	tmp, err := os.CreateTemp(stageDir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return path, nil
}

// Load reads an artifact previously returned by Save.
func (s *FileStore) Load(ref string) ([]byte, error) {
	rel, err := filepath.Rel(s.dir, filepath.Clean(ref))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("artifact %s is outside %s", ref, s.dir)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}
