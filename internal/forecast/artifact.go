package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Artifact errors.
var (
	// ErrArtifactMissing means no trained model exists yet. It is an
	// operational ordering problem (train before forecast), distinct from
	// not having enough data.
	ErrArtifactMissing = errors.New("trained model artifact not found")

	// ErrArtifactCorrupt means an artifact was read but its model and
	// contract do not form a usable pair.
	ErrArtifactCorrupt = errors.New("trained model artifact is corrupt")
)

// Artifact binds a fitted model one-to-one with the exact ordered feature
// column list it was trained on. The two are persisted as a single record
// so inference can never read a model against a mismatched contract.
type Artifact struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Contract  []string  `json:"contract"`
	Model     *Forest   `json:"model"`
}

// HasCity reports whether a city indicator column is part of the contract.
func (a *Artifact) HasCity(column string) bool {
	for _, c := range a.Contract {
		if c == column {
			return true
		}
	}
	return false
}

// Store persists and retrieves the pooled model artifact. Retraining
// overwrites the previous artifact; there is no rollback path.
type Store interface {
	Save(a *Artifact) error
	Load() (*Artifact, error)
}

// FileStore persists the artifact as a single JSON blob, published
// atomically via a temp file and rename so readers never observe a
// half-written model/contract pair.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore writing to the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the artifact atomically, replacing any previous one.
func (s *FileStore) Save(a *Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close artifact: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// Load reads and validates the artifact.
func (s *FileStore) Load() (*Artifact, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrArtifactMissing
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if a.Model == nil || len(a.Contract) == 0 {
		return nil, ErrArtifactCorrupt
	}
	return &a, nil
}
