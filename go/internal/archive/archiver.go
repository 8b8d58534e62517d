package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/doodlegame/doodle/go/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ArtifactSuffix marks temporary artifacts so the sweeper can find leftovers.
const ArtifactSuffix = ".artifact.json"

// Document is the serialized form of an archived canvas.
type Document struct {
	Image     string          `json:"image"`
	Meta      events.Metadata `json:"meta,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Archiver writes a document to a temporary artifact and publishes it.
type Archiver struct {
	dir       string
	publisher Publisher
}

// NewArchiver stores artifacts under dir, or the OS temp dir when dir is empty.
func NewArchiver(dir string, publisher Publisher) *Archiver {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Archiver{dir: dir, publisher: publisher}
}

// Dir is where temporary artifacts are written.
func (a *Archiver) Dir() string {
	return a.dir
}

// Archive publishes doc and returns its content hash. The artifact is removed whether or
// not publishing succeeds.
func (a *Archiver) Archive(ctx context.Context, doc Document) (string, error) {
	if doc.Image == "" {
		return "", ErrEmptyImage
	}

	path, err := a.writeArtifact(doc)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("artifact", path).Msg("failed to remove artifact")
		}
	}()

	hash, err := a.publisher.Publish(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to publish artifact: %w", err)
	}
	return hash, nil
}

func (a *Archiver) writeArtifact(doc Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	path := filepath.Join(a.dir, uuid.NewString()+ArtifactSuffix)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	log.Debug().Str("artifact", path).Int("bytes", len(data)).Msg("artifact written")
	return path, nil
}
