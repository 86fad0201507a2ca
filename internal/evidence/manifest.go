package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// ManifestName is the artifact manifest written into the working
// output root. It is the handoff between assembly and packaging: a
// later pack run reads it instead of re-deriving artifacts from the
// tree.
const ManifestName = "artifacts.json"

// WriteManifest persists the run's artifacts next to the working index.
func WriteManifest(path string, artifacts []Artifact) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifacts); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadManifest loads a previously written artifact manifest.
func ReadManifest(path string) ([]Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var artifacts []Artifact
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("manifest %s holds no artifacts", path)
	}
	return artifacts, nil
}
