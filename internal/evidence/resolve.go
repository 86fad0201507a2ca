package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FindVideo searches candidate directories in order for the referenced
// filename. First match wins; no match is a resource error that fails
// every event referencing the file.
func FindVideo(filename string, candidateDirs []string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("empty video filename")
	}
	checked := make([]string, 0, len(candidateDirs))
	for _, dir := range candidateDirs {
		p := filepath.Join(dir, filename)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
		checked = append(checked, p)
	}
	return "", fmt.Errorf("video not found: %s (checked %s)", filename, strings.Join(checked, ", "))
}

// artifactBase is the shared filename stem for one event's working
// artifacts: <event_id>_<video-stem>.
func artifactBase(rec Record) string {
	stem := strings.TrimSuffix(rec.VideoFilename, filepath.Ext(rec.VideoFilename))
	return rec.EventID + "_" + stem
}
