package pack

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// fixedZipTime is the entry timestamp written into every archive
// member. Zip has no timezone; UTC keeps it stable across machines.
var fixedZipTime = time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)

// Seal writes srcDir into a zip archive at zipPath with canonical
// entry order and fixed entry timestamps. Filesystem traversal order
// never leaks into the archive: entries are sorted by relative path
// before writing.
func Seal(srcDir, zipPath string) error {
	var files []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk pack tree: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("nothing to seal under %s", srcDir)
	}
	sort.Strings(files)

	if err := os.Remove(zipPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(out)

	for _, rel := range files {
		hdr := &zip.FileHeader{
			Name:     rel,
			Method:   zip.Deflate,
			Modified: fixedZipTime,
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			out.Close()
			return err
		}
		f, err := os.Open(filepath.Join(srcDir, filepath.FromSlash(rel)))
		if err != nil {
			out.Close()
			return err
		}
		_, err = io.Copy(w, f)
		f.Close()
		if err != nil {
			out.Close()
			return fmt.Errorf("seal %s: %w", rel, err)
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("close archive: %w", err)
	}
	return out.Close()
}

// FileDigest returns the hex sha256 of the file contents.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestPath is where an archive's persisted digest lives.
func DigestPath(zipPath string) string {
	return zipPath + ".sha256"
}

// WriteDigest computes the archive digest post-seal and persists it in
// sha256sum format next to the archive. Returns the hex digest.
func WriteDigest(zipPath string) (string, error) {
	sum, err := FileDigest(zipPath)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(zipPath))
	if err := os.WriteFile(DigestPath(zipPath), []byte(line), 0o644); err != nil {
		return "", err
	}
	return sum, nil
}

// Verify recomputes the archive digest and compares it against the
// persisted one. Returns the verified digest.
func Verify(zipPath, digestPath string) (string, error) {
	data, err := os.ReadFile(digestPath)
	if err != nil {
		return "", fmt.Errorf("read digest file: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 || len(fields[0]) != hex.EncodedLen(sha256.Size) {
		return "", fmt.Errorf("malformed digest file %s", digestPath)
	}
	want := strings.ToLower(fields[0])

	got, err := FileDigest(zipPath)
	if err != nil {
		return "", err
	}
	if got != want {
		return "", fmt.Errorf("digest mismatch for %s: recorded %s, recomputed %s", zipPath, want, got)
	}
	return got, nil
}
