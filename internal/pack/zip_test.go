package pack

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func sealedPack(t *testing.T, ids []string) string {
	t.Helper()
	workRoot, artifacts := makeWorkTree(t, ids)
	packDir := filepath.Join(t.TempDir(), "pack")
	if _, err := Build(workRoot, packDir, artifacts); err != nil {
		t.Fatal(err)
	}
	zipPath := filepath.Join(t.TempDir(), "pack.zip")
	if err := Seal(packDir, zipPath); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	return zipPath
}

func TestSeal_DeterministicAcrossRuns(t *testing.T) {
	ids := []string{"ev_0001", "ev_0002", "ev_0003"}
	a := sealedPack(t, ids)
	b := sealedPack(t, ids)

	sumA, err := FileDigest(a)
	if err != nil {
		t.Fatal(err)
	}
	sumB, err := FileDigest(b)
	if err != nil {
		t.Fatal(err)
	}
	if sumA != sumB {
		t.Errorf("identical inputs produced different archives: %s vs %s", sumA, sumB)
	}
}

func TestSeal_DifferentInputsDiffer(t *testing.T) {
	a := sealedPack(t, []string{"ev_0001"})
	b := sealedPack(t, []string{"ev_0002"})

	sumA, _ := FileDigest(a)
	sumB, _ := FileDigest(b)
	if sumA == sumB {
		t.Error("different inputs produced the same archive digest")
	}
}

func TestSeal_CanonicalEntryOrder(t *testing.T) {
	zipPath := sealedPack(t, []string{"ev_0002", "ev_0001"})

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("entries not in canonical order: %v", names)
		}
	}
	if names[0] != "README.txt" {
		t.Errorf("first entry = %q", names[0])
	}
	for _, f := range r.File {
		if !f.Modified.Equal(fixedZipTime) {
			t.Errorf("%s: entry time = %v, want fixed", f.Name, f.Modified)
		}
	}
}

func TestSeal_EmptyTreeFails(t *testing.T) {
	if err := Seal(t.TempDir(), filepath.Join(t.TempDir(), "pack.zip")); err == nil {
		t.Fatal("expected error sealing an empty tree")
	}
}

func TestWriteDigestVerify(t *testing.T) {
	zipPath := sealedPack(t, []string{"ev_0001"})

	sum, err := WriteDigest(zipPath)
	if err != nil {
		t.Fatalf("WriteDigest() error = %v", err)
	}
	if len(sum) != 64 {
		t.Fatalf("digest = %q", sum)
	}

	got, err := Verify(zipPath, DigestPath(zipPath))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != sum {
		t.Errorf("verified digest %s, want %s", got, sum)
	}
}

func TestVerify_TamperDetected(t *testing.T) {
	zipPath := sealedPack(t, []string{"ev_0001"})
	if _, err := WriteDigest(zipPath); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(zipPath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{0}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := Verify(zipPath, DigestPath(zipPath)); err == nil {
		t.Fatal("expected digest mismatch after tampering")
	}
}

func TestVerify_MalformedDigestFile(t *testing.T) {
	zipPath := sealedPack(t, []string{"ev_0001"})
	digestPath := filepath.Join(t.TempDir(), "bad.sha256")
	if err := os.WriteFile(digestPath, []byte("nonsense\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(zipPath, digestPath); err == nil {
		t.Fatal("expected error for malformed digest file")
	}
}
