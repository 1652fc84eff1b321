package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestArtifactPathsAreUnique(t *testing.T) {
	a := NewArtifacts(t.TempDir())
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		path, err := a.Path("req-1", "png")
		if err != nil {
			t.Fatalf("Path returned error: %v", err)
		}
		if _, dup := seen[path]; dup {
			t.Fatalf("duplicate artifact path %s", path)
		}
		seen[path] = struct{}{}
		if !strings.HasSuffix(path, ".png") || !strings.Contains(path, "_req-1_") {
			t.Fatalf("path=%s, want request id and .png suffix", path)
		}
	}
}

func TestArtifactRejectsUnsafeRequestID(t *testing.T) {
	a := NewArtifacts(t.TempDir())
	if _, err := a.Path("../escape", "png"); err == nil {
		t.Fatal("Path(../escape) error=nil, want non-nil")
	}
}

func TestArtifactReadAndRemove(t *testing.T) {
	a := NewArtifacts(t.TempDir())
	path, err := a.Path("r", ".JPG")
	if err != nil {
		t.Fatalf("Path returned error: %v", err)
	}
	if filepath.Ext(path) != ".jpg" {
		t.Fatalf("ext=%s, want .jpg", filepath.Ext(path))
	}
	if err := os.WriteFile(path, []byte("frame"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := a.Read(path)
	if err != nil || string(data) != "frame" {
		t.Fatalf("Read=%q,%v, want frame,nil", data, err)
	}
	if err := a.Remove(path); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("stat after remove err=%v, want not exist", err)
	}
	if err := a.Remove(path); err != nil {
		t.Fatalf("second Remove returned error: %v", err)
	}
}

func TestArtifactRefusesForeignPaths(t *testing.T) {
	a := NewArtifacts(t.TempDir())
	other := filepath.Join(t.TempDir(), artifactPrefix+"x.png")
	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := a.Remove(other); err == nil {
		t.Fatal("Remove(foreign) error=nil, want non-nil")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("foreign file removed: %v", err)
	}
}

func TestArtifactSweep(t *testing.T) {
	dir := t.TempDir()
	a := NewArtifacts(dir)
	stale := filepath.Join(dir, artifactPrefix+"stale.png")
	fresh := filepath.Join(dir, artifactPrefix+"fresh.png")
	keep := filepath.Join(dir, "unrelated.png")
	for _, p := range []string{stale, fresh, keep} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	old = time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(keep, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	n, err := a.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed=%d, want 1", n)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh artifact removed: %v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}
