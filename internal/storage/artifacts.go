package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const artifactPrefix = "bridge_render_"

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// Artifacts hands out collision-free transient paths for encoded frames.
// Nothing written here outlives the request that created it.
type Artifacts struct {
	dir string
}

// NewArtifacts returns artifact storage rooted at dir. An empty dir selects
// the OS temp directory.
func NewArtifacts(dir string) *Artifacts {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	return &Artifacts{dir: dir}
}

// Dir returns the artifact directory.
func (a *Artifacts) Dir() string {
	return a.dir
}

// Path returns a unique path for one render. The name embeds a random id,
// the request id and a nanosecond timestamp.
func (a *Artifacts) Path(requestID string, ext string) (string, error) {
	if requestID == "" {
		requestID = "anon"
	}
	if !safeNamePattern.MatchString(requestID) {
		return "", fmt.Errorf("invalid request id %q", requestID)
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if !safeNamePattern.MatchString(ext) {
		return "", fmt.Errorf("invalid extension %q", ext)
	}
	dir, err := ensureDir(a.dir)
	if err != nil {
		return "", err
	}
	name := artifactPrefix +
		strings.ReplaceAll(uuid.NewString(), "-", "") + "_" +
		requestID + "_" +
		fmt.Sprintf("%d", time.Now().UnixNano()) + "." + ext
	return filepath.Join(dir, name), nil
}

// Read returns the artifact bytes.
func (a *Artifacts) Read(path string) ([]byte, error) {
	if err := a.owns(path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Remove deletes the artifact. A missing file is not an error.
func (a *Artifacts) Remove(path string) error {
	if err := a.owns(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep removes artifacts older than maxAge left behind by a crashed process.
func (a *Artifacts) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), artifactPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (a *Artifacts) owns(path string) error {
	if filepath.Dir(path) != filepath.Clean(a.dir) {
		return errors.New("artifact outside storage dir")
	}
	if !strings.HasPrefix(filepath.Base(path), artifactPrefix) {
		return errors.New("invalid artifact path")
	}
	return nil
}

func ensureDir(path string) (string, error) {
	if path == "" {
		return "", errors.New("artifact dir is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
