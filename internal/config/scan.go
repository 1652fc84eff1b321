package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SceneFileInfo describes one scene fixture on disk.
type SceneFileInfo struct {
	Filename string `json:"filename"`
	Name     string `json:"name"`
}

type sceneFilePayload struct {
	Scene struct {
		Name string `yaml:"name"`
	} `yaml:"scene"`
}

// ScanScenes lists the YAML scene fixtures under dir, sorted by filename.
// Files that fail to parse are reported under their filename.
func ScanScenes(dir string) ([]SceneFileInfo, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	scenes := []SceneFileInfo{}
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d == nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		name := d.Name()
		if sceneName, err := ReadSceneName(path); err == nil && sceneName != "" {
			name = sceneName
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = d.Name()
		}
		scenes = append(scenes, SceneFileInfo{Filename: rel, Name: name})
		return nil
	})

	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Filename < scenes[j].Filename })
	return scenes, nil
}

// ReadSceneName returns the scene name declared by a fixture.
func ReadSceneName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var payload sceneFilePayload
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return "", err
	}
	return strings.TrimSpace(payload.Scene.Name), nil
}

// Resolve returns the fixture file to load, or "" for the built-in scene.
// A directory path picks the fixture whose scene is Name, or the first one
// when Name is empty.
func (s SceneConfig) Resolve() (string, error) {
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return "", nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("scene path: %w", err)
	}
	if !info.IsDir() {
		return path, nil
	}

	scenes, err := ScanScenes(path)
	if err != nil {
		return "", err
	}
	if len(scenes) == 0 {
		return "", fmt.Errorf("no scene fixtures in %s", path)
	}
	if s.Name == "" {
		return filepath.Join(path, scenes[0].Filename), nil
	}
	for _, scene := range scenes {
		if scene.Name == s.Name {
			return filepath.Join(path, scene.Filename), nil
		}
	}
	return "", fmt.Errorf("scene %q not found in %s", s.Name, path)
}
