package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvRootDir, root)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.RootDir != root {
		t.Fatalf("RootDir=%s, want %s", cfg.RootDir, root)
	}
	if !cfg.AutoStart {
		t.Fatal("AutoStart=false, want true")
	}
	if cfg.Socket.Port != 8765 || cfg.Socket.MaxConnections != 4 || cfg.Socket.HandleTimeout != 120*time.Second {
		t.Fatalf("socket=%+v, want stock defaults", cfg.Socket)
	}
	if cfg.Render.MaxWidth != 1920 || cfg.Render.MaxHeight != 1080 {
		t.Fatalf("render max=%dx%d, want 1920x1080", cfg.Render.MaxWidth, cfg.Render.MaxHeight)
	}
	if cfg.Render.MinInterval != 500*time.Millisecond || cfg.Render.CleanupEvery != 5 {
		t.Fatalf("render interval=%s cleanup_every=%d, want 500ms 5", cfg.Render.MinInterval, cfg.Render.CleanupEvery)
	}
	if len(cfg.Render.UnstableEngines) != 1 || cfg.Render.UnstableEngines[0] != "BLENDER_EEVEE_NEXT" {
		t.Fatalf("unstable engines=%v, want [BLENDER_EEVEE_NEXT]", cfg.Render.UnstableEngines)
	}
	if cfg.Panel.Addr() != "127.0.0.1:8766" || cfg.Panel.StatusInterval != time.Second {
		t.Fatalf("panel=%+v, want 127.0.0.1:8766 every 1s", cfg.Panel)
	}
	if want := filepath.Join(root, "data", "logs"); cfg.Log.File.Path != want {
		t.Fatalf("log path=%s, want %s", cfg.Log.File.Path, want)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("log format=%s, want json", cfg.Log.Format)
	}
	if cfg.Log.File.Name != "render-bridge.log" {
		t.Fatalf("log name=%s, want render-bridge.log", cfg.Log.File.Name)
	}
}

func TestLoadMergesConfFile(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvRootDir, root)
	writeFile(t, filepath.Join(root, "conf.yaml"), `
socket:
  port: 9100
render:
  cleanup_every: 3
  temp_dir: renders
scene:
  path: scenes/studio.yaml
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Socket.Port != 9100 || cfg.Render.CleanupEvery != 3 {
		t.Fatalf("port=%d cleanup_every=%d, want 9100 3", cfg.Socket.Port, cfg.Render.CleanupEvery)
	}
	if cfg.Socket.Host != "127.0.0.1" || cfg.Render.MaxWidth != 1920 {
		t.Fatalf("unset keys lost defaults: host=%s max_width=%d", cfg.Socket.Host, cfg.Render.MaxWidth)
	}
	if want := filepath.Join(root, "renders"); cfg.Render.TempDir != want {
		t.Fatalf("temp_dir=%s, want %s", cfg.Render.TempDir, want)
	}
	if want := filepath.Join(root, "scenes", "studio.yaml"); cfg.Scene.Path != want {
		t.Fatalf("scene path=%s, want %s", cfg.Scene.Path, want)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvRootDir, t.TempDir())
	t.Setenv("BRIDGE_SOCKET_PORT", "7001")
	t.Setenv("BRIDGE_RENDER_MIN_INTERVAL", "1s")
	t.Setenv("BRIDGE_AUTO_START", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Socket.Port != 7001 {
		t.Fatalf("port=%d, want 7001", cfg.Socket.Port)
	}
	if cfg.Render.MinInterval != time.Second {
		t.Fatalf("min_interval=%s, want 1s", cfg.Render.MinInterval)
	}
	if cfg.AutoStart {
		t.Fatal("AutoStart=true, want false from env")
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	t.Setenv(EnvRootDir, "")
	root := t.TempDir()
	path := filepath.Join(root, "config", "bridge.yaml")
	writeFile(t, path, "panel:\n  enabled: false\n  port: 9200\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RootDir != root {
		t.Fatalf("RootDir=%s, want %s", cfg.RootDir, root)
	}
	if cfg.Panel.Enabled || cfg.Panel.Port != 9200 {
		t.Fatalf("panel=%+v, want disabled on 9200", cfg.Panel)
	}

	if _, err := LoadConfig(filepath.Join(root, "missing.yaml")); err == nil {
		t.Fatal("LoadConfig with missing file error=nil, want non-nil")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvRootDir, root)
	writeFile(t, filepath.Join(root, "conf.yaml"), "render:\n  default_format: tiff\n")
	if _, err := Load(); err == nil {
		t.Fatal("Load with tiff default format error=nil, want non-nil")
	}

	writeFile(t, filepath.Join(root, "conf.yaml"), "render:\n  min_width: 4000\n")
	if _, err := Load(); err == nil {
		t.Fatal("Load with min above max error=nil, want non-nil")
	}
}

func TestScanScenesAndResolve(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_studio.yaml"), "scene:\n  name: Studio\n")
	writeFile(t, filepath.Join(dir, "b_street.yml"), "scene:\n  name: Street\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "c_broken.yaml"), "scene: [\n")

	scenes, err := ScanScenes(dir)
	if err != nil {
		t.Fatalf("ScanScenes returned error: %v", err)
	}
	if len(scenes) != 3 {
		t.Fatalf("scenes=%+v, want 3 yaml fixtures", scenes)
	}
	if scenes[0].Name != "Studio" || scenes[1].Name != "Street" || scenes[2].Name != "c_broken.yaml" {
		t.Fatalf("scenes=%+v, want Studio, Street, c_broken.yaml", scenes)
	}

	path, err := SceneConfig{Path: dir, Name: "Street"}.Resolve()
	if err != nil || path != filepath.Join(dir, "b_street.yml") {
		t.Fatalf("Resolve(Street)=%s,%v, want b_street.yml", path, err)
	}
	path, err = SceneConfig{Path: dir}.Resolve()
	if err != nil || path != filepath.Join(dir, "a_studio.yaml") {
		t.Fatalf("Resolve()=%s,%v, want first fixture", path, err)
	}
	if _, err := (SceneConfig{Path: dir, Name: "Moon"}).Resolve(); err == nil {
		t.Fatal("Resolve(Moon) error=nil, want non-nil")
	}
	if path, err := (SceneConfig{}).Resolve(); err != nil || path != "" {
		t.Fatalf("Resolve(empty)=%q,%v, want built-in", path, err)
	}
}
