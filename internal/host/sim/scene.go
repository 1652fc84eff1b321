package sim

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saker-ai/render-bridge/internal/host"
)

//go:embed default_scene.yaml
var defaultScene []byte

type sceneFile struct {
	Version string       `yaml:"version"`
	Scene   sceneSection `yaml:"scene"`
	Render  renderFile   `yaml:"render"`
	Objects []objectFile `yaml:"objects"`
}

type sceneSection struct {
	Name         string `yaml:"name"`
	FrameStart   int    `yaml:"frame_start"`
	FrameEnd     int    `yaml:"frame_end"`
	FrameCurrent int    `yaml:"frame_current"`
	Camera       string `yaml:"camera"`
}

type renderFile struct {
	Engine               string `yaml:"engine"`
	Device               string `yaml:"device"`
	ResolutionX          int    `yaml:"resolution_x"`
	ResolutionY          int    `yaml:"resolution_y"`
	ResolutionPercentage int    `yaml:"resolution_percentage"`
	FileFormat           string `yaml:"file_format"`
	ColorMode            string `yaml:"color_mode"`
	Quality              int    `yaml:"quality"`
	Compression          int    `yaml:"compression"`
	Samples              int    `yaml:"samples"`
	EeveeSamples         int    `yaml:"eevee_samples"`
	MotionBlur           bool   `yaml:"motion_blur"`
	PersistentData       bool   `yaml:"persistent_data"`
	FilePath             string `yaml:"file_path"`
}

type objectFile struct {
	Name     string      `yaml:"name"`
	Type     string      `yaml:"type"`
	Location [3]float64  `yaml:"location"`
	Rotation [3]float64  `yaml:"rotation"`
	Camera   *cameraFile `yaml:"camera"`
}

type cameraFile struct {
	Lens         float64    `yaml:"lens"`
	SensorWidth  float64    `yaml:"sensor_width"`
	SensorHeight float64    `yaml:"sensor_height"`
	SensorFit    string     `yaml:"sensor_fit"`
	Type         string     `yaml:"type"`
	ClipStart    float64    `yaml:"clip_start"`
	ClipEnd      float64    `yaml:"clip_end"`
	Shift        [2]float64 `yaml:"shift"`
	DOF          dofFile    `yaml:"dof"`
}

type dofFile struct {
	Use           bool    `yaml:"use"`
	FocusDistance float64 `yaml:"focus_distance"`
	ApertureFStop float64 `yaml:"aperture_fstop"`
}

// Default returns a host loaded with the built-in two camera scene.
func Default() (*Host, error) {
	return Parse(defaultScene)
}

// Load reads a YAML scene fixture from path.
func Load(path string) (*Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %s: %w", path, err)
	}
	h, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse scene %s: %w", path, err)
	}
	return h, nil
}

// Parse builds a host from YAML scene data.
func Parse(data []byte) (*Host, error) {
	var file sceneFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	h := newHost()
	h.version = file.Version
	if h.version == "" {
		h.version = "4.2.0"
	}
	h.scene = host.SceneInfo{
		Name:         file.Scene.Name,
		FrameStart:   file.Scene.FrameStart,
		FrameEnd:     file.Scene.FrameEnd,
		FrameCurrent: file.Scene.FrameCurrent,
	}
	if h.scene.Name == "" {
		h.scene.Name = "Scene"
	}
	h.settings = settingsFromFile(file.Render, file.Scene.Camera)

	for _, obj := range file.Objects {
		name := strings.TrimSpace(obj.Name)
		if name == "" {
			return nil, errors.New("object without name")
		}
		if _, exists := h.index[name]; exists {
			return nil, fmt.Errorf("duplicate object name %q", name)
		}
		o := &object{
			name:     name,
			kind:     host.ObjectType(strings.ToUpper(obj.Type)),
			location: obj.Location,
			rotation: obj.Rotation,
		}
		if o.kind == host.ObjectCamera {
			o.camera = cameraFromFile(obj.Camera)
		}
		h.addObject(o)
	}
	return h, nil
}

func settingsFromFile(r renderFile, camera string) host.RenderSettings {
	s := host.RenderSettings{
		Camera:               camera,
		ResolutionX:          r.ResolutionX,
		ResolutionY:          r.ResolutionY,
		ResolutionPercentage: r.ResolutionPercentage,
		FileFormat:           host.FileFormat(strings.ToUpper(r.FileFormat)),
		ColorMode:            r.ColorMode,
		Quality:              r.Quality,
		Compression:          r.Compression,
		Engine:               host.Engine(strings.ToUpper(r.Engine)),
		Device:               host.Device(strings.ToUpper(r.Device)),
		Samples:              r.Samples,
		EeveeSamples:         r.EeveeSamples,
		MotionBlur:           r.MotionBlur,
		PersistentData:       r.PersistentData,
		FilePath:             r.FilePath,
	}
	if s.ResolutionX <= 0 {
		s.ResolutionX = 1920
	}
	if s.ResolutionY <= 0 {
		s.ResolutionY = 1080
	}
	if s.ResolutionPercentage <= 0 {
		s.ResolutionPercentage = 100
	}
	if s.FileFormat == "" {
		s.FileFormat = host.FormatPNG
	}
	if s.ColorMode == "" {
		s.ColorMode = "RGBA"
	}
	if s.Engine == "" {
		s.Engine = host.EngineEevee
	}
	if s.Device == "" {
		s.Device = host.DeviceCPU
	}
	return s
}

func cameraFromFile(c *cameraFile) *cameraData {
	data := &cameraData{
		lens:          50,
		sensorWidth:   36,
		sensorHeight:  24,
		sensorFit:     "AUTO",
		projection:    "PERSP",
		clipStart:     0.1,
		clipEnd:       100,
		focusDistance: 10,
		fstop:         2.8,
	}
	if c == nil {
		return data
	}
	if c.Lens > 0 {
		data.lens = c.Lens
	}
	if c.SensorWidth > 0 {
		data.sensorWidth = c.SensorWidth
	}
	if c.SensorHeight > 0 {
		data.sensorHeight = c.SensorHeight
	}
	if c.SensorFit != "" {
		data.sensorFit = strings.ToUpper(c.SensorFit)
	}
	if c.Type != "" {
		data.projection = strings.ToUpper(c.Type)
	}
	if c.ClipStart > 0 {
		data.clipStart = c.ClipStart
	}
	if c.ClipEnd > 0 {
		data.clipEnd = c.ClipEnd
	}
	data.shiftX = c.Shift[0]
	data.shiftY = c.Shift[1]
	data.dof = c.DOF.Use
	if c.DOF.FocusDistance > 0 {
		data.focusDistance = c.DOF.FocusDistance
	}
	if c.DOF.ApertureFStop > 0 {
		data.fstop = c.DOF.ApertureFStop
	}
	return data
}

// matrixWorld composes translation and an XYZ Euler rotation.
func matrixWorld(loc, rot [3]float64) [4][4]float64 {
	sx, cx := math.Sincos(rot[0])
	sy, cy := math.Sincos(rot[1])
	sz, cz := math.Sincos(rot[2])

	// R = Rz * Ry * Rx
	return [4][4]float64{
		{cz * cy, cz*sy*sx - sz*cx, cz*sy*cx + sz*sx, loc[0]},
		{sz * cy, sz*sy*sx + cz*cx, sz*sy*cx - cz*sx, loc[1]},
		{-sy, cy * sx, cy * cx, loc[2]},
		{0, 0, 0, 1},
	}
}

func fieldOfView(sensor, lens float64) float64 {
	if lens <= 0 {
		return 0
	}
	return 2 * math.Atan(sensor/(2*lens))
}
