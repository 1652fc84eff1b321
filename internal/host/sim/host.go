// Package sim is an in-process stand-in for the 3D host application. It keeps
// a scene in memory, rasterises simple deterministic frames and exposes
// failure injection so the render path can be exercised without the real
// host.
package sim

import (
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"sync"
	"time"

	"github.com/saker-ai/render-bridge/internal/host"
)

type cameraData struct {
	lens          float64
	sensorWidth   float64
	sensorHeight  float64
	sensorFit     string
	projection    string
	clipStart     float64
	clipEnd       float64
	shiftX        float64
	shiftY        float64
	dof           bool
	focusDistance float64
	fstop         float64
}

type object struct {
	name     string
	kind     host.ObjectType
	location [3]float64
	rotation [3]float64
	camera   *cameraData
}

// Counters records how often each host primitive was invoked.
type Counters struct {
	Renders        int
	DepsgraphEvals int
	Saves          int
	Discards       int
	Purges         int
	ImageSweeps    int
	GCs            int
	GPUSyncs       int
}

// Faults injects failures into the next operations. Zero value means none.
type Faults struct {
	// RenderErr is returned by Render.
	RenderErr error
	// RenderPanic makes Render panic with the value.
	RenderPanic any
	// EmptyResult makes Render produce a zero sized result image.
	EmptyResult bool
	// NoResult makes Render succeed without producing a result.
	NoResult bool
	// SaveErr is returned by SaveRenderResult.
	SaveErr error
	// TruncateSave writes only a few bytes when saving.
	TruncateSave bool
	// RenderDelay blocks Render for the duration.
	RenderDelay time.Duration
	// CrashEngines fail Render when the active engine is listed and the
	// device is GPU.
	CrashEngines []host.Engine
}

// Host is the simulated render context.
type Host struct {
	mu       sync.Mutex
	version  string
	scene    host.SceneInfo
	settings host.RenderSettings
	objects  []*object
	index    map[string]*object
	result   *image.RGBA
	orphans  int
	images   int
	faults   Faults
	counters Counters
	applied  []host.RenderSettings
}

var _ host.Host = (*Host)(nil)

func newHost() *Host {
	return &Host{index: make(map[string]*object)}
}

func (h *Host) addObject(o *object) {
	h.objects = append(h.objects, o)
	h.index[o.name] = o
}

// SetFaults replaces the injected faults.
func (h *Host) SetFaults(f Faults) {
	h.mu.Lock()
	h.faults = f
	h.mu.Unlock()
}

// Counters returns a copy of the invocation counters.
func (h *Host) Counters() Counters {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counters
}

// AppliedSettings returns every settings value written through
// ApplyRenderSettings, oldest first.
func (h *Host) AppliedSettings() []host.RenderSettings {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]host.RenderSettings, len(h.applied))
	copy(out, h.applied)
	return out
}

// AddCamera inserts or replaces a camera object.
func (h *Host) AddCamera(name string, location, rotation [3]float64, lens float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cam := cameraFromFile(&cameraFile{Lens: lens})
	if existing, ok := h.index[name]; ok {
		existing.kind = host.ObjectCamera
		existing.location = location
		existing.rotation = rotation
		existing.camera = cam
		return
	}
	h.addObject(&object{name: name, kind: host.ObjectCamera, location: location, rotation: rotation, camera: cam})
}

// RemoveObject deletes an object, mimicking a user edit in the host.
func (h *Host) RemoveObject(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.index[name]; !ok {
		return false
	}
	delete(h.index, name)
	if h.settings.Camera == name {
		h.settings.Camera = ""
	}
	for i, o := range h.objects {
		if o.name == name {
			h.objects = append(h.objects[:i], h.objects[i+1:]...)
			break
		}
	}
	h.orphans++
	return true
}

// SetVersion overrides the reported host version.
func (h *Host) SetVersion(v string) {
	h.mu.Lock()
	h.version = v
	h.mu.Unlock()
}

// Version implements host.Host.
func (h *Host) Version() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

// Scene implements host.Host.
func (h *Host) Scene() (host.SceneInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scene, nil
}

// Cameras implements host.Host.
func (h *Host) Cameras() ([]host.Camera, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cameras := []host.Camera{}
	for _, o := range h.objects {
		if o.kind != host.ObjectCamera || o.camera == nil {
			continue
		}
		cameras = append(cameras, describeCamera(o))
	}
	return cameras, nil
}

func describeCamera(o *object) host.Camera {
	c := o.camera
	angleX := fieldOfView(c.sensorWidth, c.lens)
	angleY := fieldOfView(c.sensorHeight, c.lens)
	angle := angleX
	if c.sensorFit == "VERTICAL" {
		angle = angleY
	}
	return host.Camera{
		Name:          o.name,
		Location:      o.location,
		Rotation:      o.rotation,
		Lens:          c.lens,
		SensorWidth:   c.sensorWidth,
		SensorHeight:  c.sensorHeight,
		SensorFit:     c.sensorFit,
		Projection:    c.projection,
		Angle:         angle,
		AngleX:        angleX,
		AngleY:        angleY,
		ClipStart:     c.clipStart,
		ClipEnd:       c.clipEnd,
		DOFEnabled:    c.dof,
		FocusDistance: c.focusDistance,
		ApertureFStop: c.fstop,
		ShiftX:        c.shiftX,
		ShiftY:        c.shiftY,
		MatrixWorld:   matrixWorld(o.location, o.rotation),
	}
}

// ObjectType implements host.Host.
func (h *Host) ObjectType(name string) (host.ObjectType, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.index[name]
	if !ok {
		return "", false
	}
	return o.kind, true
}

// RenderSettings implements host.Host.
func (h *Host) RenderSettings() host.RenderSettings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

// ApplyRenderSettings implements host.Host.
func (h *Host) ApplyRenderSettings(s host.RenderSettings) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.Camera != "" {
		o, ok := h.index[s.Camera]
		switch {
		case !ok:
			// A deleted camera leaves the scene without an active camera.
			s.Camera = ""
		case o.kind != host.ObjectCamera:
			return fmt.Errorf("object %q is not a camera", s.Camera)
		}
	}
	h.settings = s
	h.applied = append(h.applied, s)
	return nil
}

// UpdateDepsgraph implements host.Host.
func (h *Host) UpdateDepsgraph() error {
	h.mu.Lock()
	h.counters.DepsgraphEvals++
	h.mu.Unlock()
	return nil
}

// Render implements host.Host.
func (h *Host) Render() error {
	h.mu.Lock()
	faults := h.faults
	h.counters.Renders++
	h.mu.Unlock()

	if faults.RenderDelay > 0 {
		time.Sleep(faults.RenderDelay)
	}
	if faults.RenderPanic != nil {
		panic(faults.RenderPanic)
	}
	if faults.RenderErr != nil {
		return faults.RenderErr
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, engine := range faults.CrashEngines {
		if h.settings.Engine == engine && h.settings.Device == host.DeviceGPU {
			return fmt.Errorf("%s crashed rendering headless on GPU", engine)
		}
	}
	cam, ok := h.index[h.settings.Camera]
	if !ok || cam.kind != host.ObjectCamera {
		return errors.New("scene has no active camera")
	}
	h.images++
	if faults.NoResult {
		h.result = nil
		return nil
	}
	if faults.EmptyResult {
		h.result = image.NewRGBA(image.Rect(0, 0, 0, 0))
		return nil
	}
	pct := h.settings.ResolutionPercentage
	if pct <= 0 {
		pct = 100
	}
	width := max(1, h.settings.ResolutionX*pct/100)
	height := max(1, h.settings.ResolutionY*pct/100)
	h.result = rasterise(cam, h.settings.Engine, width, height)
	return nil
}

// RenderResult implements host.Host.
func (h *Host) RenderResult() (host.Image, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result == nil {
		return host.Image{}, false
	}
	b := h.result.Bounds()
	return host.Image{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: 4,
		Pixels:   b.Dx() * b.Dy() * 4,
	}, true
}

// SaveRenderResult implements host.Host.
func (h *Host) SaveRenderResult(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counters.Saves++
	if h.faults.SaveErr != nil {
		return h.faults.SaveErr
	}
	if h.result == nil {
		return host.ErrNoRenderResult
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if h.faults.TruncateSave {
		_, err = f.Write([]byte{0x89, 'P', 'N', 'G'})
		return errors.Join(err, f.Close())
	}
	switch h.settings.FileFormat {
	case host.FormatJPEG:
		quality := h.settings.Quality
		if quality <= 0 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		err = jpeg.Encode(f, h.result, &jpeg.Options{Quality: quality})
	default:
		enc := png.Encoder{CompressionLevel: pngCompression(h.settings.Compression)}
		err = enc.Encode(f, h.result)
	}
	return errors.Join(err, f.Close())
}

// DiscardRenderResult implements host.Host.
func (h *Host) DiscardRenderResult() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counters.Discards++
	if h.result != nil {
		h.result = nil
		h.images = max(0, h.images-1)
	}
}

// PurgeOrphans implements host.Host.
func (h *Host) PurgeOrphans() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counters.Purges++
	n := h.orphans
	h.orphans = 0
	return n, nil
}

// RemoveUnusedImages implements host.Host.
func (h *Host) RemoveUnusedImages() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counters.ImageSweeps++
	n := h.images
	if h.result != nil {
		n--
	}
	n = max(0, n)
	h.images -= n
	return n, nil
}

// CollectGarbage implements host.Host.
func (h *Host) CollectGarbage() {
	h.mu.Lock()
	h.counters.GCs++
	h.mu.Unlock()
}

// GPUHost is a simulated host that also exposes the optional GPU sync
// primitive.
type GPUHost struct {
	*Host
}

var _ host.GPUSyncer = GPUHost{}

// SyncGPU implements host.GPUSyncer.
func (g GPUHost) SyncGPU() error {
	g.mu.Lock()
	g.counters.GPUSyncs++
	g.mu.Unlock()
	return nil
}

func pngCompression(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level < 30:
		return png.BestSpeed
	case level >= 90:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

// rasterise draws a sky/ground split tinted by the camera identity and a
// centred block whose size follows the focal length.
func rasterise(cam *object, engine host.Engine, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	hash := fnv.New32a()
	_, _ = hash.Write([]byte(cam.name))
	seed := hash.Sum32()
	tint := color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255}

	horizon := height / 2
	if cam.camera != nil {
		horizon = int(float64(height) * (0.5 + cam.camera.shiftY))
	}
	lens := 50.0
	if cam.camera != nil {
		lens = cam.camera.lens
	}
	half := int(float64(min(width, height)) * lens / 400)
	cx, cy := width/2, height/2
	flat := engine == host.EngineWorkbench

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var c color.RGBA
			switch {
			case abs(x-cx) <= half && abs(y-cy) <= half:
				c = color.RGBA{R: 200, G: 200, B: 200, A: 255}
				if !flat {
					shade := uint8(150 + 100*(x-cx+half)/(2*half+1))
					c = color.RGBA{R: shade, G: shade, B: shade, A: 255}
				}
			case y < horizon:
				c = color.RGBA{R: tint.R / 2, G: tint.G / 2, B: 120 + tint.B/2, A: 255}
			default:
				c = color.RGBA{R: 60 + tint.R/4, G: 50 + tint.G/4, B: 40, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
