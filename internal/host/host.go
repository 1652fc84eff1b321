// Package host describes the handle through which the bridge drives the host
// application's scene and renderer.
//
// A Host is a single shared, non-reentrant resource. Implementations are not
// required to be safe for concurrent use; callers serialize every access.
package host

import "errors"

// Engine identifies a render engine.
type Engine string

const (
	EngineCycles     Engine = "CYCLES"
	EngineEevee      Engine = "BLENDER_EEVEE"
	EngineEeveeNext  Engine = "BLENDER_EEVEE_NEXT"
	EngineWorkbench  Engine = "BLENDER_WORKBENCH"
	EngineEeveeShort Engine = "EEVEE"
)

// Device is the compute device used by ray-traced engines.
type Device string

const (
	DeviceCPU Device = "CPU"
	DeviceGPU Device = "GPU"
)

// FileFormat is the still image output format.
type FileFormat string

const (
	FormatPNG  FileFormat = "PNG"
	FormatJPEG FileFormat = "JPEG"
)

// ObjectType is the host object type tag.
type ObjectType string

const (
	ObjectCamera ObjectType = "CAMERA"
	ObjectMesh   ObjectType = "MESH"
	ObjectLight  ObjectType = "LIGHT"
	ObjectEmpty  ObjectType = "EMPTY"
)

// ErrNoRenderResult is returned by SaveRenderResult when nothing was rendered.
var ErrNoRenderResult = errors.New("host: no render result")

// RenderSettings is a snapshot of every render setting the bridge may touch.
// It is a comparable value so a restored snapshot can be checked with ==.
type RenderSettings struct {
	Camera               string
	ResolutionX          int
	ResolutionY          int
	ResolutionPercentage int
	FileFormat           FileFormat
	ColorMode            string
	Quality              int
	Compression          int
	Engine               Engine
	Device               Device
	Samples              int
	EeveeSamples         int
	MotionBlur           bool
	PersistentData       bool
	FilePath             string
}

// SceneInfo describes the active scene.
type SceneInfo struct {
	Name         string
	FrameStart   int
	FrameEnd     int
	FrameCurrent int
}

// Camera is the full attribute set of a camera object.
type Camera struct {
	Name          string
	Location      [3]float64
	Rotation      [3]float64
	Lens          float64
	SensorWidth   float64
	SensorHeight  float64
	SensorFit     string
	Projection    string
	Angle         float64
	AngleX        float64
	AngleY        float64
	ClipStart     float64
	ClipEnd       float64
	DOFEnabled    bool
	FocusDistance float64
	ApertureFStop float64
	ShiftX        float64
	ShiftY        float64
	MatrixWorld   [4][4]float64
}

// Image describes the in-memory render result.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pixels   int
}

// Host is the render context handle.
type Host interface {
	// Version returns the host application version string.
	Version() string
	// Scene returns the active scene description.
	Scene() (SceneInfo, error)
	// Cameras enumerates all camera-type objects.
	Cameras() ([]Camera, error)
	// ObjectType reports the type of the named object, if it exists.
	ObjectType(name string) (ObjectType, bool)
	// RenderSettings reads the current render settings.
	RenderSettings() RenderSettings
	// ApplyRenderSettings writes every field of s.
	ApplyRenderSettings(s RenderSettings) error
	// UpdateDepsgraph forces one scene-graph re-evaluation pass.
	UpdateDepsgraph() error
	// Render performs a synchronous still render into the render result.
	Render() error
	// RenderResult reports the current in-memory render result.
	RenderResult() (Image, bool)
	// SaveRenderResult encodes the render result to path using the current
	// output format settings.
	SaveRenderResult(path string) error
	// DiscardRenderResult drops the in-memory render result image.
	DiscardRenderResult()
	// PurgeOrphans removes data blocks with no users.
	PurgeOrphans() (int, error)
	// RemoveUnusedImages removes image data blocks with no users.
	RemoveUnusedImages() (int, error)
	// CollectGarbage asks the host runtime to release memory.
	CollectGarbage()
}

// GPUSyncer is implemented by hosts that can flush pending GPU work.
type GPUSyncer interface {
	SyncGPU() error
}
