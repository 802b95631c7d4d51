package pipeline

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/data"
	"github.com/khaledhikmat/vs-face/service/identity"
)

var (
	ErrReadFailed = errors.New("frame read failed")
	ErrNotIdle    = errors.New("pipeline is not idle")
)

// Device is a single open capture handle. Only the frame source loop touches it.
type Device interface {
	Read() (model.Image, error)
	Close() error
}

type DeviceOpener interface {
	Open(uri string) (Device, error)
}

type MotionResult struct {
	Detected bool
	Area     float64
	// Annotated, when set, is owned by the caller and must be closed.
	Annotated model.Image
}

type MotionEstimator interface {
	Estimate(prev, curr model.Image) (MotionResult, error)
}

type FaceDetection struct {
	Box       model.BoundingBox
	Embedding []float64
}

type FaceLocator interface {
	Detect(img model.Image) ([]FaceDetection, error)
}

type OverlayInfo struct {
	Timestamp  time.Time
	FPS        float64
	MotionArea float64
	Status     string
}

type Annotator interface {
	Overlay(img model.Image, info OverlayInfo) error
	DrawFaces(img model.Image, faces []model.FaceObservation) error
	// Crop expands box by expand on every side, clamps it to the image and
	// resizes the region to size x size.
	Crop(img model.Image, box model.BoundingBox, expand float64, size int) (model.Image, error)
}

type ImageWriter interface {
	Write(img model.Image, path string, quality int) error
}

// ServicesFactory bundles the capabilities a pipeline run needs.
type ServicesFactory struct {
	CfgSvc    config.IService
	DataSvc   data.IService
	Directory identity.Directory
	Scorer    identity.Scorer
	Opener    DeviceOpener
	Motion    MotionEstimator
	Faces     FaceLocator
	Annotator Annotator
	Writer    ImageWriter

	// Optional
	Clock   clock.Clock
	Tracer  trace.Tracer
	Journal *Journal
}
