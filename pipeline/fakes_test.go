package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/config"
)

// imageTracker counts images that were created but not yet closed.
type imageTracker struct {
	open atomic.Int64
}

type fakeImage struct {
	value   int
	tracker *imageTracker
	closed  atomic.Bool
}

func newFakeImage(tracker *imageTracker, value int) *fakeImage {
	if tracker != nil {
		tracker.open.Inc()
	}
	return &fakeImage{value: value, tracker: tracker}
}

func (i *fakeImage) Clone() model.Image {
	return newFakeImage(i.tracker, i.value)
}

func (i *fakeImage) Close() error {
	if i.closed.CompareAndSwap(false, true) && i.tracker != nil {
		i.tracker.open.Dec()
	}
	return nil
}

func (i *fakeImage) Empty() bool {
	return false
}

func valueOf(img model.Image) int {
	return img.(*fakeImage).value
}

func testFrame(tracker *imageTracker, seq uint64, value int) model.Frame {
	return model.Frame{
		Image:     newFakeImage(tracker, value),
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

// fakeDevice yields next(n) for the n-th read, starting at 1.
type fakeDevice struct {
	tracker *imageTracker
	next    func(n int) (int, error)

	mu     sync.Mutex
	reads  int
	closed bool
}

func (d *fakeDevice) Read() (model.Image, error) {
	d.mu.Lock()
	d.reads++
	n := d.reads
	d.mu.Unlock()

	v, err := d.next(n)
	if err != nil {
		return nil, err
	}
	return newFakeImage(d.tracker, v), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeOpener struct {
	// Opens fail while failures is positive; negative fails forever
	failures  int
	newDevice func() *fakeDevice

	mu      sync.Mutex
	opens   int
	devices []*fakeDevice
}

func (o *fakeOpener) Open(_ string) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opens++
	if o.failures != 0 {
		if o.failures > 0 {
			o.failures--
		}
		return nil, errors.New("camera unreachable")
	}

	dev := o.newDevice()
	o.devices = append(o.devices, dev)
	return dev, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// valueMotion reports motion whenever consecutive images differ.
type valueMotion struct {
	err   error
	calls atomic.Int64
}

func (m *valueMotion) Estimate(prev, curr model.Image) (MotionResult, error) {
	m.calls.Inc()
	if m.err != nil {
		return MotionResult{}, m.err
	}

	diff := valueOf(curr) - valueOf(prev)
	if diff < 0 {
		diff = -diff
	}
	return MotionResult{Detected: diff != 0, Area: float64(diff * 1000)}, nil
}

// fakeLocator returns one detection per embedding, with the box X set to the
// detection index.
type fakeLocator struct {
	embeddings [][]float64
	err        error
	calls      atomic.Int64
}

func (l *fakeLocator) Detect(_ model.Image) ([]FaceDetection, error) {
	l.calls.Inc()
	if l.err != nil {
		return nil, l.err
	}

	dets := make([]FaceDetection, len(l.embeddings))
	for i, e := range l.embeddings {
		dets[i] = FaceDetection{
			Box:       model.BoundingBox{X: i, Y: 0, Width: 10, Height: 10},
			Embedding: e,
		}
	}
	return dets, nil
}

type fakeAnnotator struct {
	// Crop panics for the box with this X when set
	panicOnX *int
	overlays atomic.Int64
}

func (a *fakeAnnotator) Overlay(_ model.Image, _ OverlayInfo) error {
	a.overlays.Inc()
	return nil
}

func (a *fakeAnnotator) DrawFaces(_ model.Image, _ []model.FaceObservation) error {
	return nil
}

func (a *fakeAnnotator) Crop(img model.Image, box model.BoundingBox, _ float64, _ int) (model.Image, error) {
	if a.panicOnX != nil && *a.panicOnX == box.X {
		panic("corrupt face region")
	}
	return img.Clone(), nil
}

type fakeWriter struct {
	mu    sync.Mutex
	paths []string
}

func (w *fakeWriter) Write(_ model.Image, path string, _ int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paths = append(w.paths, path)
	return nil
}

func (w *fakeWriter) written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.paths...)
}

type fakeDirectory struct {
	identities []model.Identity
	recordErr  error

	mu      sync.Mutex
	matches []model.Recognition
}

func (d *fakeDirectory) ListKnownIdentities(_ context.Context) ([]model.Identity, error) {
	return d.identities, nil
}

func (d *fakeDirectory) RecordMatch(_ context.Context, recognition model.Recognition) error {
	if d.recordErr != nil {
		return d.recordErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.matches = append(d.matches, recognition)
	return nil
}

func (d *fakeDirectory) Enroll(_ context.Context, identity model.Identity) error {
	d.identities = append(d.identities, identity)
	return nil
}

func (d *fakeDirectory) Close(_ context.Context) error { return nil }

func (d *fakeDirectory) matchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.matches)
}

// exactScorer scores 1 for identical embeddings and 0 otherwise.
type exactScorer struct {
	delay func(a []float64) time.Duration
}

func (s exactScorer) Score(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	for i := range a {
		if a[i] != b[i] {
			return 0
		}
	}
	if s.delay != nil {
		time.Sleep(s.delay(a))
	}
	return 1
}

func testPipelineConfig() model.PipelineConfig {
	return model.PipelineConfig{
		MotionThreshold:        15000,
		MinContourArea:         5000,
		MinMotionInterval:      time.Second,
		FramesAfterMotion:      5,
		MaxFramesWithoutMotion: 100,

		TargetFPS:            500,
		BufferSize:           3,
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: 3,
		ReconnectCooldown:    5 * time.Millisecond,
		MaxConsecutiveErrors: 2,
		ReadRetryDelay:       time.Millisecond,
		SourceStopTimeout:    500 * time.Millisecond,

		ProcessQueueSize: 10,
		FaceQueueSize:    10,
		MaxWorkers:       3,

		SimilarityThreshold: 0.4,
		FaceBoxExpansion:    0.2,
		FaceCropSize:        300,

		CapturesFolder: "captures",
		JPEGQuality:    95,

		JoinTimeout:   time.Second,
		StatsInterval: time.Hour,
	}
}

type testConfig struct {
	config.IService
	cfg model.PipelineConfig
}

func (c testConfig) GetPipelineConfig() model.PipelineConfig {
	return c.cfg
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
