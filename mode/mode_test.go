package mode

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.viam.com/test"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/identity"
)

type fakeImage struct {
	faces int
}

func (i *fakeImage) Clone() model.Image { return &fakeImage{faces: i.faces} }
func (i *fakeImage) Close() error       { return nil }
func (i *fakeImage) Empty() bool        { return false }

// countLocator finds as many faces as the image says it has.
type countLocator struct{}

func (countLocator) Detect(img model.Image) ([]pipeline.FaceDetection, error) {
	n := img.(*fakeImage).faces
	dets := make([]pipeline.FaceDetection, n)
	for i := range dets {
		dets[i] = pipeline.FaceDetection{Embedding: []float64{float64(i), 1}}
	}
	return dets, nil
}

// recordingData keeps everything in memory.
type recordingData struct {
	mu              sync.Mutex
	identities      []model.Identity
	errors          []interface{}
	pipelineStats   []model.PipelineStats
	enrollmentStats []model.EnrollmentStats
	recognitions    []model.Recognition
}

func (d *recordingData) ListKnownIdentities(_ context.Context) ([]model.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Identity(nil), d.identities...), nil
}

func (d *recordingData) RecordMatch(_ context.Context, _ model.Recognition) error { return nil }

func (d *recordingData) Enroll(_ context.Context, id model.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities = append(d.identities, id)
	return nil
}

func (d *recordingData) Close(_ context.Context) error { return nil }

func (d *recordingData) NewError(err interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, err)
	return nil
}

func (d *recordingData) NewPipelineStats(stats model.PipelineStats) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pipelineStats = append(d.pipelineStats, stats)
	return nil
}

func (d *recordingData) NewEnrollmentStats(stats model.EnrollmentStats) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enrollmentStats = append(d.enrollmentStats, stats)
	return nil
}

func (d *recordingData) RetrieveRecognitions() ([]model.Recognition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Recognition(nil), d.recognitions...), nil
}

func (d *recordingData) errorCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.errors)
}

type testConfig struct {
	config.IService
	store     string
	reference string
}

func newTestConfig() testConfig {
	return testConfig{IService: config.NewHardCoded(), store: config.IdentityStoreFiles}
}

func (c testConfig) GetModeMaxShutdownTime() int { return 0 }

func (c testConfig) GetIdentityStore() string { return c.store }

func (c testConfig) GetReferenceIdentityFile() string { return c.reference }

func (c testConfig) GetPipelineConfig() model.PipelineConfig {
	cfg := c.IService.GetPipelineConfig()
	cfg.TargetFPS = 200
	cfg.ReconnectDelay = time.Millisecond
	cfg.ReadRetryDelay = time.Millisecond
	cfg.CapturesFolder = ""
	return cfg
}

func TestParseIdentityFile(t *testing.T) {
	name, id, err := parseIdentityFile("joao_silva|12345.jpg")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, name, test.ShouldEqual, "Joao Silva")
	test.That(t, id, test.ShouldEqual, "12345")

	name, _, err = parseIdentityFile("ANA|7.png")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, name, test.ShouldEqual, "Ana")

	for _, bad := range []string{"nobar.jpg", "a|b|c.jpg", "|12.jpg", "ana|.jpg", "__|1.jpg"} {
		_, _, err = parseIdentityFile(bad)
		test.That(t, errors.Is(err, ErrBadFileName), test.ShouldBeTrue)
	}
}

func writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644)
		test.That(t, err, test.ShouldBeNil)
	}
	return dir
}

// loaderByName gives each file the number of faces its test case needs.
func loaderByName(faces map[string]int) ImageLoader {
	return func(path string) (model.Image, error) {
		n, ok := faces[filepath.Base(path)]
		if !ok {
			return nil, errors.New("unreadable image")
		}
		return &fakeImage{faces: n}, nil
	}
}

func TestEnrollSkipsBadImages(t *testing.T) {
	dir := writeFiles(t, "joao_silva|1.jpg", "maria|2.jpg", "nobody|3.jpeg", "nobar.jpg", "notes.txt")
	dataSvc := &recordingData{}
	svcs := pipeline.ServicesFactory{
		CfgSvc:    newTestConfig(),
		DataSvc:   dataSvc,
		Directory: dataSvc,
		Faces:     countLocator{},
	}

	err := Enroll(context.Background(), svcs, Options{
		Folder: dir,
		Loader: loaderByName(map[string]int{"joao_silva|1.jpg": 1, "maria|2.jpg": 2, "nobody|3.jpeg": 0, "nobar.jpg": 1}),
	})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, len(dataSvc.identities), test.ShouldEqual, 1)
	test.That(t, dataSvc.identities[0].ID, test.ShouldEqual, "1")
	test.That(t, dataSvc.identities[0].Name, test.ShouldEqual, "Joao Silva")
	test.That(t, dataSvc.identities[0].Embedding, test.ShouldResemble, []float64{0, 1})

	test.That(t, dataSvc.errorCount(), test.ShouldEqual, 3)
	test.That(t, len(dataSvc.enrollmentStats), test.ShouldEqual, 1)
	stats := dataSvc.enrollmentStats[0]
	test.That(t, stats.Files, test.ShouldEqual, 4)
	test.That(t, stats.Enrolled, test.ShouldEqual, 1)
	test.That(t, stats.Rejected, test.ShouldEqual, 3)
}

func TestEnrollFailsWhenNothingEnrolled(t *testing.T) {
	dir := writeFiles(t, "maria|2.jpg")
	dataSvc := &recordingData{}
	svcs := pipeline.ServicesFactory{
		CfgSvc:    newTestConfig(),
		DataSvc:   dataSvc,
		Directory: dataSvc,
		Faces:     countLocator{},
	}

	err := Enroll(context.Background(), svcs, Options{
		Folder: dir,
		Loader: loaderByName(map[string]int{"maria|2.jpg": 3}),
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, dataSvc.identities, test.ShouldBeEmpty)

	err = Enroll(context.Background(), svcs, Options{Folder: filepath.Join(dir, "missing")})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIdentitiesListsDirectory(t *testing.T) {
	var out bytes.Buffer
	svcs := pipeline.ServicesFactory{Directory: identity.NewStatic(nil)}

	err := Identities(context.Background(), svcs, Options{Out: &out})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "No identities enrolled.")

	out.Reset()
	svcs.Directory = identity.NewStatic([]model.Identity{
		{ID: "12345", Name: "Joao Silva", Embedding: make([]float64, 128)},
		{ID: "7", Name: "Ana", Embedding: make([]float64, 128)},
	})
	err = Identities(context.Background(), svcs, Options{Out: &out})
	test.That(t, err, test.ShouldBeNil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	test.That(t, len(lines), test.ShouldEqual, 4)
	test.That(t, lines[0], test.ShouldStartWith, "ID")
	test.That(t, lines[2], test.ShouldContainSubstring, "Joao Silva")
	test.That(t, lines[2], test.ShouldContainSubstring, "128")
	test.That(t, lines[3], test.ShouldContainSubstring, "Ana")
}

func TestRecognitionsListsMatchLog(t *testing.T) {
	var out bytes.Buffer
	db := &recordingData{}
	svcs := pipeline.ServicesFactory{DataSvc: db}

	err := Recognitions(context.Background(), svcs, Options{Out: &out})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "No recognitions recorded.")

	out.Reset()
	db.recognitions = []model.Recognition{
		{IdentityID: "12345", Similarity: 0.91, Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), Status: model.RecognitionSuccess},
	}
	err = Recognitions(context.Background(), svcs, Options{Out: &out})
	test.That(t, err, test.ShouldBeNil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	test.That(t, len(lines), test.ShouldEqual, 3)
	test.That(t, lines[0], test.ShouldStartWith, "TIME")
	test.That(t, lines[2], test.ShouldContainSubstring, "2025-03-01T10:00:00Z")
	test.That(t, lines[2], test.ShouldContainSubstring, "12345")
	test.That(t, lines[2], test.ShouldContainSubstring, "0.91")
	test.That(t, lines[2], test.ShouldContainSubstring, "success")
}

func TestNewDirectory(t *testing.T) {
	ctx := context.Background()
	dataSvc := &recordingData{identities: []model.Identity{{ID: "1", Name: "Ana", Embedding: []float64{1}}}}

	dir, err := NewDirectory(ctx, newTestConfig(), dataSvc)
	test.That(t, err, test.ShouldBeNil)
	ids, err := dir.ListKnownIdentities(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(ids), test.ShouldEqual, 1)

	ref := filepath.Join(t.TempDir(), "reference.json")
	err = os.WriteFile(ref, []byte(`{"id":"42","name":"Reference","embedding":[0.1,0.2]}`), 0o644)
	test.That(t, err, test.ShouldBeNil)

	cfg := newTestConfig()
	cfg.store = config.IdentityStoreReference
	cfg.reference = ref
	dir, err = NewDirectory(ctx, cfg, dataSvc)
	test.That(t, err, test.ShouldBeNil)
	ids, err = dir.ListKnownIdentities(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldResemble, []model.Identity{{ID: "42", Name: "Reference", Embedding: []float64{0.1, 0.2}}})

	cfg.store = "redis"
	_, err = NewDirectory(ctx, cfg, dataSvc)
	test.That(t, err, test.ShouldNotBeNil)
}

type fakeDevice struct{}

func (fakeDevice) Read() (model.Image, error) { return &fakeImage{}, nil }
func (fakeDevice) Close() error               { return nil }

type fakeOpener struct {
	fail bool
}

func (o fakeOpener) Open(_ string) (pipeline.Device, error) {
	if o.fail {
		return nil, errors.New("no route to camera")
	}
	return fakeDevice{}, nil
}

type stillMotion struct{}

func (stillMotion) Estimate(_, _ model.Image) (pipeline.MotionResult, error) {
	return pipeline.MotionResult{}, nil
}

type fakeDisplay struct {
	quitAfter int64

	shows  atomic.Int64
	keys   atomic.Int64
	closed atomic.Bool
}

func (d *fakeDisplay) Show(_ model.Image) error {
	d.shows.Inc()
	return nil
}

func (d *fakeDisplay) ShowStatus(_ string) error { return nil }

func (d *fakeDisplay) WaitKey(_ int) int {
	if n := d.keys.Inc(); d.quitAfter > 0 && n >= d.quitAfter && d.shows.Load() > 0 {
		return 'q'
	}
	return -1
}

func (d *fakeDisplay) Close() error {
	d.closed.Store(true)
	return nil
}

func detectServices(dataSvc *recordingData, opener pipeline.DeviceOpener) pipeline.ServicesFactory {
	return pipeline.ServicesFactory{
		CfgSvc:    newTestConfig(),
		DataSvc:   dataSvc,
		Directory: dataSvc,
		Opener:    opener,
		Motion:    stillMotion{},
		Faces:     countLocator{},
	}
}

func TestDetectStartFailure(t *testing.T) {
	dataSvc := &recordingData{}

	err := Detect(context.Background(), detectServices(dataSvc, fakeOpener{fail: true}), Options{Source: "rtsp://cam"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, dataSvc.errorCount(), test.ShouldEqual, 1)
}

func TestDetectQuitsFromDisplay(t *testing.T) {
	dataSvc := &recordingData{}
	display := &fakeDisplay{quitAfter: 3}

	done := make(chan error, 1)
	go func() {
		done <- Detect(context.Background(), detectServices(dataSvc, fakeOpener{}), Options{
			Source:  "0",
			Display: display,
		})
	}()

	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("detect did not quit from the display")
	}

	test.That(t, display.shows.Load(), test.ShouldBeGreaterThan, 0)
	test.That(t, display.closed.Load(), test.ShouldBeTrue)
	test.That(t, len(dataSvc.pipelineStats), test.ShouldBeGreaterThan, 0)
}

func TestDetectStopsOnCancel(t *testing.T) {
	dataSvc := &recordingData{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Detect(ctx, detectServices(dataSvc, fakeOpener{}), Options{Source: "0"})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("detect did not stop on cancellation")
	}
	test.That(t, len(dataSvc.pipelineStats), test.ShouldBeGreaterThan, 0)
}
