package vision

import (
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

const (
	// OpenFace nn4.small2 input
	embedderInput = 96
	minFaceSize   = 60
	scaleFactor   = 1.1
	minNeighbors  = 5
)

// FaceLocator finds faces with a Haar cascade and embeds each one with an
// OpenFace DNN.
type FaceLocator struct {
	// WARNING: neither the cascade nor the net is thread-safe
	mu       sync.Mutex
	cascade  gocv.CascadeClassifier
	embedder gocv.Net
}

func NewFaceLocator(cascadePath, embedderPath string) (*FaceLocator, error) {
	for _, path := range []string{cascadePath, embedderPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, xerrors.Errorf("face model %s: %w", path, err)
		}
	}

	cascade := gocv.NewCascadeClassifier()
	if !cascade.Load(cascadePath) {
		cascade.Close()
		return nil, xerrors.Errorf("unable to load face cascade %s", cascadePath)
	}

	net := gocv.ReadNet(embedderPath, "")
	if net.Empty() {
		cascade.Close()
		return nil, xerrors.Errorf("unable to read face embedder %s", embedderPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		cascade.Close()
		net.Close()
		return nil, xerrors.Errorf("setting embedder backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		cascade.Close()
		net.Close()
		return nil, xerrors.Errorf("setting embedder target: %w", err)
	}

	lgr.Logger.Info("face models loaded",
		slog.String("cascade", cascadePath),
		slog.String("embedder", embedderPath),
	)

	return &FaceLocator{cascade: cascade, embedder: net}, nil
}

func (l *FaceLocator) Detect(img model.Image) ([]pipeline.FaceDetection, error) {
	mat, err := matOf(img)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(*mat, &gray, gocv.ColorBGRToGray)

	rects := l.cascade.DetectMultiScaleWithParams(gray, scaleFactor, minNeighbors, 0,
		image.Pt(minFaceSize, minFaceSize), image.Pt(0, 0))

	bounds := image.Rect(0, 0, mat.Cols(), mat.Rows())
	dets := make([]pipeline.FaceDetection, 0, len(rects))
	for _, r := range rects {
		r = r.Intersect(bounds)
		if r.Empty() {
			continue
		}

		embedding, err := l.embed(*mat, r)
		if err != nil {
			return nil, xerrors.Errorf("embedding face at %v: %w", r, err)
		}

		dets = append(dets, pipeline.FaceDetection{
			Box:       model.BoxFromRect(r),
			Embedding: embedding,
		})
	}

	return dets, nil
}

func (l *FaceLocator) embed(src gocv.Mat, r image.Rectangle) ([]float64, error) {
	face := src.Region(r)
	defer face.Close()

	blob := gocv.BlobFromImage(face, 1.0/255.0, image.Pt(embedderInput, embedderInput), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	l.embedder.SetInput(blob, "")
	output := l.embedder.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, xerrors.New("empty embedding")
	}

	embedding := make([]float64, len(data))
	for i, v := range data {
		embedding[i] = float64(v)
	}
	return embedding, nil
}

func (l *FaceLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.cascade.Close()
	if netErr := l.embedder.Close(); err == nil {
		err = netErr
	}
	return err
}
