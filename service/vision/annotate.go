package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/pipeline"
)

var (
	matchColor   = color.RGBA{0, 255, 0, 0}
	unknownColor = color.RGBA{0, 0, 255, 0}
	textColor    = color.RGBA{255, 255, 255, 0}
)

type Annotator struct{}

func NewAnnotator() *Annotator {
	return &Annotator{}
}

// Overlay writes the timestamp, FPS and motion area in the top-left corner
// and the status line, if any, below them.
func (a *Annotator) Overlay(img model.Image, info pipeline.OverlayInfo) error {
	mat, err := matOf(img)
	if err != nil {
		return err
	}

	lines := []string{
		info.Timestamp.Format("2006-01-02 15:04:05"),
		fmt.Sprintf("FPS: %.1f", info.FPS),
		fmt.Sprintf("Motion: %.0f", info.MotionArea),
	}
	if info.Status != "" {
		lines = append(lines, info.Status)
	}

	for i, line := range lines {
		gocv.PutText(mat, line, image.Pt(10, 30+i*30), gocv.FontHersheySimplex, 0.7, textColor, 2)
	}
	return nil
}

func (a *Annotator) DrawFaces(img model.Image, faces []model.FaceObservation) error {
	mat, err := matOf(img)
	if err != nil {
		return err
	}

	for _, f := range faces {
		c := unknownColor
		label := fmt.Sprintf("unknown %.2f", f.Similarity)
		if f.Matched {
			c = matchColor
			label = fmt.Sprintf("%s %.2f", f.IdentityName, f.Similarity)
		}

		r := f.Box.Rect()
		gocv.Rectangle(mat, r, c, 2)

		y := r.Min.Y - 10
		if y < 15 {
			y = r.Max.Y + 20
		}
		gocv.PutText(mat, label, image.Pt(r.Min.X, y), gocv.FontHersheySimplex, 0.6, c, 2)
	}
	return nil
}

func (a *Annotator) Crop(img model.Image, box model.BoundingBox, expand float64, size int) (model.Image, error) {
	mat, err := matOf(img)
	if err != nil {
		return nil, err
	}

	r := box.Expand(expand, mat.Cols(), mat.Rows()).Rect()
	if r.Empty() {
		return nil, xerrors.Errorf("face box %v is outside the image", box)
	}

	region := mat.Region(r)
	defer region.Close()

	resized := gocv.NewMat()
	if err := gocv.Resize(region, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear); err != nil {
		resized.Close()
		return nil, xerrors.Errorf("resizing face crop: %w", err)
	}
	return Wrap(resized), nil
}
