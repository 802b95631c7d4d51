package vision

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-face/model"
)

var ErrUnsupportedImage = errors.New("image is not backed by a gocv mat")

// Image adapts a gocv.Mat to model.Image. Closing twice is a no-op.
type Image struct {
	mat    gocv.Mat
	closed bool
}

// Wrap takes ownership of m.
func Wrap(m gocv.Mat) *Image {
	return &Image{mat: m}
}

func (i *Image) Clone() model.Image {
	return Wrap(i.mat.Clone())
}

func (i *Image) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	return i.mat.Close()
}

func (i *Image) Empty() bool {
	return i.closed || i.mat.Empty()
}

// Mat exposes the underlying matrix. It stays owned by the image.
func (i *Image) Mat() *gocv.Mat {
	return &i.mat
}

func matOf(img model.Image) (*gocv.Mat, error) {
	vi, ok := img.(*Image)
	if !ok {
		return nil, fmt.Errorf("%T: %w", img, ErrUnsupportedImage)
	}
	if vi.Empty() {
		return nil, errors.New("empty image")
	}
	return vi.Mat(), nil
}
