package vision

import (
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
)

// JPEGWriter writes images to disk, creating parent folders as needed.
type JPEGWriter struct{}

func NewJPEGWriter() *JPEGWriter {
	return &JPEGWriter{}
}

func (w *JPEGWriter) Write(img model.Image, path string, quality int) error {
	mat, err := matOf(img)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return xerrors.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	if ok := gocv.IMWriteWithParams(path, *mat, []int{int(gocv.IMWriteJpegQuality), quality}); !ok {
		return xerrors.Errorf("unable to write image %s", path)
	}
	return nil
}

// LoadImage reads a color image from disk.
func LoadImage(path string) (model.Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, xerrors.Errorf("unable to read image %s", path)
	}
	return Wrap(mat), nil
}

// StatusFrame is a black width x height frame with text centered vertically.
func StatusFrame(width, height int, text string) model.Image {
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
	gocv.PutText(&mat, text, image.Pt(50, height/2), gocv.FontHersheySimplex, 1.5, color.RGBA{255, 255, 255, 0}, 3)
	return Wrap(mat)
}

const (
	statusWidth  = 1280
	statusHeight = 720
)

// Display is an OpenCV window. It must be used from a single goroutine.
type Display struct {
	window *gocv.Window
}

func NewDisplay(title string) *Display {
	return &Display{window: gocv.NewWindow(title)}
}

func (d *Display) Show(img model.Image) error {
	mat, err := matOf(img)
	if err != nil {
		return err
	}
	d.window.IMShow(*mat)
	return nil
}

// ShowStatus replaces the picture with a text-only status frame.
func (d *Display) ShowStatus(text string) error {
	img := StatusFrame(statusWidth, statusHeight, text)
	defer img.Close()
	return d.Show(img)
}

// WaitKey pumps window events for up to delay milliseconds and returns the
// pressed key, or -1.
func (d *Display) WaitKey(delay int) int {
	return d.window.WaitKey(delay)
}

func (d *Display) Close() error {
	return d.window.Close()
}
