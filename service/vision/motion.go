package vision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/pipeline"
)

const (
	blurKernel      = 21
	diffThreshold   = 25
	dilateIteration = 2
)

var motionColor = color.RGBA{0, 255, 0, 0}

// MotionDetector diffs blurred grayscale frames and sums the area of every
// changed region larger than minContourArea. Motion is detected when that sum
// exceeds threshold.
type MotionDetector struct {
	threshold      float64
	minContourArea float64
}

func NewMotionDetector(threshold, minContourArea float64) *MotionDetector {
	return &MotionDetector{
		threshold:      threshold,
		minContourArea: minContourArea,
	}
}

func (d *MotionDetector) Estimate(prev, curr model.Image) (pipeline.MotionResult, error) {
	prevMat, err := matOf(prev)
	if err != nil {
		return pipeline.MotionResult{}, err
	}
	currMat, err := matOf(curr)
	if err != nil {
		return pipeline.MotionResult{}, err
	}

	prevGray := grayBlur(*prevMat)
	defer prevGray.Close()
	currGray := grayBlur(*currMat)
	defer currGray.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(prevGray, currGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, diffThreshold, 255, gocv.ThresholdBinary)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	for i := 0; i < dilateIteration; i++ {
		gocv.Dilate(thresh, &thresh, kernel)
	}

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var area float64
	var boxes []image.Rectangle
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		a := gocv.ContourArea(contour)
		if a < d.minContourArea {
			continue
		}
		area += a
		boxes = append(boxes, gocv.BoundingRect(contour))
	}

	result := pipeline.MotionResult{
		Detected: area > d.threshold,
		Area:     area,
	}
	if !result.Detected {
		return result, nil
	}

	annotated := currMat.Clone()
	for _, box := range boxes {
		gocv.Rectangle(&annotated, box, motionColor, 2)
	}
	result.Annotated = Wrap(annotated)
	return result, nil
}

func grayBlur(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(gray, &gray, image.Pt(blurKernel, blurKernel), 0, 0, gocv.BorderDefault)
	return gray
}
