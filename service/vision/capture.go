package vision

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

const (
	ffmpegOptionsEnv = "OPENCV_FFMPEG_CAPTURE_OPTIONS"
	// RTSP over TCP, tolerant of corrupt packets and slow servers
	rtspCaptureOptions = "rtsp_transport;tcp|analyzeduration;10000000|fflags;discardcorrupt|stimeout;10000000|max_delay;500000|reorder_queue_size;0"
)

// Opener opens RTSP streams, video files and local cameras (by index).
type Opener struct {
	width  int
	height int
}

func NewOpener(width, height int) *Opener {
	return &Opener{width: width, height: height}
}

func (o *Opener) Open(uri string) (pipeline.Device, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)

	bufferSize := 2
	if index, convErr := strconv.Atoi(uri); convErr == nil {
		vc, err = gocv.OpenVideoCapture(index)
	} else {
		if isStream(uri) {
			bufferSize = 1
			if _, ok := os.LookupEnv(ffmpegOptionsEnv); !ok {
				os.Setenv(ffmpegOptionsEnv, rtspCaptureOptions)
			}
		}
		vc, err = gocv.OpenVideoCapture(uri)
	}
	if err != nil {
		return nil, xerrors.Errorf("opening %s: %w", uri, err)
	}

	if !vc.IsOpened() {
		vc.Close()
		return nil, xerrors.Errorf("video source %s could not be opened", uri)
	}

	vc.Set(gocv.VideoCaptureBufferSize, float64(bufferSize))
	if o.width > 0 && o.height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(o.width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(o.height))
	}

	lgr.Logger.Info("video source opened",
		slog.String("source", uri),
		slog.Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)),
		slog.Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)),
		slog.Float64("fps", vc.Get(gocv.VideoCaptureFPS)),
		slog.String("openCV", gocv.Version()),
	)

	return &device{vc: vc}, nil
}

func isStream(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "rtsp://") || strings.HasPrefix(lower, "rtsps://")
}

type device struct {
	vc *gocv.VideoCapture
}

func (d *device) Read() (model.Image, error) {
	img := gocv.NewMat()
	if ok := d.vc.Read(&img); !ok || img.Empty() {
		img.Close() // Crucial to close the image to avoid memory leaks
		return nil, pipeline.ErrReadFailed
	}
	return Wrap(img), nil
}

func (d *device) Close() error {
	return d.vc.Close()
}
