package model

import (
	"fmt"
	"image"
	"runtime/debug"
	"time"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// Image is an opaque pixel buffer. Implementations wrap a native matrix
// and must be closed by whoever owns them.
type Image interface {
	Clone() Image
	Close() error
	Empty() bool
}

// Frame is immutable once produced. Handing a frame to a channel hands over
// ownership of its image; consumers clone before mutating.
type Frame struct {
	Image     Image
	Seq       uint64
	Timestamp time.Time
}

// Clone returns a frame with the same metadata and a deep copy of the image.
func (f Frame) Clone() Frame {
	if f.Image == nil {
		return f
	}
	return Frame{
		Image:     f.Image.Clone(),
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
	}
}

// Close releases the frame image. Safe on a zero frame.
func (f Frame) Close() {
	if f.Image != nil {
		f.Image.Close() // Crucial to close the image to avoid memory leaks
	}
}

type MotionEvent struct {
	Detected  bool      `json:"detected"`
	Area      float64   `json:"area"`
	Timestamp time.Time `json:"timestamp"`
}

type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

func BoxFromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{
		X:      r.Min.X,
		Y:      r.Min.Y,
		Width:  r.Dx(),
		Height: r.Dy(),
	}
}

// Expand grows the box by ratio of its size on every side and clamps it to
// a width x height image.
func (b BoundingBox) Expand(ratio float64, width, height int) BoundingBox {
	dx := int(float64(b.Width) * ratio)
	dy := int(float64(b.Height) * ratio)
	r := image.Rect(b.X-dx, b.Y-dy, b.X+b.Width+dx, b.Y+b.Height+dy)
	return BoxFromRect(r.Intersect(image.Rect(0, 0, width, height)))
}

type Identity struct {
	ID        string    `json:"id" bson:"employee_id"`
	Name      string    `json:"name" bson:"name"`
	Embedding []float64 `json:"embedding" bson:"face_encoding"`
}

type Recognition struct {
	IdentityID string    `json:"identityId" bson:"employee_id"`
	Similarity float64   `json:"similarity" bson:"similarity"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	Status     string    `json:"status" bson:"status"`
}

const RecognitionSuccess = "success"

type FaceObservation struct {
	Box          BoundingBox `json:"box"`
	IdentityID   string      `json:"identityId,omitempty"`
	IdentityName string      `json:"identityName,omitempty"`
	Matched      bool        `json:"matched"`
	Similarity   float64     `json:"similarity"`
	Seq          uint64      `json:"seq"`
	Index        int         `json:"index"`
	Failed       bool        `json:"failed,omitempty"`
}

type PipelineConfig struct {
	// Motion
	MotionThreshold        float64       `json:"motionThreshold"`
	MinContourArea         float64       `json:"minContourArea"`
	MinMotionInterval      time.Duration `json:"minMotionInterval"`
	FramesAfterMotion      int           `json:"framesAfterMotion"`
	MaxFramesWithoutMotion int           `json:"maxFramesWithoutMotion"`

	// Capture
	TargetFPS            float64       `json:"targetFps"`
	BufferSize           int           `json:"bufferSize"`
	ReconnectDelay       time.Duration `json:"reconnectDelay"`
	MaxReconnectAttempts int           `json:"maxReconnectAttempts"`
	ReconnectCooldown    time.Duration `json:"reconnectCooldown"`
	MaxConsecutiveErrors int           `json:"maxConsecutiveErrors"`
	ReadRetryDelay       time.Duration `json:"readRetryDelay"`
	SourceStopTimeout    time.Duration `json:"sourceStopTimeout"`

	// Queues and workers
	ProcessQueueSize int `json:"processQueueSize"`
	FaceQueueSize    int `json:"faceQueueSize"`
	MaxWorkers       int `json:"maxWorkers"`

	// Faces
	SimilarityThreshold float64 `json:"similarityThreshold"`
	FaceBoxExpansion    float64 `json:"faceBoxExpansion"`
	FaceCropSize        int     `json:"faceCropSize"`

	// Persistence
	CapturesFolder string `json:"capturesFolder"`
	JPEGQuality    int    `json:"jpegQuality"`

	// Lifecycle
	JoinTimeout   time.Duration `json:"joinTimeout"`
	StatsInterval time.Duration `json:"statsInterval"`
	HandleSignals bool          `json:"handleSignals"`
}

type PipelineStats struct {
	RunID        string           `json:"runId"`
	Source       string           `json:"source"`
	State        string           `json:"state"`
	Counters     map[string]int64 `json:"counters"`
	CaptureQueue int              `json:"captureQueue"`
	MotionQueue  int              `json:"motionQueue"`
	FaceQueue    int              `json:"faceQueue"`
	FPS          float64          `json:"fps"`
	Uptime       int64            `json:"uptime"`
	Timestamp    int64            `json:"timestamp"`
}

type EnrollmentStats struct {
	Folder    string `json:"folder"`
	Files     int    `json:"files"`
	Enrolled  int    `json:"enrolled"`
	Rejected  int    `json:"rejected"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}
