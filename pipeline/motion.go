package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

const motionProc = "pipeline_motion_stage"

// MotionStage compares consecutive frames and, once motion is confirmed,
// routes the next FramesAfterMotion frames (the trigger frame included) to
// face processing. Everything else is overlaid and shown directly.
//
// A new event is only confirmed after the current burst has been fully
// forwarded and MinMotionInterval has elapsed since the last confirmation.
type MotionStage struct {
	cfg         model.PipelineConfig
	estimator   MotionEstimator
	annotator   Annotator
	persist     *persister
	stats       StatsCollector
	clk         clock.Clock
	sink        *ResultSink
	faces       chan<- model.Frame
	fps         func() float64
	errorStream chan interface{}

	// Stage goroutine only
	prev          model.Image
	confirmed     bool
	lastConfirmed time.Time
	remaining     int
	lastArea      float64
	withoutMotion int
}

func NewMotionStage(cfg model.PipelineConfig,
	svcs ServicesFactory,
	stats StatsCollector,
	sink *ResultSink,
	faces chan<- model.Frame,
	fps func() float64,
	errorStream chan interface{}) *MotionStage {
	clk := svcs.Clock
	if clk == nil {
		clk = clock.New()
	}
	if fps == nil {
		fps = func() float64 { return 0 }
	}

	return &MotionStage{
		cfg:         cfg,
		estimator:   svcs.Motion,
		annotator:   svcs.Annotator,
		persist:     newPersister(svcs.Writer, cfg),
		stats:       stats,
		clk:         clk,
		sink:        sink,
		faces:       faces,
		fps:         fps,
		errorStream: errorStream,
	}
}

func (m *MotionStage) Run(ctx context.Context, in <-chan model.Frame) {
	defer m.release()

	for {
		select {
		case <-ctx.Done():
			lgr.Logger.Info("motion stage context cancelled")
			return

		case frame := <-in:
			m.process(frame)
		}
	}
}

// process takes ownership of frame and reports whether it was forwarded to
// face processing.
func (m *MotionStage) process(frame model.Frame) bool {
	if m.prev == nil {
		m.prev = frame.Image.Clone()
		m.display(frame)
		return false
	}

	result := m.estimate(frame)
	if result.Annotated != nil {
		defer result.Annotated.Close()
	}

	m.prev.Close()
	m.prev = frame.Image.Clone()

	event := model.MotionEvent{
		Detected:  result.Detected,
		Area:      result.Area,
		Timestamp: frame.Timestamp,
	}
	if event.Detected {
		m.withoutMotion = 0
		m.lastArea = event.Area
		m.confirm(frame, event, result.Annotated)
	} else {
		m.withoutMotion++
		if m.cfg.MaxFramesWithoutMotion > 0 && m.withoutMotion%m.cfg.MaxFramesWithoutMotion == 0 {
			lgr.Logger.Debug("no motion detected",
				slog.Int("frames", m.withoutMotion),
			)
		}
	}

	if m.remaining > 0 {
		select {
		case m.faces <- frame:
			m.remaining--
			m.stats.Inc(FramesForwarded)
			return true
		default:
			// The burst keeps its remaining count; the next frame tries again
			m.stats.Inc(FaceQueueDropped)
			lgr.Logger.Warn("face queue full, dropping frame from face processing",
				slog.Uint64("seq", frame.Seq),
			)
		}
	}

	m.display(frame)
	return false
}

// estimate calls the motion capability. Failures count as no motion.
func (m *MotionStage) estimate(frame model.Frame) (result MotionResult) {
	defer func() {
		if r := recover(); r != nil {
			m.fail(frame, fmt.Errorf("motion estimator panic: %v", r))
			result = MotionResult{}
		}
	}()

	var err error
	result, err = m.estimator.Estimate(m.prev, frame.Image)
	if err != nil {
		m.fail(frame, err)
		if result.Annotated != nil {
			result.Annotated.Close()
		}
		return MotionResult{}
	}
	return result
}

func (m *MotionStage) confirm(frame model.Frame, event model.MotionEvent, annotated model.Image) {
	if m.remaining > 0 {
		return
	}

	now := m.clk.Now()
	if m.confirmed && now.Sub(m.lastConfirmed) < m.cfg.MinMotionInterval {
		return
	}

	m.confirmed = true
	m.lastConfirmed = now
	m.remaining = m.cfg.FramesAfterMotion
	m.stats.Inc(MotionEvents)

	lgr.Logger.Info("motion detected",
		slog.Uint64("seq", frame.Seq),
		slog.Float64("area", event.Area),
		slog.Int("frames", m.remaining),
	)

	snapshot := annotated
	if snapshot == nil {
		snapshot = frame.Image
	}
	if _, err := m.persist.saveMotion(snapshot, event); err != nil {
		lgr.Logger.Error("unable to save motion snapshot", slog.Any("error", err))
		reportError(m.errorStream, model.GenError(motionProc, err, map[string]interface{}{
			"seq": frame.Seq,
		}, "unable to save motion snapshot"))
	}
}

// display overlays a copy of frame and hands it to the sink.
func (m *MotionStage) display(frame model.Frame) {
	out := frame.Clone()
	frame.Close()

	if m.annotator != nil {
		err := m.annotator.Overlay(out.Image, OverlayInfo{
			Timestamp:  out.Timestamp,
			FPS:        m.fps(),
			MotionArea: m.lastArea,
		})
		if err != nil {
			lgr.Logger.Debug("unable to draw overlay", slog.Any("error", err))
		}
	}

	m.sink.Push(out)
}

func (m *MotionStage) fail(frame model.Frame, err error) {
	m.stats.Inc(MotionErrors)
	lgr.Logger.Error("motion estimation failed",
		slog.Uint64("seq", frame.Seq),
		slog.Any("error", err),
	)
	reportError(m.errorStream, model.GenError(motionProc, err, map[string]interface{}{
		"seq": frame.Seq,
	}, "motion estimation failed"))
}

func (m *MotionStage) release() {
	if m.prev != nil {
		m.prev.Close()
		m.prev = nil
	}
}
