package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/identity"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

const (
	faceProc   = "pipeline_face_stage"
	tracerName = "github.com/khaledhikmat/vs-face/pipeline"
)

type faceJob struct {
	ctx     context.Context
	frame   model.Frame
	det     FaceDetection
	index   int
	results []model.FaceObservation
	wg      *sync.WaitGroup
}

type match struct {
	identity   model.Identity
	similarity float64
	matched    bool
}

// FaceStage locates faces in triggered frames and identifies each one on a
// bounded worker pool. Results are gathered by detection index, so the
// emitted order never depends on which worker finished first.
type FaceStage struct {
	cfg         model.PipelineConfig
	locator     FaceLocator
	directory   identity.Directory
	scorer      identity.Scorer
	annotator   Annotator
	persist     *persister
	stats       StatsCollector
	clk         clock.Clock
	sink        *ResultSink
	tracer      trace.Tracer
	journal     *Journal
	errorStream chan interface{}
	runID       string

	jobs      chan faceJob
	workers   sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

func NewFaceStage(cfg model.PipelineConfig,
	svcs ServicesFactory,
	stats StatsCollector,
	sink *ResultSink,
	errorStream chan interface{},
	runID string) *FaceStage {
	clk := svcs.Clock
	if clk == nil {
		clk = clock.New()
	}
	tracer := svcs.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	scorer := svcs.Scorer
	if scorer == nil {
		scorer = identity.NewEuclidean()
	}

	return &FaceStage{
		cfg:         cfg,
		locator:     svcs.Faces,
		directory:   svcs.Directory,
		scorer:      scorer,
		annotator:   svcs.Annotator,
		persist:     newPersister(svcs.Writer, cfg),
		stats:       stats,
		clk:         clk,
		sink:        sink,
		tracer:      tracer,
		journal:     svcs.Journal,
		errorStream: errorStream,
		runID:       runID,
		jobs:        make(chan faceJob, cfg.MaxWorkers),
	}
}

// Start launches the worker pool. Workers run until Close.
func (s *FaceStage) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.cfg.MaxWorkers; i++ {
			s.workers.Add(1)
			go func(worker int) {
				defer s.workers.Done()
				for job := range s.jobs {
					s.runUnit(job)
				}
				lgr.Logger.Debug("face worker exited", slog.Int("worker", worker))
			}(i)
		}
	})
}

// Close stops the worker pool once every queued unit has completed. It must
// not be called while ProcessFrame is running.
func (s *FaceStage) Close() {
	s.closeOnce.Do(func() {
		close(s.jobs)
		s.workers.Wait()
	})
}

func (s *FaceStage) Run(ctx context.Context, in <-chan model.Frame) {
	for {
		select {
		case <-ctx.Done():
			lgr.Logger.Info("face stage context cancelled")
			return

		case frame := <-in:
			out, faces := s.ProcessFrame(ctx, frame)
			s.display(out, faces)
		}
	}
}

// ProcessFrame takes ownership of frame and returns the frame to present,
// annotated with one box per detected face, plus the observations in
// detection order. A frame without faces is returned unchanged.
func (s *FaceStage) ProcessFrame(ctx context.Context, frame model.Frame) (model.Frame, []model.FaceObservation) {
	ctx, span := s.tracer.Start(ctx, "face.frame", trace.WithAttributes(
		attribute.Int64("seq", int64(frame.Seq)),
	))
	defer span.End()

	dets := s.detect(frame)
	span.SetAttributes(attribute.Int("faces", len(dets)))
	s.stats.Inc(FramesProcessed)
	if len(dets) == 0 {
		return frame, nil
	}
	s.stats.Add(FacesDetected, int64(len(dets)))

	results := make([]model.FaceObservation, len(dets))
	var wg sync.WaitGroup
	wg.Add(len(dets))

dispatch:
	for i, det := range dets {
		job := faceJob{
			ctx:     ctx,
			frame:   frame,
			det:     det,
			index:   i,
			results: results,
			wg:      &wg,
		}

		select {
		case s.jobs <- job:
		case <-ctx.Done():
			// Units never dispatched count as failed
			for j := i; j < len(dets); j++ {
				results[j] = failedObservation(frame, dets[j], j)
				wg.Done()
			}
			break dispatch
		}
	}

	wg.Wait()

	status := "unknown"
	for _, obs := range results {
		if obs.Matched {
			status = "match"
			break
		}
	}

	out := frame.Clone()
	if s.annotator != nil {
		if err := s.annotator.DrawFaces(out.Image, results); err != nil {
			lgr.Logger.Debug("unable to draw faces", slog.Any("error", err))
		}
	}

	if _, err := s.persist.saveFrame(out.Image, status, frame.Timestamp); err != nil {
		lgr.Logger.Error("unable to save face frame", slog.Any("error", err))
	}
	frame.Close()

	if err := s.journal.Record(s.runID, out, results, status); err != nil {
		lgr.Logger.Warn("unable to write recognition journal", slog.Any("error", err))
	}

	lgr.Logger.Info("faces processed",
		slog.Uint64("seq", out.Seq),
		slog.Int("faces", len(results)),
		slog.String("status", status),
	)

	return out, results
}

// detect calls the locator. Failures yield no faces.
func (s *FaceStage) detect(frame model.Frame) (dets []FaceDetection) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(frame.Seq, -1, fmt.Errorf("face locator panic: %v", r))
			dets = nil
		}
	}()

	var err error
	dets, err = s.locator.Detect(frame.Image)
	if err != nil {
		s.fail(frame.Seq, -1, err)
		return nil
	}
	return dets
}

func (s *FaceStage) runUnit(job faceJob) {
	defer job.wg.Done()

	// No-match until the unit completes
	job.results[job.index] = failedObservation(job.frame, job.det, job.index)

	ctx, span := s.tracer.Start(job.ctx, "face.unit", trace.WithAttributes(
		attribute.Int64("seq", int64(job.frame.Seq)),
		attribute.Int("index", job.index),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("face unit panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.fail(job.frame.Seq, job.index, err)
		}
	}()

	obs, err := s.identifyFace(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(job.frame.Seq, job.index, err)
		return
	}

	span.SetAttributes(
		attribute.Bool("matched", obs.Matched),
		attribute.Float64("similarity", obs.Similarity),
	)
	job.results[job.index] = obs
}

// identifyFace scores, persists and, on a match, records one face.
func (s *FaceStage) identifyFace(ctx context.Context, job faceJob) (model.FaceObservation, error) {
	obs := model.FaceObservation{
		Box:   job.det.Box,
		Seq:   job.frame.Seq,
		Index: job.index,
	}

	m, err := s.identify(ctx, job.det.Embedding)
	if err != nil {
		return obs, xerrors.Errorf("identifying face: %w", err)
	}

	obs.Similarity = m.similarity
	if m.matched {
		obs.Matched = true
		obs.IdentityID = m.identity.ID
		obs.IdentityName = m.identity.Name
	}

	if err := s.saveCrop(job, obs); err != nil {
		return obs, err
	}

	if obs.Matched {
		err := s.directory.RecordMatch(ctx, model.Recognition{
			IdentityID: obs.IdentityID,
			Similarity: obs.Similarity,
			Timestamp:  s.clk.Now(),
			Status:     model.RecognitionSuccess,
		})
		if err != nil {
			return obs, xerrors.Errorf("recording match for %s: %w", obs.IdentityID, err)
		}
		s.stats.Inc(FacesMatched)
	}

	return obs, nil
}

// identify returns the first identity scoring at or above the threshold, or
// the best scoring identity below it.
func (s *FaceStage) identify(ctx context.Context, embedding []float64) (match, error) {
	known, err := s.directory.ListKnownIdentities(ctx)
	if err != nil {
		return match{}, err
	}

	best := match{}
	for _, id := range known {
		score := s.scorer.Score(embedding, id.Embedding)
		if score >= s.cfg.SimilarityThreshold {
			return match{identity: id, similarity: score, matched: true}, nil
		}
		if score > best.similarity {
			best = match{identity: id, similarity: score}
		}
	}

	return best, nil
}

func (s *FaceStage) saveCrop(job faceJob, obs model.FaceObservation) error {
	if s.annotator == nil {
		return nil
	}

	crop, err := s.annotator.Crop(job.frame.Image, job.det.Box, s.cfg.FaceBoxExpansion, s.cfg.FaceCropSize)
	if err != nil {
		return xerrors.Errorf("cropping face %d: %w", job.index, err)
	}
	defer crop.Close()

	if _, err := s.persist.saveFace(crop, obs, job.frame.Timestamp); err != nil {
		return err
	}
	return nil
}

// display hands the frame to the sink. Frames without faces go unchanged.
func (s *FaceStage) display(frame model.Frame, faces []model.FaceObservation) {
	if s.annotator != nil && len(faces) > 0 {
		status := fmt.Sprintf("faces: %d", len(faces))
		err := s.annotator.Overlay(frame.Image, OverlayInfo{
			Timestamp: frame.Timestamp,
			Status:    status,
		})
		if err != nil {
			lgr.Logger.Debug("unable to draw overlay", slog.Any("error", err))
		}
	}

	s.sink.Push(frame)
}

func (s *FaceStage) fail(seq uint64, index int, err error) {
	s.stats.Inc(FaceErrors)
	lgr.Logger.Error("face processing failed",
		slog.Uint64("seq", seq),
		slog.Int("index", index),
		slog.Any("error", err),
	)
	reportError(s.errorStream, model.GenError(faceProc, err, map[string]interface{}{
		"seq":   seq,
		"index": index,
	}, "face processing failed"))
}

func failedObservation(frame model.Frame, det FaceDetection, index int) model.FaceObservation {
	return model.FaceObservation{
		Box:    det.Box,
		Seq:    frame.Seq,
		Index:  index,
		Failed: true,
	}
}
