package pipeline

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	controllerProc = "pipeline_controller"
	// How often the dispatcher polls an empty source
	dispatchPollInterval = 5 * time.Millisecond
)

type stage struct {
	name string
	done chan struct{}
}

// Controller wires FrameSource -> MotionStage -> FaceStage -> ResultSink and
// owns the lifecycle of one run.
type Controller struct {
	id   string
	uri  string
	cfg  model.PipelineConfig
	svcs ServicesFactory
	clk  clock.Clock

	errorStream chan interface{}
	statsStream chan interface{}

	state atomic.Int32
	stats StatsCollector

	source      *FrameSource
	motion      *MotionStage
	face        *FaceStage
	sink        *ResultSink
	motionQueue chan model.Frame
	faceQueue   chan model.Frame

	mu          sync.Mutex
	cancel      context.CancelFunc
	stopSignals context.CancelFunc
	scheduler   gocron.Scheduler
	stages      []stage
	startTime   time.Time

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

func NewController(uri string, svcs ServicesFactory, errorStream chan interface{}, statsStream chan interface{}) *Controller {
	cfg := svcs.CfgSvc.GetPipelineConfig()
	clk := svcs.Clock
	if clk == nil {
		clk = clock.New()
		svcs.Clock = clk
	}

	id := uuid.NewString()
	stats := NewStatsCollector()
	sink := NewResultSink(stats)
	motionQueue := make(chan model.Frame, cfg.ProcessQueueSize)
	faceQueue := make(chan model.Frame, cfg.FaceQueueSize)
	source := NewFrameSource(uri, cfg, svcs.Opener, stats, clk)

	return &Controller{
		id:          id,
		uri:         uri,
		cfg:         cfg,
		svcs:        svcs,
		clk:         clk,
		errorStream: errorStream,
		statsStream: statsStream,
		stats:       stats,
		source:      source,
		motion:      NewMotionStage(cfg, svcs, stats, sink, faceQueue, source.FPS, errorStream),
		face:        NewFaceStage(cfg, svcs, stats, sink, errorStream, id),
		sink:        sink,
		motionQueue: motionQueue,
		faceQueue:   faceQueue,
		done:        make(chan struct{}),
	}
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Done is closed once the controller reaches the stopped state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) Sink() *ResultSink {
	return c.sink
}

// Start is only valid from idle. A source that cannot be opened leaves the
// controller stopped and returns the error.
func (c *Controller) Start(parent context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return xerrors.Errorf("cannot start pipeline in state %s: %w", c.State(), ErrNotIdle)
	}

	lgr.Logger.Info("pipeline starting....",
		slog.String("runId", c.id),
		slog.String("source", c.uri),
		slog.Int("workers", c.cfg.MaxWorkers),
		slog.Int("framesAfterMotion", c.cfg.FramesAfterMotion),
	)

	ctx, cancel := context.WithCancel(parent)
	stopSignals := func() {}
	if c.cfg.HandleSignals {
		ctx, stopSignals = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	}
	c.mu.Lock()
	c.cancel = cancel
	c.stopSignals = stopSignals
	c.mu.Unlock()

	if err := c.source.Start(ctx); err != nil {
		stopSignals()
		cancel()
		// A concurrent Stop owns the transition otherwise
		if c.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
			close(c.done)
		}
		reportError(c.errorStream, model.GenError(controllerProc, err, map[string]interface{}{
			"source": c.uri,
		}, "error opening video source"))
		return err
	}

	c.startTime = c.clk.Now()
	c.face.Start()
	c.spawn(ctx, "dispatcher", c.dispatch)
	c.spawn(ctx, "motion", func(ctx context.Context) { c.motion.Run(ctx, c.motionQueue) })
	c.spawn(ctx, "face", func(ctx context.Context) { c.face.Run(ctx, c.faceQueue) })

	if err := c.startReporter(); err != nil {
		lgr.Logger.Warn("unable to schedule stats reporter", slog.Any("error", err))
	}

	// Any cancellation of the run context, signals included, stops the pipeline
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return nil
}

func (c *Controller) spawn(ctx context.Context, name string, fn func(context.Context)) {
	st := stage{name: name, done: make(chan struct{})}
	c.mu.Lock()
	c.stages = append(c.stages, st)
	c.mu.Unlock()

	go func() {
		defer close(st.done)
		defer func() {
			if r := recover(); r != nil {
				lgr.Logger.Error("pipeline stage panicked",
					slog.String("stage", name),
					slog.Any("panic", r),
				)
				reportError(c.errorStream, model.GenError(controllerProc, xerrors.Errorf("stage %s panic: %v", name, r), nil, "pipeline stage panicked"))
				c.mu.Lock()
				cancel := c.cancel
				c.mu.Unlock()
				cancel()
			}
		}()
		fn(ctx)
	}()
}

// dispatch moves fresh frames from the source into the motion queue,
// dropping them when the motion stage falls behind.
func (c *Controller) dispatch(ctx context.Context) {
	var lastSeq uint64

	for {
		if ctx.Err() != nil {
			lgr.Logger.Info("dispatcher context cancelled")
			return
		}

		frame, ok := c.source.readAfter(lastSeq)
		if !ok {
			c.stats.Inc(IdlePolls)
			if !sleepCtx(ctx, c.clk, dispatchPollInterval) {
				return
			}
			continue
		}
		lastSeq = frame.Seq

		select {
		case c.motionQueue <- frame:
			c.stats.Inc(FramesDispatched)
		default:
			frame.Close()
			if n := c.stats.Inc(MotionQueueDropped); n%dropLogEvery == 1 {
				lgr.Logger.Warn("motion queue full, dropping frames",
					slog.Int64("dropped", n),
				)
			}
		}
	}
}

func (c *Controller) startReporter() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(c.cfg.StatsInterval),
		gocron.NewTask(c.reportStats),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return err
	}

	scheduler.Start()
	c.scheduler = scheduler
	return nil
}

func (c *Controller) Stats() model.PipelineStats {
	source := c.source.Stats()
	var uptime int64
	if !c.startTime.IsZero() {
		uptime = int64(c.clk.Since(c.startTime).Seconds())
	}

	return model.PipelineStats{
		RunID:        c.id,
		Source:       c.uri,
		State:        c.State().String(),
		Counters:     c.stats.Snapshot(),
		CaptureQueue: source.QueueSize,
		MotionQueue:  len(c.motionQueue),
		FaceQueue:    len(c.faceQueue),
		FPS:          source.FPS,
		Uptime:       uptime,
		Timestamp:    c.clk.Now().Unix(),
	}
}

func (c *Controller) reportStats() {
	stats := c.Stats()

	lgr.Logger.Info("pipeline stats",
		slog.String("runId", stats.RunID),
		slog.Float64("fps", stats.FPS),
		slog.Int("captureQueue", stats.CaptureQueue),
		slog.Int("motionQueue", stats.MotionQueue),
		slog.Int("faceQueue", stats.FaceQueue),
		slog.Any("counters", stats.Counters),
	)

	if c.statsStream == nil {
		return
	}

	select {
	case c.statsStream <- stats:
	default:
		lgr.Logger.Warn("stats stream full, dropping stats")
	}
}

// Stop is idempotent. It cancels the run, gives each stage JoinTimeout to
// exit, then releases the device and the worker pool.
func (c *Controller) Stop() error {
	c.stopOnce.Do(func() {
		if c.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
			close(c.done)
			return
		}

		if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
			// Start failed, already stopped
			return
		}

		lgr.Logger.Info("pipeline stopping", slog.String("runId", c.id))
		c.mu.Lock()
		cancel := c.cancel
		stopSignals := c.stopSignals
		stages := append([]stage(nil), c.stages...)
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		var errs error
		exited := map[string]bool{}
		for _, st := range stages {
			select {
			case <-st.done:
				exited[st.name] = true
			case <-time.After(c.cfg.JoinTimeout):
				lgr.Logger.Warn("pipeline stage did not exit in time, abandoning it",
					slog.String("stage", st.name),
					slog.Duration("timeout", c.cfg.JoinTimeout),
				)
				errs = multierr.Append(errs, xerrors.Errorf("stage %s did not exit within %v", st.name, c.cfg.JoinTimeout))
			}
		}

		c.source.Stop()

		// WARNING: closing the pool under a running face stage would panic its sends
		if exited["face"] {
			c.face.Close()
		}

		if c.scheduler != nil {
			if err := c.scheduler.Shutdown(); err != nil {
				errs = multierr.Append(errs, xerrors.Errorf("stopping stats reporter: %w", err))
			}
		}
		c.reportStats()

		if exited["dispatcher"] && exited["motion"] {
			drain(c.motionQueue)
		}
		if exited["motion"] && exited["face"] {
			drain(c.faceQueue)
		}

		if err := c.svcs.Journal.Close(); err != nil {
			errs = multierr.Append(errs, xerrors.Errorf("closing journal: %w", err))
		}

		if stopSignals != nil {
			stopSignals()
		}
		c.stopErr = errs
		c.state.Store(int32(StateStopped))
		close(c.done)

		lgr.Logger.Info("pipeline stopped",
			slog.String("runId", c.id),
			slog.Any("counters", c.stats.Snapshot()),
		)
	})

	return c.stopErr
}

func drain(queue chan model.Frame) {
	for {
		select {
		case f := <-queue:
			f.Close()
		default:
			return
		}
	}
}
