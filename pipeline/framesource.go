package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

const dropLogEvery = 100

type SourceStats struct {
	Frames    int64
	Dropped   int64
	QueueSize int
	FPS       float64
}

// FrameSource owns the capture device. A single goroutine reads frames at no
// more than the target rate into a drop-oldest ring buffer and reconnects
// whenever the device goes away.
type FrameSource struct {
	uri    string
	cfg    model.PipelineConfig
	opener DeviceOpener
	stats  StatsCollector
	clk    clock.Clock

	buffer  *ringBuffer[model.Frame]
	limiter *rate.Limiter

	seq     atomic.Uint64
	frames  atomic.Int64
	dropped atomic.Int64
	fps     atomic.Float64

	// FPS window, loop goroutine only
	fpsFrames int
	fpsStart  time.Time

	mu      sync.Mutex
	last    model.Frame
	started bool
	stopped atomic.Bool

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewFrameSource(uri string, cfg model.PipelineConfig, opener DeviceOpener, stats StatsCollector, clk clock.Clock) *FrameSource {
	if clk == nil {
		clk = clock.New()
	}
	if stats == nil {
		stats = NewStatsCollector()
	}

	return &FrameSource{
		uri:     uri,
		cfg:     cfg,
		opener:  opener,
		stats:   stats,
		clk:     clk,
		buffer:  newRingBuffer[model.Frame](cfg.BufferSize),
		limiter: rate.NewLimiter(rate.Limit(cfg.TargetFPS), 1),
		done:    make(chan struct{}),

		fpsStart: clk.Now(),
	}
}

// Start opens the device and launches the capture loop. The open is retried
// once after the reconnect delay; a second failure is returned.
func (s *FrameSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return xerrors.New("frame source already started")
	}
	s.started = true
	s.mu.Unlock()

	dev, err := s.opener.Open(s.uri)
	if err != nil {
		lgr.Logger.Warn("unable to open video source, retrying",
			slog.String("source", s.uri),
			slog.Duration("delay", s.cfg.ReconnectDelay),
			slog.Any("error", err),
		)

		if !sleepCtx(ctx, s.clk, s.cfg.ReconnectDelay) {
			close(s.done)
			return ctx.Err()
		}

		dev, err = s.opener.Open(s.uri)
		if err != nil {
			close(s.done)
			return xerrors.Errorf("unable to open video source %s: %w", s.uri, err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		cancel()
		dev.Close()
		close(s.done)
		return xerrors.New("frame source stopped while starting")
	}
	s.cancel = cancel
	s.mu.Unlock()
	s.fpsStart = s.clk.Now()

	lgr.Logger.Info("frame source started",
		slog.String("source", s.uri),
		slog.Int("bufferSize", s.buffer.Cap()),
		slog.Float64("targetFps", s.cfg.TargetFPS),
	)

	go s.run(loopCtx, dev)
	return nil
}

func (s *FrameSource) run(ctx context.Context, dev Device) {
	defer close(s.done)
	defer func() {
		if dev != nil {
			dev.Close()
		}
	}()

	consecutiveErrors := 0
	attempts := 0

	for {
		if ctx.Err() != nil {
			lgr.Logger.Info("frame source context cancelled")
			return
		}

		if dev == nil {
			dev = s.reconnect(ctx, &attempts)
			continue
		}

		if !s.pace(ctx) {
			return
		}

		img, err := dev.Read()
		if err != nil || img == nil || img.Empty() {
			if img != nil {
				img.Close() // Crucial to close the image to avoid memory leaks
			}
			s.stats.Inc(CaptureErrors)
			consecutiveErrors++

			if consecutiveErrors >= s.cfg.MaxConsecutiveErrors {
				lgr.Logger.Warn("too many consecutive read errors, reopening device",
					slog.String("source", s.uri),
					slog.Int("errors", consecutiveErrors),
				)
				dev.Close()
				dev = nil
				consecutiveErrors = 0
				sleepCtx(ctx, s.clk, s.cfg.ReconnectDelay)
				continue
			}

			sleepCtx(ctx, s.clk, s.cfg.ReadRetryDelay)
			continue
		}

		consecutiveErrors = 0
		s.publish(img)
	}
}

// pace holds read attempts to the target rate. The limiter is driven by the
// source clock so a mock clock controls it too.
func (s *FrameSource) pace(ctx context.Context) bool {
	now := s.clk.Now()
	r := s.limiter.ReserveN(now, 1)
	if !r.OK() {
		return ctx.Err() == nil
	}
	return sleepCtx(ctx, s.clk, r.DelayFrom(now))
}

// reconnect makes one open attempt and applies the backoff policy on failure.
// It returns nil when the attempt failed or the context was cancelled.
func (s *FrameSource) reconnect(ctx context.Context, attempts *int) Device {
	*attempts++
	s.stats.Inc(Reconnects)

	dev, err := s.opener.Open(s.uri)
	if err == nil {
		lgr.Logger.Info("video source reconnected",
			slog.String("source", s.uri),
			slog.Int("attempts", *attempts),
		)
		*attempts = 0
		return dev
	}

	if *attempts >= s.cfg.MaxReconnectAttempts {
		lgr.Logger.Error("max reconnect attempts reached, cooling down",
			slog.String("source", s.uri),
			slog.Int("attempts", *attempts),
			slog.Duration("cooldown", s.cfg.ReconnectCooldown),
			slog.Any("error", err),
		)
		*attempts = 0
		sleepCtx(ctx, s.clk, s.cfg.ReconnectCooldown)
		return nil
	}

	lgr.Logger.Warn("reconnect attempt failed",
		slog.String("source", s.uri),
		slog.Int("attempt", *attempts),
		slog.Int("maxAttempts", s.cfg.MaxReconnectAttempts),
		slog.Any("error", err),
	)
	sleepCtx(ctx, s.clk, s.cfg.ReconnectDelay)
	return nil
}

func (s *FrameSource) publish(img model.Image) {
	frame := model.Frame{
		Image:     img,
		Seq:       s.seq.Inc(),
		Timestamp: s.clk.Now(),
	}
	s.frames.Inc()
	s.stats.Inc(FramesCaptured)

	if evicted, dropped := s.buffer.Push(frame); dropped {
		evicted.Close()
		s.stats.Inc(CaptureDropped)
		if n := s.dropped.Inc(); n%dropLogEvery == 0 {
			lgr.Logger.Warn("capture buffer full, dropping oldest frames",
				slog.String("source", s.uri),
				slog.Int64("dropped", n),
			)
		}
	}

	// WARNING: Stop may have drained the buffer while we were pushing
	if s.stopped.Load() {
		for _, f := range s.buffer.Drain() {
			f.Close()
		}
	}

	s.fpsFrames++
	if elapsed := s.clk.Since(s.fpsStart); elapsed > time.Second {
		s.fps.Store(float64(s.fpsFrames) / elapsed.Seconds())
		s.fpsFrames = 0
		s.fpsStart = s.clk.Now()
	}
}

// Read returns the next buffered frame. When the buffer is empty it returns
// the last delivered frame again. The returned frame is a clone owned by the
// caller. ok is false only before the first frame or after Stop.
func (s *FrameSource) Read() (model.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return model.Frame{}, false
	}

	if f, ok := s.buffer.Pop(); ok {
		s.last.Close()
		s.last = f
		return f.Clone(), true
	}

	if s.last.Image == nil {
		return model.Frame{}, false
	}

	return s.last.Clone(), true
}

// readAfter is Read for consumers that track the last sequence they saw. It
// only clones a frame newer than after, so polling an idle source copies
// nothing.
func (s *FrameSource) readAfter(after uint64) (model.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return model.Frame{}, false
	}

	for {
		f, ok := s.buffer.Pop()
		if !ok {
			break
		}
		s.last.Close()
		s.last = f
		if f.Seq > after {
			return f.Clone(), true
		}
	}

	if s.last.Image == nil || s.last.Seq <= after {
		return model.Frame{}, false
	}
	return s.last.Clone(), true
}

// Stop cancels the capture loop and waits briefly for it to release the
// device. A loop stuck inside a driver call is abandoned with a warning.
func (s *FrameSource) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		started := s.started
		s.mu.Unlock()

		if started {
			select {
			case <-s.done:
			case <-time.After(s.cfg.SourceStopTimeout):
				lgr.Logger.Warn("frame source did not stop in time, abandoning it",
					slog.String("source", s.uri),
					slog.Duration("timeout", s.cfg.SourceStopTimeout),
				)
			}
		}

		s.mu.Lock()
		s.last.Close()
		s.last = model.Frame{}
		s.mu.Unlock()

		for _, f := range s.buffer.Drain() {
			f.Close()
		}

		lgr.Logger.Info("frame source stopped",
			slog.String("source", s.uri),
			slog.Int64("frames", s.frames.Load()),
			slog.Int64("dropped", s.dropped.Load()),
		)
	})
}

func (s *FrameSource) Stats() SourceStats {
	return SourceStats{
		Frames:    s.frames.Load(),
		Dropped:   s.dropped.Load(),
		QueueSize: s.buffer.Len(),
		FPS:       s.fps.Load(),
	}
}

func (s *FrameSource) FPS() float64 {
	return s.fps.Load()
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
