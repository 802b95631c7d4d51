package pipeline

import (
	"sync"

	"github.com/khaledhikmat/vs-face/model"
)

// ResultSink holds the newest processed frame for presentation. A push
// replaces any result that was never read. Pushes older than the held
// frame are discarded so the presented sequence never goes backwards.
type ResultSink struct {
	stats StatsCollector

	mu     sync.Mutex
	latest model.Frame
	fresh  bool
	closed bool

	updates chan struct{}
}

func NewResultSink(stats StatsCollector) *ResultSink {
	if stats == nil {
		stats = NewStatsCollector()
	}
	return &ResultSink{
		stats:   stats,
		updates: make(chan struct{}, 1),
	}
}

// Push never blocks. The sink takes ownership of frame.
func (s *ResultSink) Push(frame model.Frame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		frame.Close()
		return
	}

	// Face results can arrive after newer frames took the overlay path
	if s.latest.Image != nil && frame.Seq < s.latest.Seq {
		s.mu.Unlock()
		frame.Close()
		s.stats.Inc(ResultsDropped)
		return
	}

	if s.fresh {
		s.stats.Inc(ResultsDropped)
	}
	s.latest.Close()
	s.latest = frame
	s.fresh = true
	s.mu.Unlock()

	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Latest returns a clone of the newest result, owned by the caller.
func (s *ResultSink) Latest() (model.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest.Image == nil {
		return model.Frame{}, false
	}

	s.fresh = false
	return s.latest.Clone(), true
}

// Updates fires at least once after every push.
func (s *ResultSink) Updates() <-chan struct{} {
	return s.updates
}

func (s *ResultSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.latest.Close()
	s.latest = model.Frame{}
	s.fresh = false
}
