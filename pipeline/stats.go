package pipeline

import (
	"go.uber.org/atomic"
)

type Counter int

const (
	FramesCaptured Counter = iota
	CaptureDropped
	CaptureErrors
	Reconnects
	FramesDispatched
	IdlePolls
	MotionQueueDropped
	MotionErrors
	MotionEvents
	FramesForwarded
	FaceQueueDropped
	FramesProcessed
	FacesDetected
	FacesMatched
	FaceErrors
	ResultsDropped
	numCounters
)

var counterNames = [numCounters]string{
	FramesCaptured:     "framesCaptured",
	CaptureDropped:     "captureDropped",
	CaptureErrors:      "captureErrors",
	Reconnects:         "reconnects",
	FramesDispatched:   "framesDispatched",
	IdlePolls:          "idlePolls",
	MotionQueueDropped: "motionQueueDropped",
	MotionErrors:       "motionErrors",
	MotionEvents:       "motionEvents",
	FramesForwarded:    "framesForwarded",
	FaceQueueDropped:   "faceQueueDropped",
	FramesProcessed:    "framesProcessed",
	FacesDetected:      "facesDetected",
	FacesMatched:       "facesMatched",
	FaceErrors:         "faceErrors",
	ResultsDropped:     "resultsDropped",
}

func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return "unknown"
	}
	return counterNames[c]
}

// StatsCollector is shared by every stage of a run. Implementations must be
// safe for concurrent use.
type StatsCollector interface {
	Inc(c Counter) int64
	Add(c Counter, n int64) int64
	Get(c Counter) int64
	Snapshot() map[string]int64
}

type atomicStats struct {
	counters [numCounters]atomic.Int64
}

func NewStatsCollector() StatsCollector {
	return &atomicStats{}
}

func (s *atomicStats) Inc(c Counter) int64 {
	return s.counters[c].Inc()
}

func (s *atomicStats) Add(c Counter, n int64) int64 {
	return s.counters[c].Add(n)
}

func (s *atomicStats) Get(c Counter) int64 {
	return s.counters[c].Load()
}

func (s *atomicStats) Snapshot() map[string]int64 {
	out := make(map[string]int64, numCounters)
	for i := Counter(0); i < numCounters; i++ {
		out[i.String()] = s.counters[i].Load()
	}
	return out
}
