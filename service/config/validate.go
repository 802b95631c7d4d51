package config

import (
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
)

// Validate reports every nonsensical tunable at once.
func Validate(cfg model.PipelineConfig) error {
	var errs error

	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = multierr.Append(errs, xerrors.Errorf(format, args...))
		}
	}

	check(cfg.FramesAfterMotion > 0, "framesAfterMotion must be positive, got %d", cfg.FramesAfterMotion)
	check(cfg.MinMotionInterval >= 0, "minMotionInterval must not be negative, got %v", cfg.MinMotionInterval)
	check(cfg.TargetFPS > 0, "targetFps must be positive, got %v", cfg.TargetFPS)
	check(cfg.BufferSize > 0, "bufferSize must be positive, got %d", cfg.BufferSize)
	check(cfg.ProcessQueueSize > 0, "processQueueSize must be positive, got %d", cfg.ProcessQueueSize)
	check(cfg.FaceQueueSize > 0, "faceQueueSize must be positive, got %d", cfg.FaceQueueSize)
	check(cfg.MaxWorkers > 0, "maxWorkers must be positive, got %d", cfg.MaxWorkers)
	check(cfg.MaxReconnectAttempts > 0, "maxReconnectAttempts must be positive, got %d", cfg.MaxReconnectAttempts)
	check(cfg.MaxConsecutiveErrors > 0, "maxConsecutiveErrors must be positive, got %d", cfg.MaxConsecutiveErrors)
	check(cfg.SimilarityThreshold >= 0 && cfg.SimilarityThreshold <= 1, "similarityThreshold must be within [0,1], got %v", cfg.SimilarityThreshold)
	check(cfg.JPEGQuality > 0 && cfg.JPEGQuality <= 100, "jpegQuality must be within (0,100], got %d", cfg.JPEGQuality)
	check(cfg.JoinTimeout > 0, "joinTimeout must be positive, got %v", cfg.JoinTimeout)
	check(cfg.StatsInterval > 0, "statsInterval must be positive, got %v", cfg.StatsInterval)

	return errs
}
