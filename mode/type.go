package mode

import (
	"context"
	"io"
	"log/slog"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/data"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory, opts Options) error

// Display presents pipeline results. Every call happens on the goroutine
// running the mode processor.
type Display interface {
	Show(img model.Image) error
	ShowStatus(text string) error
	WaitKey(delay int) int
	Close() error
}

type ImageLoader func(path string) (model.Image, error)

type Options struct {
	// Detect
	Source  string
	Display Display

	// Enroll
	Folder string
	Loader ImageLoader

	// Identities
	Out io.Writer
}

func procStats(datasvc data.IService, stats interface{}) {
	switch stats := stats.(type) {
	case model.PipelineStats:
		procPipelineStats(datasvc, stats)
	case model.EnrollmentStats:
		procEnrollmentStats(datasvc, stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procPipelineStats(datasvc data.IService, stats model.PipelineStats) {
	err := datasvc.NewPipelineStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store pipeline stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procEnrollmentStats(datasvc data.IService, stats model.EnrollmentStats) {
	err := datasvc.NewEnrollmentStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store enrollment stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}
