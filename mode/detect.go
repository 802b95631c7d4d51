package mode

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

const (
	streamSize = 100
	// How often the display pumps window events
	displayPollInterval = 30 * time.Millisecond
	// No frame for this long shows the waiting status
	waitingAfter = 5 * time.Second
	keyEsc       = 27
	waitingText  = "Waiting for connection..."
)

// Detect runs the motion-gated face pipeline on one source until the context
// is cancelled, the pipeline stops on its own or the display is quit.
func Detect(canxCtx context.Context, svcs pipeline.ServicesFactory, opts Options) error {
	// Create error and stats streams
	errorStream := make(chan interface{}, streamSize)
	statsStream := make(chan interface{}, streamSize)

	ctrl := pipeline.NewController(opts.Source, svcs, errorStream, statsStream)
	if err := ctrl.Start(canxCtx); err != nil {
		drainStreams(svcs, errorStream, statsStream)
		return err
	}

	var tick <-chan time.Time
	if opts.Display != nil {
		defer opts.Display.Close()

		ticker := time.NewTicker(displayPollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	lastFrame := time.Now()
	waiting := false

	// Wait for cancellation, pipeline exit, results, stats or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"detect mode context cancelled",
			)
			goto resume

		case <-ctrl.Done():
			lgr.Logger.Info(
				"pipeline stopped on its own",
				slog.String("runId", ctrl.ID()),
			)
			goto resume

		case <-ctrl.Sink().Updates():
			if opts.Display == nil {
				continue
			}

			frame, ok := ctrl.Sink().Latest()
			if !ok {
				continue
			}
			if err := opts.Display.Show(frame.Image); err != nil {
				lgr.Logger.Debug("unable to display frame", slog.Any("error", err))
			}
			frame.Close() // Crucial to close the image to avoid memory leaks
			lastFrame = time.Now()
			waiting = false

		case <-tick:
			key := opts.Display.WaitKey(1)
			if key == keyEsc || key == 'q' {
				lgr.Logger.Info("display closed by user")
				goto resume
			}

			if !waiting && time.Since(lastFrame) > waitingAfter {
				if err := opts.Display.ShowStatus(waitingText); err != nil {
					lgr.Logger.Debug("unable to display status", slog.Any("error", err))
				}
				waiting = true
			}

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

	// Stop the pipeline and then wait in a non-blocking way for stragglers
	// to report their stats and errors
resume:
	stopErr := ctrl.Stop()
	ctrl.Sink().Close()

	lgr.Logger.Info(
		"detect mode is waiting for all go routines to exit",
	)

	waitOnShutdown(svcs, errorStream, statsStream)
	return stopErr
}

// waitOnShutdown keeps persisting stats and errors for the configured
// shutdown period.
func waitOnShutdown(svcs pipeline.ServicesFactory, errorStream, statsStream chan interface{}) {
	period := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second
	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Timer expired, proceed with shutdown
			drainStreams(svcs, errorStream, statsStream)
			lgr.Logger.Info(
				"detect mode shutdown waiting period expired. Exiting now",
				slog.Duration("period", period),
			)
			return

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}

func drainStreams(svcs pipeline.ServicesFactory, errorStream, statsStream chan interface{}) {
	for {
		select {
		case s := <-statsStream:
			procStats(svcs.DataSvc, s)
		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		default:
			return
		}
	}
}
