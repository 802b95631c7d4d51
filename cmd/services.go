package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"

	"github.com/khaledhikmat/vs-face/mode"
	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/data"
	"github.com/khaledhikmat/vs-face/service/identity"
	"github.com/khaledhikmat/vs-face/service/lgr"
	"github.com/khaledhikmat/vs-face/service/vision"
)

const tracerName = "github.com/khaledhikmat/vs-face"

// newServices assembles the capabilities a mode processor needs. Face models
// are only loaded when withFaces is set. The returned cleanup releases
// everything that was opened.
func newServices(ctx context.Context, withFaces bool) (pipeline.ServicesFactory, func(), error) {
	dataSvc := data.NewFilesDB(CfgSvc)

	directory, err := mode.NewDirectory(ctx, CfgSvc, dataSvc)
	if err != nil {
		return pipeline.ServicesFactory{}, nil, err
	}

	svcs := pipeline.ServicesFactory{
		CfgSvc:    CfgSvc,
		DataSvc:   dataSvc,
		Directory: directory,
		Scorer:    identity.NewEuclidean(),
		Tracer:    otel.Tracer(tracerName),
	}

	var locator *vision.FaceLocator
	if withFaces {
		locator, err = vision.NewFaceLocator(CfgSvc.GetCascadeModelPath(), CfgSvc.GetEmbedderModelPath())
		if err != nil {
			directory.Close(context.Background())
			return pipeline.ServicesFactory{}, nil, err
		}
		svcs.Faces = locator
	}

	cleanup := func() {
		// The run context may already be cancelled
		err := directory.Close(context.Background())
		if locator != nil {
			err = multierr.Append(err, locator.Close())
		}
		if err != nil {
			lgr.Logger.Warn("error releasing services", slog.Any("error", err))
		}
	}

	return svcs, cleanup, nil
}

// runMode runs proc with freshly assembled services. setup, when set, adds
// the capabilities only proc needs.
func runMode(cmd *cobra.Command, proc mode.Processor, withFaces bool, opts mode.Options, setup func(*pipeline.ServicesFactory)) error {
	svcs, cleanup, err := newServices(cmd.Context(), withFaces)
	if err != nil {
		return err
	}
	defer cleanup()

	if setup != nil {
		setup(&svcs)
	}
	return proc(cmd.Context(), svcs, opts)
}
