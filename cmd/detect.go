package cmd

import (
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/khaledhikmat/vs-face/mode"
	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/lgr"
	"github.com/khaledhikmat/vs-face/service/vision"
)

var (
	rtspURL     string
	cameraIndex int
	showDisplay bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Watch a video source and identify faces whenever motion is detected",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetect(cmd)
	},
}

func init() {
	detectCmd.Flags().StringVar(&rtspURL, "rtsp", "", "RTSP URL or video file to watch")
	detectCmd.Flags().IntVar(&cameraIndex, "camera", -1, "local camera index to watch")
	detectCmd.Flags().BoolVar(&showDisplay, "display", false, "show annotated frames in a window (ESC or q to quit)")
	detectCmd.MarkFlagsMutuallyExclusive("rtsp", "camera")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command) error {
	opts := mode.Options{
		Source: detectSource(),
	}
	if showDisplay {
		opts.Display = vision.NewDisplay("vs-face")
	}

	lgr.Logger.Info("detect mode starting....",
		slog.String("source", opts.Source),
		slog.Bool("display", showDisplay),
		slog.String("store", CfgSvc.GetIdentityStore()),
	)

	return runMode(cmd, mode.Detect, true, opts, func(svcs *pipeline.ServicesFactory) {
		cfg := CfgSvc.GetPipelineConfig()
		svcs.Opener = vision.NewOpener(CfgSvc.GetCaptureWidth(), CfgSvc.GetCaptureHeight())
		svcs.Motion = vision.NewMotionDetector(cfg.MotionThreshold, cfg.MinContourArea)
		svcs.Annotator = vision.NewAnnotator()
		svcs.Writer = vision.NewJPEGWriter()
		svcs.Journal = pipeline.NewJournal(CfgSvc.GetJournalFile())
	})
}

func detectSource() string {
	switch {
	case rtspURL != "":
		return rtspURL
	case cameraIndex >= 0:
		return strconv.Itoa(cameraIndex)
	default:
		return CfgSvc.GetDefaultSource()
	}
}
