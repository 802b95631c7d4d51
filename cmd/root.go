package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// CfgSvc is shared by every subcommand
	CfgSvc config.IService

	storeFlag string
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:          "vs-face",
	Short:        "Motion-gated face recognition for RTSP and local cameras",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load env vars if we are in DEV mode
		if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
			if err := godotenv.Load(); err != nil {
				lgr.Logger.Warn("no .env file loaded", slog.Any("error", xerrors.New(err.Error())))
			}
		}

		CfgSvc = config.NewEnv(config.NewHardCoded())
		if storeFlag != "" {
			CfgSvc = storeOverride{IService: CfgSvc, store: storeFlag}
		}

		logCloser = lgr.Setup(lgr.Options{
			Level:      CfgSvc.GetLogLevel(),
			File:       CfgSvc.GetLogFile(),
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 7,
		})

		if err := config.Validate(CfgSvc.GetPipelineConfig()); err != nil {
			return xerrors.Errorf("invalid configuration: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

type storeOverride struct {
	config.IService
	store string
}

func (s storeOverride) GetIdentityStore() string {
	return s.store
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "",
		fmt.Sprintf("identity store: %s, %s, %s or %s (default from VSF_IDENTITY_STORE or %s)",
			config.IdentityStoreFiles, config.IdentityStoreMongo, config.IdentityStorePostgres,
			config.IdentityStoreReference, config.IdentityStoreFiles))
}
