package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

// envService reads overrides from the process environment and falls back
// to the wrapped service for anything unset or unparsable.
type envService struct {
	base   IService
	lookup func(string) (string, bool)
}

func NewEnv(base IService) IService {
	return &envService{
		base:   base,
		lookup: os.LookupEnv,
	}
}

func (svc *envService) GetModeMaxShutdownTime() int {
	return svc.intVar("VSF_MODE_MAX_SHUTDOWN_TIME", svc.base.GetModeMaxShutdownTime())
}

func (svc *envService) GetDataFolder() string {
	return svc.stringVar("VSF_DATA_FOLDER", svc.base.GetDataFolder())
}

func (svc *envService) GetCapturesFolder() string {
	return svc.stringVar("VSF_CAPTURES_FOLDER", svc.base.GetCapturesFolder())
}

func (svc *envService) GetPipelineConfig() model.PipelineConfig {
	cfg := svc.base.GetPipelineConfig()

	cfg.MotionThreshold = svc.floatVar("VSF_MOTION_THRESHOLD", cfg.MotionThreshold)
	cfg.MinContourArea = svc.floatVar("VSF_MIN_CONTOUR_AREA", cfg.MinContourArea)
	cfg.MinMotionInterval = svc.durationVar("VSF_MIN_MOTION_INTERVAL", cfg.MinMotionInterval)
	cfg.FramesAfterMotion = svc.intVar("VSF_FRAMES_AFTER_MOTION", cfg.FramesAfterMotion)
	cfg.MaxFramesWithoutMotion = svc.intVar("VSF_MAX_FRAMES_WITHOUT_MOTION", cfg.MaxFramesWithoutMotion)

	cfg.TargetFPS = svc.floatVar("VSF_TARGET_FPS", cfg.TargetFPS)
	cfg.BufferSize = svc.intVar("VSF_BUFFER_SIZE", cfg.BufferSize)
	cfg.ReconnectDelay = svc.durationVar("VSF_RECONNECT_DELAY", cfg.ReconnectDelay)
	cfg.MaxReconnectAttempts = svc.intVar("VSF_MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts)
	cfg.ReconnectCooldown = svc.durationVar("VSF_RECONNECT_COOLDOWN", cfg.ReconnectCooldown)
	cfg.MaxConsecutiveErrors = svc.intVar("VSF_MAX_CONSECUTIVE_ERRORS", cfg.MaxConsecutiveErrors)

	cfg.ProcessQueueSize = svc.intVar("VSF_PROCESS_QUEUE_SIZE", cfg.ProcessQueueSize)
	cfg.FaceQueueSize = svc.intVar("VSF_FACE_QUEUE_SIZE", cfg.FaceQueueSize)
	cfg.MaxWorkers = svc.intVar("VSF_MAX_WORKERS", cfg.MaxWorkers)

	cfg.SimilarityThreshold = svc.floatVar("VSF_SIMILARITY_THRESHOLD", cfg.SimilarityThreshold)
	cfg.JPEGQuality = svc.intVar("VSF_JPEG_QUALITY", cfg.JPEGQuality)
	cfg.CapturesFolder = svc.GetCapturesFolder()

	cfg.JoinTimeout = svc.durationVar("VSF_JOIN_TIMEOUT", cfg.JoinTimeout)
	cfg.StatsInterval = svc.durationVar("VSF_STATS_INTERVAL", cfg.StatsInterval)

	return cfg
}

func (svc *envService) GetDefaultSource() string {
	return svc.stringVar("VSF_SOURCE", svc.base.GetDefaultSource())
}

func (svc *envService) GetCaptureWidth() int {
	return svc.intVar("VSF_CAPTURE_WIDTH", svc.base.GetCaptureWidth())
}

func (svc *envService) GetCaptureHeight() int {
	return svc.intVar("VSF_CAPTURE_HEIGHT", svc.base.GetCaptureHeight())
}

func (svc *envService) GetIdentityStore() string {
	return svc.stringVar("VSF_IDENTITY_STORE", svc.base.GetIdentityStore())
}

func (svc *envService) GetIdentityCacheTTL() time.Duration {
	return svc.durationVar("VSF_IDENTITY_CACHE_TTL", svc.base.GetIdentityCacheTTL())
}

func (svc *envService) GetMongoURI() string {
	return svc.stringVar("MONGO_URI", svc.base.GetMongoURI())
}

func (svc *envService) GetMongoDatabase() string {
	return svc.stringVar("MONGO_DATABASE", svc.base.GetMongoDatabase())
}

func (svc *envService) GetPostgresURL() string {
	return svc.stringVar("POSTGRES_URL", svc.base.GetPostgresURL())
}

func (svc *envService) GetReferenceIdentityFile() string {
	return svc.stringVar("VSF_REFERENCE_IDENTITY_FILE", svc.base.GetReferenceIdentityFile())
}

func (svc *envService) GetCascadeModelPath() string {
	return svc.stringVar("VSF_CASCADE_MODEL", svc.base.GetCascadeModelPath())
}

func (svc *envService) GetEmbedderModelPath() string {
	return svc.stringVar("VSF_EMBEDDER_MODEL", svc.base.GetEmbedderModelPath())
}

func (svc *envService) GetJournalFile() string {
	return svc.stringVar("VSF_JOURNAL_FILE", svc.base.GetJournalFile())
}

func (svc *envService) GetLogFile() string {
	return svc.stringVar("VSF_LOG_FILE", svc.base.GetLogFile())
}

func (svc *envService) GetLogLevel() string {
	return svc.stringVar("LOG_LEVEL", svc.base.GetLogLevel())
}

func (svc *envService) stringVar(name, def string) string {
	if v, ok := svc.lookup(name); ok && v != "" {
		return v
	}
	return def
}

func (svc *envService) intVar(name string, def int) int {
	v, ok := svc.lookup(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		lgr.Logger.Warn("ignoring invalid integer env var", slog.String("name", name), slog.String("value", v))
		return def
	}
	return n
}

func (svc *envService) floatVar(name string, def float64) float64 {
	v, ok := svc.lookup(name)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		lgr.Logger.Warn("ignoring invalid float env var", slog.String("name", name), slog.String("value", v))
		return def
	}
	return f
}

func (svc *envService) durationVar(name string, def time.Duration) time.Duration {
	v, ok := svc.lookup(name)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		lgr.Logger.Warn("ignoring invalid duration env var", slog.String("name", name), slog.String("value", v))
		return def
	}
	return d
}
