package config

import (
	"fmt"
	"time"

	"github.com/khaledhikmat/vs-face/model"
)

type hardcodedService struct {
}

func NewHardCoded() IService {
	return &hardcodedService{}
}

func (svc *hardcodedService) GetModeMaxShutdownTime() int {
	// WARNING: this has to be bigger than the pipeline join timeout times the number of stages
	return 5
}

func (svc *hardcodedService) GetDataFolder() string {
	return "./data"
}

func (svc *hardcodedService) GetCapturesFolder() string {
	return "./captures"
}

func (svc *hardcodedService) GetPipelineConfig() model.PipelineConfig {
	return model.PipelineConfig{
		MotionThreshold:        15000,
		MinContourArea:         5000,
		MinMotionInterval:      500 * time.Millisecond,
		FramesAfterMotion:      5,
		MaxFramesWithoutMotion: 100,

		TargetFPS:            30,
		BufferSize:           10,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 10,
		ReconnectCooldown:    5 * time.Second,
		MaxConsecutiveErrors: 5,
		ReadRetryDelay:       500 * time.Millisecond,
		SourceStopTimeout:    500 * time.Millisecond,

		ProcessQueueSize: 10,
		FaceQueueSize:    10,
		MaxWorkers:       4,

		// Equivalent to a euclidean distance of 0.6
		SimilarityThreshold: 0.4,
		FaceBoxExpansion:    0.2,
		FaceCropSize:        300,

		CapturesFolder: svc.GetCapturesFolder(),
		JPEGQuality:    95,

		JoinTimeout:   time.Second,
		StatsInterval: 15 * time.Second,
		HandleSignals: false,
	}
}

func (svc *hardcodedService) GetDefaultSource() string {
	// Local camera index 0
	return "0"
}

func (svc *hardcodedService) GetCaptureWidth() int {
	return 1920
}

func (svc *hardcodedService) GetCaptureHeight() int {
	return 1080
}

func (svc *hardcodedService) GetIdentityStore() string {
	return IdentityStoreFiles
}

func (svc *hardcodedService) GetIdentityCacheTTL() time.Duration {
	return 30 * time.Second
}

func (svc *hardcodedService) GetMongoURI() string {
	return "mongodb://localhost:27017"
}

func (svc *hardcodedService) GetMongoDatabase() string {
	return "face_recognition"
}

func (svc *hardcodedService) GetPostgresURL() string {
	return "postgres://localhost:5432/vsface"
}

func (svc *hardcodedService) GetReferenceIdentityFile() string {
	return fmt.Sprintf("%s/reference.json", svc.GetDataFolder())
}

func (svc *hardcodedService) GetCascadeModelPath() string {
	return "./models/haarcascade_frontalface_default.xml"
}

func (svc *hardcodedService) GetEmbedderModelPath() string {
	return "./models/nn4.small2.v1.t7"
}

func (svc *hardcodedService) GetJournalFile() string {
	return fmt.Sprintf("%s/recognitions.log", svc.GetDataFolder())
}

func (svc *hardcodedService) GetLogFile() string {
	// Console only
	return ""
}

func (svc *hardcodedService) GetLogLevel() string {
	return "info"
}
