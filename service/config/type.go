package config

import (
	"time"

	"github.com/khaledhikmat/vs-face/model"
)

const (
	IdentityStoreFiles     = "files"
	IdentityStoreMongo     = "mongo"
	IdentityStorePostgres  = "postgres"
	IdentityStoreReference = "reference"
)

type IService interface {
	GetModeMaxShutdownTime() int
	GetDataFolder() string
	GetCapturesFolder() string
	GetPipelineConfig() model.PipelineConfig

	GetDefaultSource() string
	GetCaptureWidth() int
	GetCaptureHeight() int

	GetIdentityStore() string
	GetIdentityCacheTTL() time.Duration
	GetMongoURI() string
	GetMongoDatabase() string
	GetPostgresURL() string
	GetReferenceIdentityFile() string

	GetCascadeModelPath() string
	GetEmbedderModelPath() string

	GetJournalFile() string
	GetLogFile() string
	GetLogLevel() string
}
