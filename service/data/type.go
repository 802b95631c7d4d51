package data

import (
	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/identity"
)

// IService persists run artifacts. It also doubles as a file-backed
// identity directory for deployments without a database.
type IService interface {
	identity.Directory

	NewError(err interface{}) error
	NewPipelineStats(stats model.PipelineStats) error
	NewEnrollmentStats(stats model.EnrollmentStats) error
	RetrieveRecognitions() ([]model.Recognition, error)
}
