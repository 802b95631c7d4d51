package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/config"
)

const (
	identitiesFile      = "identities"
	recognitionsFile    = "recognitions"
	errorsFile          = "errors"
	pipelineStatsFile   = "pipeline-stats"
	enrollmentStatsFile = "enrollment-stats"
)

type filesDBService struct {
	CfgSvc config.IService

	// WARNING: every write rewrites the whole file, so writers must be serialized
	mu sync.Mutex
}

func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc: cfgsvc,
	}
}

func (svc *filesDBService) ListKnownIdentities(_ context.Context) ([]model.Identity, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return retrieveEntites[model.Identity](identitiesFile, svc.CfgSvc)
}

func (svc *filesDBService) RecordMatch(_ context.Context, recognition model.Recognition) error {
	if recognition.Status == "" {
		recognition.Status = model.RecognitionSuccess
	}
	if recognition.Timestamp.IsZero() {
		recognition.Timestamp = time.Now()
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	return newEntity(recognition, recognitionsFile, svc.CfgSvc)
}

func (svc *filesDBService) Enroll(_ context.Context, identity model.Identity) error {
	if identity.ID == "" {
		return xerrors.New("identity id is required")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	identities, err := retrieveEntites[model.Identity](identitiesFile, svc.CfgSvc)
	if err != nil {
		return err
	}

	// Upsert by id
	replaced := false
	for i := range identities {
		if identities[i].ID == identity.ID {
			identities[i] = identity
			replaced = true
			break
		}
	}
	if !replaced {
		identities = append(identities, identity)
	}

	return writeEntities(identities, identitiesFile, svc.CfgSvc)
}

func (svc *filesDBService) Close(_ context.Context) error {
	return nil
}

func (svc *filesDBService) RetrieveRecognitions() ([]model.Recognition, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return retrieveEntites[model.Recognition](recognitionsFile, svc.CfgSvc)
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		customErr.Processor = "N/A"
		customErr.Message = fmt.Sprintf("%v", err)
		customErr.StackTrace = "N/A"
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	// Create an error object to persist
	errorData := struct {
		Timestamp  int64                  `json:"timestamp"`
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	return newEntity(errorData, errorsFile, svc.CfgSvc)
}

func (svc *filesDBService) NewPipelineStats(stats model.PipelineStats) error {
	stats.Timestamp = time.Now().Unix()

	svc.mu.Lock()
	defer svc.mu.Unlock()

	return newEntity(stats, pipelineStatsFile, svc.CfgSvc)
}

func (svc *filesDBService) NewEnrollmentStats(stats model.EnrollmentStats) error {
	stats.Timestamp = time.Now().Unix()

	svc.mu.Lock()
	defer svc.mu.Unlock()

	return newEntity(stats, enrollmentStatsFile, svc.CfgSvc)
}

func entityPath(filename string, cfgsvc config.IService) string {
	return fmt.Sprintf("%s/%s.json", cfgsvc.GetDataFolder(), filename)
}

func newEntity[T any](entity T, filename string, cfgsvc config.IService) error {
	entities, err := retrieveEntites[T](filename, cfgsvc)
	if err != nil {
		return err
	}

	entities = append(entities, entity)
	return writeEntities(entities, filename, cfgsvc)
}

func writeEntities[T any](entities []T, filename string, cfgsvc config.IService) error {
	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfgsvc.GetDataFolder(), 0o755); err != nil {
		return err
	}

	// Write the JSON data to the file (with truncation)
	return os.WriteFile(entityPath(filename, cfgsvc), data, 0o644)
}

func retrieveEntites[T any](filename string, cfgsvc config.IService) ([]T, error) {
	entities := []T{}

	data, err := os.ReadFile(entityPath(filename, cfgsvc))
	if errors.Is(err, os.ErrNotExist) {
		// WARNING: File not found, return empty slice
		return entities, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, xerrors.Errorf("decoding %s: %w", filename, err)
	}

	return entities, nil
}
