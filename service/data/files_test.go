package data

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/config"
)

type folderConfig struct {
	config.IService
	folder string
}

func (c folderConfig) GetDataFolder() string { return c.folder }

func newTestDB(t *testing.T) IService {
	t.Helper()
	return NewFilesDB(folderConfig{IService: config.NewHardCoded(), folder: t.TempDir()})
}

func TestEnrollUpsertsByID(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ids, err := db.ListKnownIdentities(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldBeEmpty)

	test.That(t, db.Enroll(ctx, model.Identity{ID: "1", Name: "ana", Embedding: []float64{0.1}}), test.ShouldBeNil)
	test.That(t, db.Enroll(ctx, model.Identity{ID: "2", Name: "bo", Embedding: []float64{0.2}}), test.ShouldBeNil)
	test.That(t, db.Enroll(ctx, model.Identity{ID: "1", Name: "ana maria", Embedding: []float64{0.3}}), test.ShouldBeNil)

	ids, err = db.ListKnownIdentities(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldResemble, []model.Identity{
		{ID: "1", Name: "ana maria", Embedding: []float64{0.3}},
		{ID: "2", Name: "bo", Embedding: []float64{0.2}},
	})

	test.That(t, db.Enroll(ctx, model.Identity{Name: "anonymous"}), test.ShouldNotBeNil)
}

func TestRecordMatchIsSafeForConcurrentWorkers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.RecordMatch(ctx, model.Recognition{IdentityID: "1", Similarity: 0.8, Timestamp: time.Now()})
			test.That(t, err, test.ShouldBeNil)
		}()
	}
	wg.Wait()

	recs, err := db.RetrieveRecognitions()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, recs, test.ShouldHaveLength, 8)
	test.That(t, recs[0].Status, test.ShouldEqual, model.RecognitionSuccess)
}

func TestNewErrorAcceptsCustomAndPlainErrors(t *testing.T) {
	db := newTestDB(t)

	test.That(t, db.NewError(model.GenError("face_stage", errors.New("boom"), nil, "unit %d failed", 2)), test.ShouldBeNil)
	test.That(t, db.NewError(errors.New("plain")), test.ShouldBeNil)
	test.That(t, db.NewError("not even an error"), test.ShouldBeNil)

	errs, err := retrieveEntites[map[string]interface{}](errorsFile, db.(*filesDBService).CfgSvc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errs, test.ShouldHaveLength, 3)
	test.That(t, errs[0]["processor"], test.ShouldEqual, "face_stage")
	test.That(t, errs[0]["message"], test.ShouldEqual, "unit 2 failed")
	test.That(t, errs[1]["innerError"], test.ShouldEqual, "plain")
}

func TestNewPipelineStats(t *testing.T) {
	db := newTestDB(t)

	err := db.NewPipelineStats(model.PipelineStats{RunID: "r1", Counters: map[string]int64{"framesCaptured": 3}})
	test.That(t, err, test.ShouldBeNil)

	stats, err := retrieveEntites[model.PipelineStats](pipelineStatsFile, db.(*filesDBService).CfgSvc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats, test.ShouldHaveLength, 1)
	test.That(t, stats[0].RunID, test.ShouldEqual, "r1")
	test.That(t, stats[0].Timestamp, test.ShouldBeGreaterThan, 0)
}
