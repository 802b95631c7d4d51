package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/khaledhikmat/vs-face/model"
)

func TestEuclideanScorer(t *testing.T) {
	s := NewEuclidean()

	test.That(t, s.Score([]float64{0.1, 0.2}, []float64{0.1, 0.2}), test.ShouldAlmostEqual, 1.0)
	// distance 0.6 -> similarity 0.4
	test.That(t, s.Score([]float64{0, 0}, []float64{0.6, 0}), test.ShouldAlmostEqual, 0.4)
	// far apart clamps to zero
	test.That(t, s.Score([]float64{0, 0}, []float64{3, 4}), test.ShouldEqual, 0.0)
	test.That(t, s.Score([]float64{1}, []float64{1, 2}), test.ShouldEqual, 0.0)
	test.That(t, s.Score(nil, nil), test.ShouldEqual, 0.0)
}

func TestCosineScorer(t *testing.T) {
	s := NewCosine()

	test.That(t, s.Score([]float64{1, 0}, []float64{2, 0}), test.ShouldAlmostEqual, 1.0)
	test.That(t, s.Score([]float64{1, 0}, []float64{0, 1}), test.ShouldAlmostEqual, 0.0)
	test.That(t, s.Score([]float64{1, 0}, []float64{-1, 0}), test.ShouldEqual, 0.0)
	test.That(t, s.Score([]float64{0, 0}, []float64{1, 0}), test.ShouldEqual, 0.0)
}

type countingDirectory struct {
	identities []model.Identity
	lists      int
	enrolled   []model.Identity
	err        error
}

func (d *countingDirectory) ListKnownIdentities(_ context.Context) ([]model.Identity, error) {
	d.lists++
	if d.err != nil {
		return nil, d.err
	}
	return d.identities, nil
}

func (d *countingDirectory) RecordMatch(_ context.Context, _ model.Recognition) error { return nil }

func (d *countingDirectory) Enroll(_ context.Context, identity model.Identity) error {
	d.enrolled = append(d.enrolled, identity)
	d.identities = append(d.identities, identity)
	return nil
}

func (d *countingDirectory) Close(_ context.Context) error { return nil }

func TestCachedDirectoryHonorsTTL(t *testing.T) {
	ctx := context.Background()
	inner := &countingDirectory{identities: []model.Identity{{ID: "1", Name: "ana"}}}
	mockClock := clock.NewMock()
	dir := NewCached(inner, 30*time.Second, mockClock)

	ids, err := dir.ListKnownIdentities(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldHaveLength, 1)

	_, _ = dir.ListKnownIdentities(ctx)
	test.That(t, inner.lists, test.ShouldEqual, 1)

	mockClock.Add(31 * time.Second)
	_, _ = dir.ListKnownIdentities(ctx)
	test.That(t, inner.lists, test.ShouldEqual, 2)

	// enrolling invalidates the cache
	test.That(t, dir.Enroll(ctx, model.Identity{ID: "2", Name: "bo"}), test.ShouldBeNil)
	ids, err = dir.ListKnownIdentities(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldHaveLength, 2)
	test.That(t, inner.lists, test.ShouldEqual, 3)
}

func TestCachedDirectoryServesStaleOnError(t *testing.T) {
	ctx := context.Background()
	inner := &countingDirectory{identities: []model.Identity{{ID: "1"}}}
	mockClock := clock.NewMock()
	dir := NewCached(inner, time.Second, mockClock)

	_, err := dir.ListKnownIdentities(ctx)
	test.That(t, err, test.ShouldBeNil)

	inner.err = errors.New("store down")
	mockClock.Add(2 * time.Second)
	ids, err := dir.ListKnownIdentities(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldHaveLength, 1)

	cold := NewCached(&countingDirectory{err: errors.New("store down")}, time.Second, mockClock)
	_, err = cold.ListKnownIdentities(ctx)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReferenceDirectory(t *testing.T) {
	dir := t.TempDir()

	single := filepath.Join(dir, "single.json")
	test.That(t, os.WriteFile(single, []byte(`{"id":"7","name":"ana","embedding":[0.1,0.2]}`), 0o644), test.ShouldBeNil)

	ref, err := NewReference(single)
	test.That(t, err, test.ShouldBeNil)
	ids, err := ref.ListKnownIdentities(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldResemble, []model.Identity{{ID: "7", Name: "ana", Embedding: []float64{0.1, 0.2}}})
	test.That(t, ref.Enroll(context.Background(), model.Identity{ID: "8"}), test.ShouldNotBeNil)

	list := filepath.Join(dir, "list.json")
	test.That(t, os.WriteFile(list, []byte(`[{"id":"1","name":"a","embedding":[1]},{"id":"2","name":"b","embedding":[2]}]`), 0o644), test.ShouldBeNil)
	ref, err = NewReference(list)
	test.That(t, err, test.ShouldBeNil)
	ids, _ = ref.ListKnownIdentities(context.Background())
	test.That(t, ids, test.ShouldHaveLength, 2)

	bad := filepath.Join(dir, "bad.json")
	test.That(t, os.WriteFile(bad, []byte(`{"name":"nobody"}`), 0o644), test.ShouldBeNil)
	_, err = NewReference(bad)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewReference(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestVectorText(t *testing.T) {
	test.That(t, vecToString([]float64{1, 0.5}), test.ShouldEqual, "[1.000000,0.500000]")

	vec, err := parseVector("[1,0.5, -2]")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vec, test.ShouldResemble, []float64{1, 0.5, -2})

	vec, err = parseVector("[]")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vec, test.ShouldBeNil)

	_, err = parseVector("[1,x]")
	test.That(t, err, test.ShouldNotBeNil)
}
