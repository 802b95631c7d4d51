package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

// referenceDirectory holds a fixed set of identities loaded from a JSON file.
// It is meant for single-person deployments and demos.
type referenceDirectory struct {
	identities []model.Identity

	mu      sync.Mutex
	matches []model.Recognition
}

func NewReference(path string) (Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("reading reference identities %s: %w", path, err)
	}

	// A single object or a list are both accepted
	var identities []model.Identity
	if err := json.Unmarshal(data, &identities); err != nil {
		var single model.Identity
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, xerrors.Errorf("decoding reference identities %s: %w", path, err)
		}
		identities = []model.Identity{single}
	}

	for _, id := range identities {
		if id.ID == "" || len(id.Embedding) == 0 {
			return nil, xerrors.Errorf("reference identity %q has no id or embedding", id.Name)
		}
	}

	return NewStatic(identities), nil
}

// NewStatic returns an in-memory directory over identities.
func NewStatic(identities []model.Identity) Directory {
	return &referenceDirectory{
		identities: identities,
	}
}

func (d *referenceDirectory) ListKnownIdentities(_ context.Context) ([]model.Identity, error) {
	return d.identities, nil
}

func (d *referenceDirectory) RecordMatch(_ context.Context, recognition model.Recognition) error {
	d.mu.Lock()
	d.matches = append(d.matches, recognition)
	d.mu.Unlock()

	lgr.Logger.Debug("reference match recorded",
		slog.String("identity", recognition.IdentityID),
		slog.Float64("similarity", recognition.Similarity),
	)
	return nil
}

func (d *referenceDirectory) Enroll(_ context.Context, identity model.Identity) error {
	return xerrors.Errorf("reference directory is read-only, cannot enroll %s", identity.ID)
}

func (d *referenceDirectory) Close(_ context.Context) error {
	return nil
}
