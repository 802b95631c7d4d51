package identity

import (
	"context"
	"errors"

	"github.com/khaledhikmat/vs-face/model"
)

var ErrNotFound = errors.New("identity not found")

// Directory is the store of known faces. Implementations must be safe for
// concurrent use; face workers call them in parallel.
type Directory interface {
	ListKnownIdentities(ctx context.Context) ([]model.Identity, error)
	RecordMatch(ctx context.Context, recognition model.Recognition) error
	Enroll(ctx context.Context, identity model.Identity) error
	Close(ctx context.Context) error
}

// Scorer maps two embeddings to a similarity in [0,1]. Higher is closer.
type Scorer interface {
	Score(a, b []float64) float64
}
