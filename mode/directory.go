package mode

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/data"
	"github.com/khaledhikmat/vs-face/service/identity"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

// NewDirectory opens the configured identity store. Listings are cached when
// the cache TTL is positive.
func NewDirectory(ctx context.Context, cfgSvc config.IService, dataSvc data.IService) (identity.Directory, error) {
	var (
		dir identity.Directory
		err error
	)

	store := cfgSvc.GetIdentityStore()
	switch store {
	case config.IdentityStoreFiles:
		dir = dataSvc
	case config.IdentityStoreMongo:
		dir, err = identity.NewMongo(ctx, cfgSvc.GetMongoURI(), cfgSvc.GetMongoDatabase())
	case config.IdentityStorePostgres:
		dir, err = identity.NewPostgres(ctx, cfgSvc.GetPostgresURL())
	case config.IdentityStoreReference:
		dir, err = identity.NewReference(cfgSvc.GetReferenceIdentityFile())
	default:
		return nil, xerrors.Errorf("unknown identity store %q", store)
	}
	if err != nil {
		return nil, xerrors.Errorf("opening %s identity store: %w", store, err)
	}

	lgr.Logger.Info("identity store opened",
		slog.String("store", store),
		slog.Duration("cacheTtl", cfgSvc.GetIdentityCacheTTL()),
	)

	if ttl := cfgSvc.GetIdentityCacheTTL(); ttl > 0 {
		dir = identity.NewCached(dir, ttl, clock.New())
	}
	return dir, nil
}
