package mode

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

const enrollProc = "enroll_mode"

var (
	ErrBadFileName = errors.New("file name must be name|id")
	ErrFaceCount   = errors.New("enrollment image must contain exactly one face")
)

var enrollExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Enroll registers one identity per image in opts.Folder. Images are named
// name|id.jpg and must show exactly one face. A bad image is reported and
// skipped; the run fails only when nothing could be enrolled.
func Enroll(canxCtx context.Context, svcs pipeline.ServicesFactory, opts Options) error {
	startTime := time.Now()

	entries, err := os.ReadDir(opts.Folder)
	if err != nil {
		return xerrors.Errorf("reading enrollment folder %s: %w", opts.Folder, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !enrollExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, e.Name())
	}

	lgr.Logger.Info("enrollment starting....",
		slog.String("folder", opts.Folder),
		slog.Int("images", len(files)),
	)

	var enrolled, rejected atomic.Int64
	g, ctx := errgroup.WithContext(canxCtx)
	g.SetLimit(svcs.CfgSvc.GetPipelineConfig().MaxWorkers)

	for _, file := range files {
		file := file
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			identity, err := enrollFile(ctx, svcs, opts.Loader, filepath.Join(opts.Folder, file))
			if err != nil {
				rejected.Inc()
				lgr.Logger.Warn("image rejected",
					slog.String("file", file),
					slog.Any("error", err),
				)
				procError(svcs.DataSvc, model.GenError(enrollProc, err, map[string]interface{}{
					"file": file,
				}, "unable to enroll image"))
				return nil
			}

			enrolled.Inc()
			lgr.Logger.Info("identity enrolled",
				slog.String("id", identity.ID),
				slog.String("name", identity.Name),
			)
			return nil
		})
	}

	waitErr := g.Wait()

	stats := model.EnrollmentStats{
		Folder:    opts.Folder,
		Files:     len(files),
		Enrolled:  int(enrolled.Load()),
		Rejected:  int(rejected.Load()),
		Uptime:    int64(time.Since(startTime).Seconds()),
		Timestamp: time.Now().Unix(),
	}
	procStats(svcs.DataSvc, stats)

	lgr.Logger.Info("enrollment finished",
		slog.Int("images", stats.Files),
		slog.Int("enrolled", stats.Enrolled),
		slog.Int("rejected", stats.Rejected),
	)

	if waitErr != nil {
		return waitErr
	}
	if stats.Files > 0 && stats.Enrolled == 0 {
		return xerrors.Errorf("no identity enrolled from %d images in %s", stats.Files, opts.Folder)
	}
	return nil
}

func enrollFile(ctx context.Context, svcs pipeline.ServicesFactory, loader ImageLoader, path string) (model.Identity, error) {
	name, id, err := parseIdentityFile(filepath.Base(path))
	if err != nil {
		return model.Identity{}, err
	}

	img, err := loader(path)
	if err != nil {
		return model.Identity{}, err
	}
	defer img.Close() // Crucial to close the image to avoid memory leaks

	dets, err := svcs.Faces.Detect(img)
	if err != nil {
		return model.Identity{}, xerrors.Errorf("detecting faces in %s: %w", path, err)
	}
	if len(dets) != 1 {
		return model.Identity{}, xerrors.Errorf("%s has %d faces: %w", path, len(dets), ErrFaceCount)
	}

	identity := model.Identity{
		ID:        id,
		Name:      name,
		Embedding: dets[0].Embedding,
	}
	if err := svcs.Directory.Enroll(ctx, identity); err != nil {
		return model.Identity{}, xerrors.Errorf("enrolling %s: %w", id, err)
	}
	return identity, nil
}

// parseIdentityFile splits "joao_silva|12345.jpg" into "Joao Silva" and "12345".
func parseIdentityFile(file string) (name, id string, err error) {
	base := strings.TrimSuffix(file, filepath.Ext(file))
	parts := strings.Split(base, "|")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", xerrors.Errorf("%s: %w", file, ErrBadFileName)
	}

	words := strings.Fields(strings.ReplaceAll(parts[0], "_", " "))
	if len(words) == 0 {
		return "", "", xerrors.Errorf("%s: %w", file, ErrBadFileName)
	}
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}

	return strings.Join(words, " "), strings.TrimSpace(parts[1]), nil
}
