package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

// persister lays out snapshot files under the captures folder:
//
//	motion/motion_<area>_<ts>.jpg
//	faces/match/<name>_<similarity>_<ts>_<index>.jpg
//	faces/unknown/unknown_<similarity>_<ts>_<index>.jpg
//	frames/frame_<status>_<ts>.jpg
type persister struct {
	writer  ImageWriter
	folder  string
	quality int
}

func newPersister(writer ImageWriter, cfg model.PipelineConfig) *persister {
	return &persister{
		writer:  writer,
		folder:  cfg.CapturesFolder,
		quality: cfg.JPEGQuality,
	}
}

func (p *persister) save(img model.Image, parts ...string) (string, error) {
	if p == nil || p.writer == nil {
		return "", nil
	}

	path := filepath.Join(append([]string{p.folder}, parts...)...)
	if err := p.writer.Write(img, path, p.quality); err != nil {
		return "", xerrors.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func (p *persister) saveMotion(img model.Image, event model.MotionEvent) (string, error) {
	return p.save(img, "motion", fmt.Sprintf("motion_%d_%s.jpg", int(event.Area), stamp(event.Timestamp)))
}

func (p *persister) saveFace(img model.Image, obs model.FaceObservation, ts time.Time) (string, error) {
	if obs.Matched {
		return p.save(img, "faces", "match",
			fmt.Sprintf("%s_%.2f_%s_%d.jpg", sanitize(obs.IdentityName), obs.Similarity, stamp(ts), obs.Index))
	}
	return p.save(img, "faces", "unknown",
		fmt.Sprintf("unknown_%.2f_%s_%d.jpg", obs.Similarity, stamp(ts), obs.Index))
}

func (p *persister) saveFrame(img model.Image, status string, ts time.Time) (string, error) {
	return p.save(img, "frames", fmt.Sprintf("frame_%s_%s.jpg", status, stamp(ts)))
}

func stamp(t time.Time) string {
	return fmt.Sprintf("%s_%06d", t.Format("20060102_150405"), t.Nanosecond()/1000)
}

func sanitize(name string) string {
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return r
		}
		return '_'
	}, name)
}

// reportError hands err to the error stream without ever blocking a stage.
func reportError(errorStream chan interface{}, err model.CustomError) {
	if errorStream == nil {
		return
	}

	select {
	case errorStream <- err:
	default:
		lgr.Logger.Warn("error stream full, dropping error",
			slog.String("processor", err.Processor),
			slog.String("message", err.Message),
		)
	}
}
