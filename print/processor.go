package print

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"photoprint/storage"
)

var (
	// ErrSourceNotFound means the storage key has no object behind it.
	ErrSourceNotFound = errors.New("source image not found")
	// ErrDecodeImage means the source bytes are not a decodable image.
	ErrDecodeImage = errors.New("image dimensions could not be extracted")
)

const (
	artifactPrefix      = "print/"
	artifactContentType = "image/jpeg"
	jpegQuality         = 90
)

// ArtifactKey derives the storage key of the print derivative.
func ArtifactKey(storageKey string) string {
	return artifactPrefix + filepath.Base(storageKey)
}

// Config carries the processor's site-specific settings.
type Config struct {
	// SiteURL is the prefix of the canonical content URL in the code.
	SiteURL string
	// Attribution is the photographer name on the band.
	Attribution string
}

// Processor runs one end-to-end print conversion per task. Stateless
// apart from its collaborators; safe for concurrent use across tasks.
type Processor struct {
	store      storage.Store
	reattacher *Reattacher
	cfg        Config
	logger     *zap.Logger
}

func NewProcessor(store storage.Store, reattacher *Reattacher, cfg Config, logger *zap.Logger) *Processor {
	return &Processor{
		store:      store,
		reattacher: reattacher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Process converts the source at storageKey into a print-ready artifact
// at the derived key. Every failure is logged with its stage and
// returned to the queue, which owns the retry policy. The single write
// to storage is the final step; no partial artifact is ever visible.
func (p *Processor) Process(ctx context.Context, storageKey, locationName string) error {
	log := p.logger.With(zap.String("storage_key", storageKey))

	raw, err := p.store.Get(ctx, storageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Error("Source missing", zap.String("stage", "fetch"))
			return fmt.Errorf("%w: %s", ErrSourceNotFound, storageKey)
		}
		log.Error("Source read failed", zap.String("stage", "fetch"), zap.Error(err))
		return fmt.Errorf("fetch source: %w", err)
	}

	// Extracted before re-encoding; conversion strips the EXIF segment.
	capture := ExtractCapture(raw)

	src, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		log.Error("Decode failed", zap.String("stage", "decode"), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDecodeImage, err)
	}

	bounds := src.Bounds()
	plan := Plan(bounds.Dx(), bounds.Dy())

	work := src
	if plan.Rotated {
		work = imaging.Rotate270(src)
	}
	content := imaging.CropCenter(work, plan.ContentWidth, plan.ContentHeight)

	pal := Analyze(content)

	code, err := Code(ContentURL(p.cfg.SiteURL, storageKey), plan.BandHeight, pal.Foreground)
	if err != nil {
		log.Error("Code generation failed", zap.String("stage", "code"), zap.Error(err))
		return fmt.Errorf("generate code: %w", err)
	}

	labels := BandLabels(capture, locationName, p.cfg.Attribution)
	composed, err := Compose(content, plan, pal, code, labels)
	if err != nil {
		log.Error("Composition failed", zap.String("stage", "compose"), zap.Error(err))
		return fmt.Errorf("compose: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, composed, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		log.Error("Encode failed", zap.String("stage", "encode"), zap.Error(err))
		return fmt.Errorf("encode jpeg: %w", err)
	}
	final := buf.Bytes()

	// Recoverable: an artifact without tags beats no artifact.
	if tagged, err := p.reattacher.Reattach(ctx, final, raw); err != nil {
		log.Warn("Metadata reattach failed, storing untagged artifact",
			zap.String("stage", "reattach"),
			zap.Error(err),
		)
	} else {
		final = tagged
	}

	artifactKey := ArtifactKey(storageKey)
	if err := p.store.Create(ctx, artifactKey, final, artifactContentType); err != nil {
		log.Error("Artifact write failed",
			zap.String("stage", "store"),
			zap.String("artifact_key", artifactKey),
			zap.Error(err),
		)
		return fmt.Errorf("store artifact: %w", err)
	}

	log.Info("Print artifact generated",
		zap.String("artifact_key", artifactKey),
		zap.Int("content_width", plan.ContentWidth),
		zap.Int("content_height", plan.ContentHeight),
		zap.Int("band_height", plan.BandHeight),
		zap.Bool("rotated", plan.Rotated),
	)

	return nil
}
