package print

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"

	"photoprint/retry"
)

// Capture holds the sparse capture metadata displayed on the band.
// Zero values render as empty text; a photo with no EXIF is still
// printable.
type Capture struct {
	TakenAt     time.Time
	CameraModel string
	FocalLength string
	Aperture    string
	Exposure    string
	ISO         string
}

// ExtractCapture reads capture metadata from the original bytes. It is
// called before any re-encode, which would strip the EXIF segment.
// Malformed or absent metadata yields a zero Capture, never an error.
func ExtractCapture(raw []byte) Capture {
	var c Capture

	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return c
	}

	if taken, err := x.DateTime(); err == nil {
		c.TakenAt = taken
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			c.CameraModel = strings.TrimSpace(s)
		}
	}
	if tag, err := x.Get(exif.FocalLength); err == nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			c.FocalLength = formatMillimeters(num, den)
		}
	}
	if tag, err := x.Get(exif.FNumber); err == nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			c.Aperture = "f/" + trimFloat(float64(num)/float64(den))
		}
	}
	if tag, err := x.Get(exif.ExposureTime); err == nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			c.Exposure = formatExposure(num, den)
		}
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if iso, err := tag.Int(0); err == nil {
			c.ISO = strconv.Itoa(iso)
		}
	}

	return c
}

func formatMillimeters(num, den int64) string {
	return trimFloat(float64(num)/float64(den)) + "mm"
}

func formatExposure(num, den int64) string {
	if num <= 0 {
		// A zero or negative numerator is junk metadata; render nothing.
		return ""
	}
	if num < den {
		// Normalize to the familiar 1/N form.
		return fmt.Sprintf("1/%d", int64(float64(den)/float64(num)+0.5))
	}
	return trimFloat(float64(num)/float64(den)) + "s"
}

func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0")
}

// Reattacher copies the EXIF segment of the original onto the processed
// raster via an external metadata-copy tool. The compositing library
// cannot write structured tags, so the copy runs on two scoped
// temporary files that are removed on every exit path.
type Reattacher struct {
	tool   string
	policy retry.Policy
	logger *zap.Logger
}

func NewReattacher(tool string, policy retry.Policy, logger *zap.Logger) *Reattacher {
	if tool == "" {
		tool = "exiftool"
	}
	return &Reattacher{tool: tool, policy: policy, logger: logger}
}

// Reattach returns the processed bytes with the original's metadata
// applied. Failures here are recoverable: the caller keeps the
// untagged artifact.
func (r *Reattacher) Reattach(ctx context.Context, processed, original []byte) ([]byte, error) {
	suffix := uuid.New().String()
	processedPath := filepath.Join(os.TempDir(), "print-"+suffix+".jpg")
	originalPath := filepath.Join(os.TempDir(), "orig-"+suffix+".jpg")

	defer func() {
		os.Remove(processedPath)
		os.Remove(originalPath)
	}()

	if err := os.WriteFile(processedPath, processed, 0o600); err != nil {
		return nil, fmt.Errorf("write processed temp file: %w", err)
	}
	if err := os.WriteFile(originalPath, original, 0o600); err != nil {
		return nil, fmt.Errorf("write original temp file: %w", err)
	}

	err := r.policy.Do(ctx, func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, r.tool,
			"-TagsFromFile", originalPath,
			"-all:all",
			"-overwrite_original",
			processedPath,
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", r.tool, err, strings.TrimSpace(string(out)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tagged, err := os.ReadFile(processedPath)
	if err != nil {
		return nil, fmt.Errorf("read tagged temp file: %w", err)
	}

	r.logger.Debug("Metadata reattached",
		zap.Int("original_bytes", len(original)),
		zap.Int("tagged_bytes", len(tagged)),
	)

	return tagged, nil
}
