package print

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"photoprint/retry"
	"photoprint/storage"
)

func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			b := uint8(128)
			img.Set(x, y, color.RGBA{r, g, b, 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func newTestProcessor(t *testing.T, store storage.Store) *Processor {
	t.Helper()

	logger := zaptest.NewLogger(t)
	// Single fast attempt; the tool is absent in CI and the degrade
	// path is the interesting one anyway.
	policy := retry.Policy{MaxAttempts: 1, Strategy: retry.Fixed, Delay: time.Millisecond}
	reattacher := NewReattacher("definitely-not-a-real-tool", policy, logger)

	return NewProcessor(store, reattacher, Config{
		SiteURL:     "https://gallery.example",
		Attribution: "Ana",
	}, logger)
}

func TestProcessor_Process_Landscape(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	if err := store.Create(ctx, "photos/shot.jpg", encodeTestJPEG(t, 1200, 800), "image/jpeg"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	p := newTestProcessor(t, store)
	if err := p.Process(ctx, "photos/shot.jpg", "Lisbon"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	artifact, err := store.Get(ctx, "print/shot.jpg")
	if err != nil {
		t.Fatalf("Expected artifact at print/shot.jpg: %v", err)
	}

	out, err := jpeg.Decode(bytes.NewReader(artifact))
	if err != nil {
		t.Fatalf("Artifact is not a valid JPEG: %v", err)
	}

	plan := Plan(1200, 800)
	bounds := out.Bounds()
	if bounds.Dx() != plan.ContentWidth || bounds.Dy() != plan.ContentHeight+plan.BandHeight {
		t.Errorf("Expected %dx%d artifact, got %dx%d",
			plan.ContentWidth, plan.ContentHeight+plan.BandHeight, bounds.Dx(), bounds.Dy())
	}
}

func TestProcessor_Process_PortraitRotatedBack(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	if err := store.Create(ctx, "photos/tall.jpg", encodeTestJPEG(t, 800, 1200), "image/jpeg"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	p := newTestProcessor(t, store)
	if err := p.Process(ctx, "photos/tall.jpg", ""); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	artifact, err := store.Get(ctx, "print/tall.jpg")
	if err != nil {
		t.Fatalf("Expected artifact at print/tall.jpg: %v", err)
	}

	out, err := jpeg.Decode(bytes.NewReader(artifact))
	if err != nil {
		t.Fatalf("Artifact is not a valid JPEG: %v", err)
	}

	bounds := out.Bounds()
	if bounds.Dx() >= bounds.Dy() {
		t.Errorf("Expected portrait artifact, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestProcessor_Process_Idempotent(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	if err := store.Create(ctx, "photos/shot.jpg", encodeTestJPEG(t, 900, 600), "image/jpeg"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	p := newTestProcessor(t, store)
	if err := p.Process(ctx, "photos/shot.jpg", "Lisbon"); err != nil {
		t.Fatalf("First process failed: %v", err)
	}
	if err := p.Process(ctx, "photos/shot.jpg", "Lisbon"); err != nil {
		t.Fatalf("Second process failed: %v", err)
	}

	if _, err := store.Get(ctx, "print/shot.jpg"); err != nil {
		t.Fatalf("Expected artifact at the same key after rerun: %v", err)
	}
}

func TestProcessor_Process_SourceMissing(t *testing.T) {
	p := newTestProcessor(t, storage.NewMemory())

	err := p.Process(context.Background(), "photos/nope.jpg", "")
	if !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("Expected ErrSourceNotFound, got %v", err)
	}
}

func TestProcessor_Process_MalformedSource(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	if err := store.Create(ctx, "photos/broken.jpg", []byte("not a jpeg"), "image/jpeg"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	p := newTestProcessor(t, store)
	err := p.Process(ctx, "photos/broken.jpg", "")
	if !errors.Is(err, ErrDecodeImage) {
		t.Errorf("Expected ErrDecodeImage, got %v", err)
	}
}

func TestArtifactKey(t *testing.T) {
	if got := ArtifactKey("photos/nested/IMG_0042.jpg"); got != "print/IMG_0042.jpg" {
		t.Errorf("Expected print/IMG_0042.jpg, got %q", got)
	}
}
