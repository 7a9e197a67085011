package print

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Labels carries the text rendered onto the band. Empty fields render
// as empty strings rather than failing.
type Labels struct {
	Timestamp   string
	Location    string
	Attribution string
	Settings    string
}

// BandLabels derives the four corner texts from capture metadata, the
// task's location name and the configured attribution.
func BandLabels(capture Capture, location, attribution string) Labels {
	return Labels{
		Timestamp:   timestampText(capture),
		Location:    location,
		Attribution: attributionText(attribution, capture.CameraModel),
		Settings:    settingsText(capture),
	}
}

func timestampText(c Capture) string {
	if c.TakenAt.IsZero() {
		return ""
	}
	return c.TakenAt.Format("2006-01-02 15:04:05")
}

func attributionText(attribution, model string) string {
	if attribution == "" && model == "" {
		return ""
	}
	text := "Photo by " + attribution
	if model != "" {
		text += " with " + model
	}
	return text
}

func settingsText(c Capture) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{c.FocalLength, c.Aperture, c.Exposure} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if c.ISO != "" {
		parts = append(parts, "ISO"+c.ISO)
	}
	return strings.Join(parts, " ")
}

// Compose assembles the final raster: cropped content on top, the
// adaptive-color band below with the code centered and the four corner
// labels. If the source was portrait the composite is rotated back.
func Compose(content image.Image, plan Geometry, pal Palette, code image.Image, labels Labels) (image.Image, error) {
	band := plan.BandHeight
	if band < 0 {
		band = 0
	}

	width := plan.ContentWidth
	height := plan.ContentHeight + band

	dc := gg.NewContext(width, height)
	dc.DrawImage(content, 0, 0)

	if band > 0 {
		dc.SetColor(pal.Background)
		dc.DrawRectangle(0, float64(plan.ContentHeight), float64(width), float64(band))
		dc.Fill()

		if code != nil {
			cx := (width - code.Bounds().Dx()) / 2
			cy := plan.ContentHeight + (band-code.Bounds().Dy())/2
			dc.DrawImage(code, cx, cy)
		}

		face, err := bandFace(plan.FontSize())
		if err != nil {
			return nil, fmt.Errorf("load band font: %w", err)
		}
		dc.SetFontFace(face)

		margin := float64(plan.FontSize()) / 2
		bandTop := float64(plan.ContentHeight)
		left := margin
		right := float64(width) - margin
		top := bandTop + margin
		bottom := float64(height) - margin

		drawOutlined(dc, pal, labels.Timestamp, left, top, 0, 1)
		drawOutlined(dc, pal, labels.Location, right, top, 1, 1)
		drawOutlined(dc, pal, labels.Attribution, left, bottom, 0, 0)
		drawOutlined(dc, pal, labels.Settings, right, bottom, 1, 0)
	}

	out := dc.Image()
	if plan.Rotated {
		return imaging.Rotate90(out), nil
	}
	return out, nil
}

// drawOutlined strokes the text in the outline color before filling it
// in the foreground color, keeping it legible on any background.
func drawOutlined(dc *gg.Context, pal Palette, text string, x, y, ax, ay float64) {
	if text == "" {
		return
	}

	dc.SetColor(pal.Outline)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			dc.DrawStringAnchored(text, x+float64(dx), y+float64(dy), ax, ay)
		}
	}

	dc.SetColor(pal.Foreground)
	dc.DrawStringAnchored(text, x, y, ax, ay)
}

var (
	bandFontOnce sync.Once
	bandFont     *opentype.Font
	bandFontErr  error

	faceMu    sync.Mutex
	faceCache = make(map[int]font.Face)
)

func bandFace(size int) (font.Face, error) {
	bandFontOnce.Do(func() {
		bandFont, bandFontErr = opentype.Parse(goregular.TTF)
	})
	if bandFontErr != nil {
		return nil, bandFontErr
	}

	faceMu.Lock()
	defer faceMu.Unlock()

	if face, ok := faceCache[size]; ok {
		return face, nil
	}
	face, err := opentype.NewFace(bandFont, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	faceCache[size] = face
	return face, nil
}
