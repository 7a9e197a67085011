package print

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	// Margin kept between the code and the band edges.
	codeMargin = 20
	// Smallest raster that still scans reliably.
	minCodeSize = 32
)

// ContentURL builds the canonical URL encoded in the scannable code:
// the site prefix plus the source filename without its extension.
func ContentURL(sitePrefix, storageKey string) string {
	name := filepath.Base(storageKey)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimRight(sitePrefix, "/") + "/" + name
}

// Code renders the URL as a QR raster sized to fit the band, with dark
// modules in the chosen foreground color on a transparent background.
func Code(url string, bandHeight int, foreground color.Color) (image.Image, error) {
	size := bandHeight - codeMargin
	if size < minCodeSize {
		size = minCodeSize
	}

	q, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr for %s: %w", url, err)
	}
	q.ForegroundColor = foreground
	q.BackgroundColor = color.Transparent
	q.DisableBorder = true

	return q.Image(size), nil
}
