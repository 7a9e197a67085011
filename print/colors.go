package print

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Width the content is downsampled to before averaging. A cheap global
// mean, not a clustering pass.
const sampleWidth = 100

// Palette is the band color scheme derived from the cropped content.
// Foreground is always pure black or pure white; Outline is the
// opposite, used as the stroke behind band text.
type Palette struct {
	Background color.NRGBA
	Foreground color.NRGBA
	Outline    color.NRGBA
}

var (
	colorBlack = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
	colorWhite = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

// Analyze picks the band background from the per-channel mean of the
// content and a readable foreground from its relative luminance.
func Analyze(content image.Image) Palette {
	sample := imaging.Resize(content, sampleWidth, 0, imaging.Box)
	bg := meanColor(sample)

	if Luminance(bg) > 0.5 {
		return Palette{Background: bg, Foreground: colorBlack, Outline: colorWhite}
	}
	return Palette{Background: bg, Foreground: colorWhite, Outline: colorBlack}
}

// Luminance is the WCAG relative luminance of an 8-bit color.
func Luminance(c color.NRGBA) float64 {
	r := float64(c.R) / 255.0
	g := float64(c.G) / 255.0
	b := float64(c.B) / 255.0
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func meanColor(img *image.NRGBA) color.NRGBA {
	bounds := img.Bounds()
	var r, g, b, n uint64

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			px := img.NRGBAAt(x, y)
			r += uint64(px.R)
			g += uint64(px.G)
			b += uint64(px.B)
			n++
		}
	}

	if n == 0 {
		return colorBlack
	}

	return color.NRGBA{
		R: uint8(r / n),
		G: uint8(g / n),
		B: uint8(b / n),
		A: 255,
	}
}
