package print

import (
	"math"
)

const (
	// Content is cropped to 3:2, the overall sheet (content + band) to 4:3.
	contentRatio = 3.0 / 2.0
	ratioEpsilon = 0.001

	// Floor for the information band when the overall ratio leaves no
	// room for it.
	minBandHeight = 50
)

// Geometry is the crop/pad plan for one source image. Dimensions are in
// landscape orientation; Rotated records that the source was portrait
// and the composite must be rotated back before encoding.
type Geometry struct {
	ContentWidth  int
	ContentHeight int
	BandHeight    int
	Rotated       bool
}

// Plan computes the print geometry for a source of the given dimensions.
func Plan(width, height int) Geometry {
	rotated := false
	if width < height {
		width, height = height, width
		rotated = true
	}

	ratio := float64(width) / float64(height)
	switch {
	case ratio > contentRatio+ratioEpsilon:
		width = int(math.Round(float64(height) * contentRatio))
	case ratio < contentRatio-ratioEpsilon:
		height = int(math.Round(float64(width) / contentRatio))
	}

	band := bandFor(width) - height
	if band <= 0 {
		feasible := int(math.Floor(float64(width)*3.0/4.0)) - minBandHeight
		if feasible > 0 && feasible < height {
			height = feasible
			band = bandFor(width) - height
		}
	}

	return Geometry{
		ContentWidth:  width,
		ContentHeight: height,
		BandHeight:    band,
		Rotated:       rotated,
	}
}

func bandFor(width int) int {
	return int(math.Round(float64(width) * 3.0 / 4.0))
}

// FontSize derives the band text size from the band height.
func (g Geometry) FontSize() int {
	size := int(math.Round(float64(g.BandHeight) / 4.0))
	if size < 8 {
		return 8
	}
	return size
}
