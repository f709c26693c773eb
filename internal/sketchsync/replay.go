package sketchsync

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/studyroom/backend/internal/models"
)

var background = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Replay rasterizes a stroke log onto a fresh canvas. Rendering is a pure
// function of the log: replaying the same actions always yields identical
// pixels, which is what lets a resync snapshot rebuild the board exactly.
func Replay(actions []models.StrokeAction, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, background)
		}
	}

	for _, action := range actions {
		drawStroke(img, action)
	}
	return img
}

func drawStroke(img *image.RGBA, action models.StrokeAction) {
	c := background
	if action.Mode != models.StrokeModeErase {
		c = parseColor(action.Color)
	}

	radius := action.LineWidth / 2
	if radius < 0.5 {
		radius = 0.5
	}

	if len(action.Points) == 1 {
		stamp(img, action.Points[0], radius, c)
		return
	}
	for i := 1; i < len(action.Points); i++ {
		drawSegment(img, action.Points[i-1], action.Points[i], radius, c)
	}
}

// drawSegment stamps the brush along the segment at sub-radius steps.
func drawSegment(img *image.RGBA, from, to models.Point, radius float64, c color.RGBA) {
	dx := to.X - from.X
	dy := to.Y - from.Y
	dist := math.Hypot(dx, dy)

	steps := int(dist/(radius/2)) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		stamp(img, models.Point{X: from.X + dx*t, Y: from.Y + dy*t}, radius, c)
	}
}

func stamp(img *image.RGBA, p models.Point, radius float64, c color.RGBA) {
	bounds := img.Bounds()
	minX := int(math.Floor(p.X - radius))
	maxX := int(math.Ceil(p.X + radius))
	minY := int(math.Floor(p.Y - radius))
	maxY := int(math.Ceil(p.Y + radius))

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
				continue
			}
			if math.Hypot(float64(x)-p.X, float64(y)-p.Y) <= radius {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// parseColor reads "#rrggbb" or "#rgb". Unparsable colors render black.
func parseColor(s string) color.RGBA {
	var r, g, b uint8
	switch len(s) {
	case 7:
		if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
			return color.RGBA{A: 255}
		}
	case 4:
		if _, err := fmt.Sscanf(s, "#%1x%1x%1x", &r, &g, &b); err != nil {
			return color.RGBA{A: 255}
		}
		r *= 17
		g *= 17
		b *= 17
	default:
		return color.RGBA{A: 255}
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
