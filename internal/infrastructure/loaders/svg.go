package loaders

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

const (
	svgTargetSide = 1024
	svgMaxSide    = 4096
)

// rasterizeSVG renders an SVG onto a white canvas and writes it to a temp PNG.
// Small drawings are scaled up so the longer side reaches svgTargetSide.
func rasterizeSVG(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	icon, err := oksvg.ReadIconStream(f, oksvg.IgnoreErrorMode)
	if err != nil {
		return "", domain.InvalidInput("rasterize svg", "cannot parse svg: %v", err)
	}
	w, h := svgCanvas(icon.ViewBox.W, icon.ViewBox.H)
	icon.SetTarget(0, 0, float64(w), float64(h))

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(w, h, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)

	return writeTemp(".png", func(out io.Writer) error { return png.Encode(out, canvas) })
}

func svgCanvas(w, h float64) (int, int) {
	if w <= 0 || h <= 0 {
		return svgTargetSide, svgTargetSide
	}
	scale := max(1, svgTargetSide/max(w, h))
	scale = min(scale, svgMaxSide/max(w, h))
	return max(1, int(math.Round(w*scale))), max(1, int(math.Round(h*scale)))
}
