package outputs

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// Thumbnail bounds.
const (
	MinThumbnailSide = 16
	MaxThumbnailSide = 1024
)

var ErrInvalidThumbnailSize = errors.New("outputs: invalid thumbnail size")

// Thumbnail decodes the PNG at path and scales it so its longer side is
// maxSide, keeping the aspect ratio. Images already that small are
// re-encoded unchanged.
func Thumbnail(path string, maxSide int) ([]byte, error) {
	if maxSide < MinThumbnailSide || maxSide > MaxThumbnailSide {
		return nil, fmt.Errorf("%w: %d (allowed %d-%d)", ErrInvalidThumbnailSize, maxSide, MinThumbnailSide, MaxThumbnailSide)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, ErrNotFound
	}
	defer f.Close()

	src, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("outputs: decode %s: %w", path, err)
	}
	return encodePNG(scaleToFit(src, maxSide))
}

func scaleToFit(src image.Image, maxSide int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return src
	}
	scale := float64(maxSide) / float64(max(w, h))
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("outputs: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
