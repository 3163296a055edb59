package imagegen

import (
	"context"
	"image"
	"image/color"
	"math/rand/v2"
	"time"

	"sdqueue/sdruntime"
)

// PlaceholderBackend renders a diagonal gradient whose colors depend only
// on the seed. Delay simulates sampling time and honors ctx.
type PlaceholderBackend struct {
	Delay time.Duration
}

func (b *PlaceholderBackend) Name() string { return KindPlaceholder }

func (b *PlaceholderBackend) Generate(ctx context.Context, req Request) (*Image, error) {
	if b.Delay > 0 {
		t := time.NewTimer(b.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	seed := sdruntime.ResolveSeed(req.Seed)
	w, h := req.Width, req.Height
	if w <= 0 || h <= 0 {
		w, h = 512, 512
	}
	data, err := sdruntime.EncodeImage(gradient(w, h, seed))
	if err != nil {
		return nil, err
	}
	return &Image{PNG: data, Width: w, Height: h, Seed: seed}, nil
}

func gradient(w, h int, seed int64) image.Image {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
	from := color.RGBA{uint8(rng.IntN(256)), uint8(rng.IntN(256)), uint8(rng.IntN(256)), 255}
	to := color.RGBA{uint8(rng.IntN(256)), uint8(rng.IntN(256)), uint8(rng.IntN(256)), 255}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	span := float64(w + h - 2)
	if span <= 0 {
		span = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t := float64(x+y) / span
			img.SetRGBA(x, y, color.RGBA{
				R: lerp(from.R, to.R, t),
				G: lerp(from.G, to.G, t),
				B: lerp(from.B, to.B, t),
				A: 255,
			})
		}
	}
	return img
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}

var _ Backend = (*PlaceholderBackend)(nil)
