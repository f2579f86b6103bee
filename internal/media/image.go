package media

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

var jpegQualities = []int{90, 82, 75, 68, 60, 50, 40}

// ImageTransformer re-encodes images locally as JPEG, stepping quality down and
// then dimensions down until the result fits.
type ImageTransformer struct {
	maxShrinkSteps int
}

func NewImageTransformer() *ImageTransformer {
	return &ImageTransformer{maxShrinkSteps: 4}
}

func (t *ImageTransformer) Transform(ctx context.Context, data []byte, mimeType string, env Envelope) ([]byte, string, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %v", err)
	}

	target := int(float64(env.MaxBytes) * FitThreshold)
	dim := env.MaxDimension

	for step := 0; step <= t.maxShrinkSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		img := fitWithin(src, dim)
		for _, q := range jpegQualities {
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
				return nil, "", fmt.Errorf("failed to encode image: %v", err)
			}
			if buf.Len() <= target {
				return buf.Bytes(), "image/jpeg", nil
			}
		}

		longest := max(img.Bounds().Dx(), img.Bounds().Dy())
		dim = longest * 3 / 4
	}

	return nil, "", fmt.Errorf("image does not fit %d bytes after %d resize steps", env.MaxBytes, t.maxShrinkSteps)
}

func fitWithin(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return src
	}
	return imaging.Fit(src, maxDim, maxDim, imaging.Lanczos)
}
