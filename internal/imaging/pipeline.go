// Package imaging converts selected photos into small, opaque JPEGs encoded as
// raw base64 text for the intake payload.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"
	"go.uber.org/zap"

	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/photo"
)

// Output is the media type every compressed photo has.
const Output = "image/jpeg"

// Fixed policy for compressed photos.
const (
	DefaultMaxEdgePixels = 1600
	DefaultQuality       = 0.78
	MinQuality           = 0.5
	MaxQuality           = 0.92
)

// Pipeline decodes, resizes and re-encodes photos one at a time.
type Pipeline struct {
	decoder Decoder
	log     *zap.Logger
}

// NewPipeline creates a Pipeline using DefaultDecoder.
func NewPipeline(log *zap.Logger) *Pipeline {
	return NewPipelineWithDecoder(DefaultDecoder, log)
}

// NewPipelineWithDecoder creates a Pipeline with a custom decoder.
func NewPipelineWithDecoder(decoder Decoder, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{decoder: decoder, log: log}
}

// Compress returns the raw base64 JPEG for p, scaled so its longest edge is
// at most maxEdgePixels. quality is clamped to [MinQuality, MaxQuality].
//
// ctx is only checked before work starts; a photo in progress always finishes.
func (pl *Pipeline) Compress(ctx context.Context, p *photo.Photo, maxEdgePixels int, quality float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()

	src, err := pl.decode(p)
	if err != nil {
		pl.log.Warn("photo decode failed",
			zap.String("photo", p.DisplayName()),
			zap.Error(err))
		return "", errors.NewDecode(p.DisplayName(), err)
	}

	dst := Render(src, maxEdgePixels)

	data, err := Encode(dst, quality)
	if err != nil {
		return "", errors.NewUnexpected(err)
	}

	pl.log.Debug("photo compressed",
		zap.String("photo", p.DisplayName()),
		zap.Int("src_width", src.Bounds().Dx()),
		zap.Int("src_height", src.Bounds().Dy()),
		zap.Int("width", dst.Bounds().Dx()),
		zap.Int("height", dst.Bounds().Dy()),
		zap.Int64("src_bytes", p.Size),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))

	return StripPrefix(base64.StdEncoding.EncodeToString(data)), nil
}

// decode opens the photo's handle, decodes it and closes the handle on every path.
func (pl *Pipeline) decode(p *photo.Photo) (image.Image, error) {
	if p == nil || p.Source == nil {
		return nil, image.ErrFormat
	}
	rc, err := p.Source.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, err := pl.decoder.Decode(rc)
	if err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, image.ErrFormat
	}
	return img, nil
}

// FitWithin scales (w, h) uniformly so the longest edge is at most maxEdge.
// It never upscales and never returns an edge below 1.
func FitWithin(w, h, maxEdge int) (int, int) {
	W := max(1, w)
	H := max(1, h)
	M := maxEdge
	if M <= 0 {
		M = DefaultMaxEdgePixels
	}

	scale := math.Min(1, float64(M)/float64(max(W, H)))
	return max(1, int(math.Round(float64(W)*scale))),
		max(1, int(math.Round(float64(H)*scale)))
}

// ClampQuality limits q to [MinQuality, MaxQuality]. NaN and infinities
// become MinQuality.
func ClampQuality(q float64) float64 {
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return MinQuality
	}
	return math.Max(MinQuality, math.Min(MaxQuality, q))
}

// Render draws src onto an opaque surface sized by FitWithin, using
// Catmull-Rom resampling. Transparent areas come out white.
func Render(src image.Image, maxEdge int) *image.RGBA {
	sb := src.Bounds()
	w, h := FitWithin(sb.Dx(), sb.Dy(), maxEdge)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	if w == sb.Dx() && h == sb.Dy() {
		xdraw.Draw(dst, dst.Bounds(), src, sb.Min, xdraw.Over)
		return dst
	}
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, xdraw.Over, nil)
	return dst
}

// Encode writes img as JPEG at the clamped quality.
func Encode(img image.Image, quality float64) ([]byte, error) {
	q := int(math.Round(ClampQuality(quality) * 100))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StripPrefix removes a data-URL scheme marker ("data:image/jpeg;base64,")
// and returns only the encoded payload.
func StripPrefix(s string) string {
	const marker = "base64,"
	if idx := strings.Index(s, marker); idx != -1 && strings.HasPrefix(s, "data:") {
		return s[idx+len(marker):]
	}
	return s
}
