package payload

import (
	"context"

	"github.com/hpungsan/intake/internal/photo"
)

// Compressor turns one photo into raw base64 JPEG text.
// *imaging.Pipeline satisfies it.
type Compressor interface {
	Compress(ctx context.Context, p *photo.Photo, maxEdgePixels int, quality float64) (string, error)
}

// CompressOptions carries the fixed compression policy.
type CompressOptions struct {
	MaxEdgePixels int
	Quality       float64
	// Progress, if set, is called after each photo with (done, total).
	Progress func(done, total int)
}

// CompressAll compresses photos one after another, in order. ctx is checked
// between photos; the first failure stops the run.
func CompressAll(ctx context.Context, c Compressor, photos []*photo.Photo, opts CompressOptions) ([]CompressedPhoto, error) {
	out := make([]CompressedPhoto, 0, len(photos))
	for i, p := range photos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		encoded, err := c.Compress(ctx, p, opts.MaxEdgePixels, opts.Quality)
		if err != nil {
			return nil, err
		}
		out = append(out, NewPhoto(p, encoded))
		if opts.Progress != nil {
			opts.Progress(i+1, len(photos))
		}
	}
	return out, nil
}
