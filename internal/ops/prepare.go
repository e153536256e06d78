package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/intake/internal/config"
	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/gate"
	"github.com/hpungsan/intake/internal/payload"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
)

// PhotoRef points at a photo file on disk.
type PhotoRef struct {
	Path   string       `json:"file"`
	Bucket photo.Bucket `json:"bucket,omitempty"`
	Name   string       `json:"name,omitempty"`
}

// ParsePhotoRefs reads a loose list of photo references. Each item is either
// a path string or an object whose "file" holds the path.
func ParsePhotoRefs(v any) ([]PhotoRef, error) {
	if v == nil {
		return []PhotoRef{}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, errors.NewInvalidRequest("photos must be an array")
	}

	refs := make([]PhotoRef, 0, len(items))
	for i, item := range items {
		switch x := item.(type) {
		case string:
			refs = append(refs, PhotoRef{Path: x})
		case map[string]any:
			path, _ := x["file"].(string)
			if path == "" {
				path, _ = x["path"].(string)
			}
			if path == "" {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("photos[%d] has no file path", i))
			}
			ref := PhotoRef{Path: path}
			if b, ok := x["bucket"].(string); ok {
				ref.Bucket = photo.Bucket(b)
			}
			if n, ok := x["name"].(string); ok {
				ref.Name = n
			}
			refs = append(refs, ref)
		default:
			return nil, errors.NewInvalidRequest(fmt.Sprintf("photos[%d] must be a path or an object with a file path", i))
		}
	}
	return refs, nil
}

// noFollowFile is a photo.Source that refuses to follow a symlink.
type noFollowFile string

func (f noFollowFile) Open() (io.ReadCloser, error) {
	return openPhotoNoFollow(string(f))
}

// OpenPhoto validates one reference and describes the file without reading it.
func OpenPhoto(cfg *config.Config, ref PhotoRef) (*photo.Photo, photo.Bucket, error) {
	if err := ValidatePhotoPath(ref.Path, cfg); err != nil {
		return nil, "", err
	}
	path := filepath.Clean(ref.Path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", errors.NewNotFound(ref.Path)
	}

	bucket := photo.BucketCurrent
	if strings.TrimSpace(string(ref.Bucket)) != "" {
		b, ok := photo.ParseBucket(string(ref.Bucket))
		if !ok {
			return nil, "", errors.NewInvalidRequest(fmt.Sprintf("unknown photo bucket %q", ref.Bucket))
		}
		bucket = b
	}

	name := strings.TrimSpace(ref.Name)
	if name == "" {
		name = info.Name()
	}
	return &photo.Photo{
		Name:      name,
		MediaType: MediaTypeFor(path),
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Source:    noFollowFile(path),
	}, bucket, nil
}

// OpenPhotos validates every reference and returns the selection the way the
// interview would hold it: duplicates dropped, each bucket capped, current
// bucket first.
func OpenPhotos(cfg *config.Config, refs []PhotoRef) ([]*photo.Photo, error) {
	set := photo.NewSet(photo.Caps{Current: cfg.MaxCurrentPhotos, Inspiration: cfg.InspirationCap()}, nil)

	for _, ref := range refs {
		p, bucket, err := OpenPhoto(cfg, ref)
		if err != nil {
			return nil, err
		}
		if _, err := set.Add(bucket, p); err != nil {
			return nil, err
		}
	}
	return set.All(), nil
}

// RulesFromConfig returns the gate thresholds configured in cfg.
func RulesFromConfig(cfg *config.Config) gate.Rules {
	return gate.Rules{
		MinPhoneDigits:       cfg.MinPhoneDigits,
		MinPhotos:            cfg.MinPhotos,
		EnforcePhotoStepExit: cfg.EnforcePhotoStepExit,
	}
}

// ValidateInput contains parameters for the Validate operation.
type ValidateInput struct {
	Record     record.WorkingRecord
	PhotoCount int
}

// Check is the outcome of one gate.
type Check struct {
	Gate    string `json:"gate"`
	Passed  bool   `json:"passed"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// ValidateOutput contains the result of the Validate operation.
type ValidateOutput struct {
	Valid   bool           `json:"valid"`
	Checks  []Check        `json:"checks"`
	Answers record.Answers `json:"answers"`
}

// Validate runs every submission-relevant gate over a loose record and
// reports each outcome, so a caller sees all problems at once.
func Validate(rules gate.Rules, input ValidateInput) *ValidateOutput {
	answers := record.Normalize(input.Record)
	in := gate.Input{Answers: answers, PhotoCount: input.PhotoCount}

	gates := []struct {
		name string
		fn   gate.Gate
	}{
		{"identity", rules.Identity},
		{"services", rules.Services},
		{"photos", rules.Photos},
	}

	out := &ValidateOutput{Valid: true, Checks: make([]Check, 0, len(gates)), Answers: answers}
	for _, g := range gates {
		c := Check{Gate: g.name, Passed: true}
		if err := g.fn(in); err != nil {
			out.Valid = false
			c.Passed = false
			c.Message = errors.Message(err)
			var iErr *errors.IntakeError
			if errors.As(err, &iErr) {
				c.Field, _ = iErr.Details["field"].(string)
			}
		}
		out.Checks = append(out.Checks, c)
	}
	return out
}

// CanonicalizeInput contains parameters for the Canonicalize operation.
type CanonicalizeInput struct {
	Record record.WorkingRecord
	Photos []PhotoRef
	Origin payload.Origin
}

// Canonicalize compresses the referenced photos and builds the canonical
// payload for a loose record. Nothing is sent.
func Canonicalize(ctx context.Context, cfg *config.Config, c payload.Compressor, input CanonicalizeInput) (*payload.Payload, error) {
	photos, err := OpenPhotos(cfg, input.Photos)
	if err != nil {
		return nil, err
	}

	compressed, err := payload.CompressAll(ctx, c, photos, payload.CompressOptions{
		MaxEdgePixels: cfg.MaxEdgePixels,
		Quality:       cfg.JPEGQuality,
	})
	if err != nil {
		return nil, err
	}

	p := payload.Canonicalize(input.Record, compressed, input.Origin)
	return &p, nil
}
