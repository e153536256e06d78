package photo

import (
	"bytes"
	"io"
	"strings"
	"time"
)

// DefaultName is used when a selection arrives without a filename.
const DefaultName = "upload.jpg"

// Bucket is a named category of photo selection with its own cap.
type Bucket string

const (
	BucketCurrent     Bucket = "current"
	BucketInspiration Bucket = "inspiration"
)

// Buckets lists the buckets in submission order.
var Buckets = []Bucket{BucketCurrent, BucketInspiration}

// ParseBucket validates a bucket name.
func ParseBucket(s string) (Bucket, bool) {
	switch Bucket(strings.TrimSpace(s)) {
	case BucketCurrent:
		return BucketCurrent, true
	case BucketInspiration:
		return BucketInspiration, true
	}
	return "", false
}

// Source is an opaque handle to a photo's bytes. Each Open returns a fresh
// reader that the caller must close.
type Source interface {
	Open() (io.ReadCloser, error)
}

// Bytes is an in-memory Source, used for browser uploads.
type Bytes []byte

// Open implements Source.
func (b Bytes) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Photo is one selected image. Its bytes live only behind Source and are
// never written to the draft store.
type Photo struct {
	Name      string
	MediaType string
	Size      int64
	ModTime   time.Time
	Source    Source
}

// Identity is the deduplication key of a photo.
type Identity struct {
	Name       string
	Size       int64
	ModifiedAt int64 // unix milliseconds
}

// Identity returns the (name, size, modified-time) tuple for p.
func (p *Photo) Identity() Identity {
	var mod int64
	if !p.ModTime.IsZero() {
		mod = p.ModTime.UnixMilli()
	}
	return Identity{Name: p.Name, Size: p.Size, ModifiedAt: mod}
}

// DisplayName returns the declared filename, or DefaultName when empty.
func (p *Photo) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return DefaultName
}

// Meta is the persistable description of a selected photo. It carries no
// image bytes.
type Meta struct {
	Bucket     Bucket `json:"bucket"`
	Name       string `json:"name"`
	MediaType  string `json:"mediaType,omitempty"`
	Size       int64  `json:"size"`
	ModifiedAt int64  `json:"modifiedAt,omitempty"`
}
