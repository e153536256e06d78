package photo

import (
	"fmt"

	"github.com/hpungsan/intake/internal/errors"
)

// Caps bounds each bucket.
type Caps struct {
	Current     int
	Inspiration int
}

// Total is the cross-bucket cap.
func (c Caps) Total() int {
	return c.Current + c.Inspiration
}

func (c Caps) of(b Bucket) int {
	switch b {
	case BucketCurrent:
		return c.Current
	case BucketInspiration:
		return c.Inspiration
	}
	return 0
}

// Entry is a photo held by a Set together with its preview handle.
type Entry struct {
	Photo   *Photo
	Preview string
}

// Set holds the current photo selection.
//
// A Set is not safe for concurrent use; it belongs to one interview session
// and is only touched under that session's lock.
type Set struct {
	caps     Caps
	previews Previews
	entries  map[Bucket][]Entry
}

// NewSet creates an empty selection. previews may be nil, in which case no
// preview handles are issued.
func NewSet(caps Caps, previews Previews) *Set {
	return &Set{
		caps:     caps,
		previews: previews,
		entries:  make(map[Bucket][]Entry, len(Buckets)),
	}
}

// Caps returns the bucket caps.
func (s *Set) Caps() Caps {
	return s.caps
}

// Add appends photos to bucket, drops any whose identity is already held,
// then truncates the bucket to its cap so that the earliest picks survive.
// It returns how many of the given photos were kept.
func (s *Set) Add(bucket Bucket, photos ...*Photo) (int, error) {
	if _, ok := ParseBucket(string(bucket)); !ok {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("unknown photo bucket %q", bucket))
	}

	seen := make(map[Identity]bool)
	for _, b := range Buckets {
		for _, e := range s.entries[b] {
			seen[e.Photo.Identity()] = true
		}
	}

	current := s.entries[bucket]
	limit := s.caps.of(bucket)
	kept := 0
	for _, p := range photos {
		if p == nil {
			continue
		}
		id := p.Identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		if len(current) >= limit {
			continue
		}
		current = append(current, Entry{Photo: p, Preview: s.acquire(p)})
		kept++
	}
	s.entries[bucket] = current
	return kept, nil
}

// RemoveAt deletes one entry and releases its preview handle.
func (s *Set) RemoveAt(bucket Bucket, index int) error {
	list := s.entries[bucket]
	if index < 0 || index >= len(list) {
		return errors.NewInvalidRequest(fmt.Sprintf("no %s photo at position %d", bucket, index))
	}
	s.release(list[index])
	s.entries[bucket] = append(list[:index:index], list[index+1:]...)
	return nil
}

// Clear drops every selection and releases all preview handles.
func (s *Set) Clear() {
	for _, b := range Buckets {
		for _, e := range s.entries[b] {
			s.release(e)
		}
		delete(s.entries, b)
	}
}

// Total returns the cross-bucket count.
func (s *Set) Total() int {
	n := 0
	for _, b := range Buckets {
		n += len(s.entries[b])
	}
	return n
}

// Count returns the number of photos in one bucket.
func (s *Set) Count(bucket Bucket) int {
	return len(s.entries[bucket])
}

// Selected returns a copy of one bucket's entries.
func (s *Set) Selected(bucket Bucket) []Entry {
	return append([]Entry(nil), s.entries[bucket]...)
}

// All returns every photo, current bucket first.
func (s *Set) All() []*Photo {
	out := make([]*Photo, 0, s.Total())
	for _, b := range Buckets {
		for _, e := range s.entries[b] {
			out = append(out, e.Photo)
		}
	}
	return out
}

// Meta describes the selection without image bytes, for draft snapshots.
func (s *Set) Meta() []Meta {
	out := make([]Meta, 0, s.Total())
	for _, b := range Buckets {
		for _, e := range s.entries[b] {
			id := e.Photo.Identity()
			out = append(out, Meta{
				Bucket:     b,
				Name:       e.Photo.Name,
				MediaType:  e.Photo.MediaType,
				Size:       id.Size,
				ModifiedAt: id.ModifiedAt,
			})
		}
	}
	return out
}

func (s *Set) acquire(p *Photo) string {
	if s.previews == nil {
		return ""
	}
	return s.previews.Acquire(p)
}

func (s *Set) release(e Entry) {
	if s.previews == nil || e.Preview == "" {
		return
	}
	s.previews.Release(e.Preview)
}
