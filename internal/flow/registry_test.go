package flow

import (
	"testing"
	"time"

	"github.com/hpungsan/intake/internal/photo"
)

func TestRegistry_CreateGetRemove(t *testing.T) {
	previews := photo.NewPreviewRegistry()
	r := NewRegistry(photo.Caps{Current: 2, Inspiration: 1}, previews)

	s := r.Create()
	if s.ID == "" {
		t.Fatal("Create() returned empty ID")
	}
	if got, ok := r.Get(s.ID); !ok || got != s {
		t.Fatal("Get() did not return the created session")
	}
	if again := r.Adopt(r.Detached(s.ID)); again != s {
		t.Error("Adopt() replaced a live session")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	nav := NewNavigator(testRules, nil, nil)
	if err := nav.Dispatch(t.Context(), s, &AddPhotos{Bucket: photo.BucketCurrent, Photos: []*photo.Photo{jpegPhoto("a.jpg")}}); err != nil {
		t.Fatalf("AddPhotos: %v", err)
	}
	if previews.Len() != 1 {
		t.Fatalf("previews = %d, want 1", previews.Len())
	}

	r.Remove(s.ID)
	if _, ok := r.Get(s.ID); ok {
		t.Error("session still live after Remove()")
	}
	if previews.Len() != 0 {
		t.Errorf("previews = %d after Remove(), want 0", previews.Len())
	}
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry(photo.Caps{Current: 2, Inspiration: 1}, nil)
	old := r.Create()
	old.mu.Lock()
	old.updatedAt = time.Now().Add(-2 * time.Hour)
	old.mu.Unlock()
	fresh := r.Create()

	if n := r.Sweep(time.Hour); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if _, ok := r.Get(old.ID); ok {
		t.Error("idle session survived Sweep()")
	}
	if _, ok := r.Get(fresh.ID); !ok {
		t.Error("fresh session removed by Sweep()")
	}
}

func TestRegistry_DetachedIsNotLive(t *testing.T) {
	r := NewRegistry(photo.Caps{Current: 2, Inspiration: 1}, nil)

	s := r.Detached("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	if _, ok := r.Get(s.ID); ok {
		t.Error("Detached() session should not be live")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}

	if got := r.Adopt(s); got != s {
		t.Error("Adopt() should return the adopted session")
	}
	if got, ok := r.Get(s.ID); !ok || got != s {
		t.Error("adopted session not live")
	}
}
