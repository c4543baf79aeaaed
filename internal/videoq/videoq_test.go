package videoq

import (
	"testing"
)

func TestEnqueueValidatesAgainstRoot(t *testing.T) {
	t.Parallel()
	q := NewChannelQueue("/photos", 4)

	q.Enqueue([]string{
		"/photos/trips/clip.mp4",
		"/etc/passwd",
		"/photos/../outside.mp4",
	}, "/cache/thumbnails")

	select {
	case b := <-q.Batches():
		if len(b.Paths) != 1 || b.Paths[0] != "trips/clip.mp4" {
			t.Errorf("batch paths = %v, want [trips/clip.mp4]", b.Paths)
		}
		if b.ThumbDir != "/cache/thumbnails" {
			t.Errorf("thumb dir = %q", b.ThumbDir)
		}
	default:
		t.Fatal("expected a batch on the queue")
	}
}

func TestEnqueueAllInvalidProducesNothing(t *testing.T) {
	t.Parallel()
	q := NewChannelQueue("/photos", 4)
	q.Enqueue([]string{"/elsewhere/a.mp4"}, "/cache/thumbnails")

	select {
	case b := <-q.Batches():
		t.Fatalf("unexpected batch %v", b)
	default:
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()
	q := NewChannelQueue("/photos", 1)
	q.Enqueue([]string{"/photos/a.mp4"}, "/t")
	q.Enqueue([]string{"/photos/b.mp4"}, "/t") // buffer full, dropped

	if got := len(q.Batches()); got != 1 {
		t.Errorf("queued batches = %d, want 1", got)
	}
}
