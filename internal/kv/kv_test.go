package kv

import (
	"context"
	"testing"
	"time"
)

func TestLocalSetGet(t *testing.T) {
	t.Parallel()
	l := NewLocal()
	defer l.Close()
	ctx := context.Background()

	if _, err := l.Get(ctx, "missing"); err != ErrNotFound {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}

	if err := l.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	v, err := l.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Errorf("Get(k) = %q, %v", v, err)
	}

	if err := l.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := l.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
}

func TestLocalTTLExpiry(t *testing.T) {
	t.Parallel()
	l := NewLocal()
	defer l.Close()
	ctx := context.Background()

	if err := l.Set(ctx, "ephemeral", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if _, err := l.Get(ctx, "ephemeral"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	if _, err := l.Get(ctx, "ephemeral"); err != ErrNotFound {
		t.Errorf("Get after expiry err = %v, want ErrNotFound", err)
	}
}

func TestLocalSetNX(t *testing.T) {
	t.Parallel()
	l := NewLocal()
	defer l.Close()
	ctx := context.Background()

	ok, err := l.SetNX(ctx, "lock", "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v; want true", ok, err)
	}
	ok, err = l.SetNX(ctx, "lock", "owner-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v, %v; want false", ok, err)
	}

	v, _ := l.Get(ctx, "lock")
	if v != "owner-a" {
		t.Errorf("lock holder = %q, want owner-a", v)
	}
}

func TestLocalSetNXAfterExpiry(t *testing.T) {
	t.Parallel()
	l := NewLocal()
	defer l.Close()
	ctx := context.Background()

	if ok, _ := l.SetNX(ctx, "lock", "a", 20*time.Millisecond); !ok {
		t.Fatal("first SetNX should succeed")
	}
	time.Sleep(40 * time.Millisecond)
	if ok, _ := l.SetNX(ctx, "lock", "b", time.Minute); !ok {
		t.Error("SetNX after TTL expiry should succeed")
	}
}

func TestLocalIncr(t *testing.T) {
	t.Parallel()
	l := NewLocal()
	defer l.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := l.Incr(ctx, "counter")
		if err != nil || n != want {
			t.Errorf("Incr = %d, %v; want %d", n, err, want)
		}
	}
}

func TestNewWithoutRedisIsLocal(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), "", "", 0)
	defer s.Close()

	if _, ok := s.(*Local); !ok {
		t.Errorf("New with empty addr returned %T, want *Local", s)
	}
	if !s.Available() {
		t.Error("local store should always report available")
	}
}
