package relay

import (
	"context"
	"testing"
	"time"
)

const storeTestPrefix = "relay:store_test"

func TestMemoryStore_TakeReturnsInOrderAndEmpties(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	for _, f := range []string{"a", "b", "c"} {
		if err := s.Save(ctx, "topic", f); err != nil {
			t.Fatalf("%s - Save failed: %v", storeTestPrefix, err)
		}
	}
	_ = s.Save(ctx, "other", "z")

	got, err := s.Take(ctx, "topic")
	if err != nil {
		t.Fatalf("%s - Take failed: %v", storeTestPrefix, err)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("%s - Take = %v", storeTestPrefix, got)
	}
	if again, _ := s.Take(ctx, "topic"); len(again) != 0 {
		t.Errorf("%s - second Take = %v, want empty", storeTestPrefix, again)
	}
	if s.Len("other") != 1 {
		t.Errorf("%s - other topic lost its frame", storeTestPrefix)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Minute)
	s.now = func() time.Time { return now }

	_ = s.Save(ctx, "t", "old")
	now = now.Add(50 * time.Second)
	_ = s.Save(ctx, "t", "new")
	_ = s.Save(ctx, "gone", "x")
	now = now.Add(20 * time.Second)

	purged, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("%s - PurgeExpired failed: %v", storeTestPrefix, err)
	}
	if purged != 1 {
		t.Errorf("%s - purged %d, want 1", storeTestPrefix, purged)
	}
	if s.Len("t") != 1 || s.Len("gone") != 1 {
		t.Errorf("%s - unexpected lengths t=%d gone=%d", storeTestPrefix, s.Len("t"), s.Len("gone"))
	}

	now = now.Add(time.Minute)
	if got, _ := s.Take(ctx, "t"); len(got) != 0 {
		t.Errorf("%s - Take returned expired frames %v", storeTestPrefix, got)
	}
}

func TestNewMemoryStore_DefaultTTL(t *testing.T) {
	if s := NewMemoryStore(0); s.ttl != 24*time.Hour {
		t.Errorf("%s - ttl = %v, want 24h", storeTestPrefix, s.ttl)
	}
}
