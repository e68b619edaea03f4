package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/trends-watcher/internal/models"
)

// fakeClock is a manually advanced clock for TTL tests.
type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(clock *fakeClock) *InMemoryCache[models.TrendsResponse] {
	c := NewInMemoryCache[models.TrendsResponse](DefaultTTL)
	c.now = clock.Now
	return c
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them with the capture timestamp.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCache(clock)

	val := models.TrendsResponse{Google: []models.TrendKeyword{{Name: "llm"}}, Params: models.TrendsParams{Timeframe: "now 1-d"}}
	if err := c.Set(ctx, "trends?geo=&timeframe=now+1-d", val); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "trends?geo=&timeframe=now+1-d")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if len(got.Data.Google) != 1 || got.Data.Google[0].Name != "llm" {
		t.Errorf("Get().Data = %+v, want %+v", got.Data, val)
	}
	if !got.Timestamp.Equal(clock.t) {
		t.Errorf("Get().Timestamp = %v, want %v", got.Timestamp, clock.t)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache[models.FreshnessData](0)

	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_IdempotentWithinTTL verifies repeated reads inside the TTL return
// the same entry, and the entry expires once the TTL has elapsed.
func TestInMemoryCache_IdempotentWithinTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCache(clock)

	_ = c.Set(ctx, "k", models.TrendsResponse{Timestamp: clock.t})

	clock.Advance(5 * time.Second)
	first, ok1, _ := c.Get(ctx, "k")
	clock.Advance(29 * time.Minute)
	second, ok2, _ := c.Get(ctx, "k")
	if !ok1 || !ok2 {
		t.Fatalf("Get() within TTL ok = %v, %v, want true, true", ok1, ok2)
	}
	if !first.Timestamp.Equal(second.Timestamp) || !first.Data.Timestamp.Equal(second.Data.Timestamp) {
		t.Errorf("reads within TTL differ: %+v vs %+v", first, second)
	}

	// Exactly at the TTL boundary the entry is still served.
	clock.t = first.Timestamp.Add(DefaultTTL)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Error("Get() at exactly TTL ok = false, want true")
	}

	clock.Advance(time.Millisecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() after TTL ok = true, want false")
	}
}

// TestInMemoryCache_Get_ExpiredIsEvicted verifies that Get returns ok=false for expired
// entries and removes them from cache on access.
func TestInMemoryCache_Get_ExpiredIsEvicted(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	c := newTestCache(clock)

	_ = c.Set(ctx, "a", models.TrendsResponse{})
	_ = c.Set(ctx, "b", models.TrendsResponse{})
	clock.Advance(DefaultTTL + time.Second)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d before reads, want 2 (no proactive sweep)", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d after reading expired key, want 1", c.Len())
	}
}

// TestInMemoryCache_Set_Overwrites verifies that the last writer wins and the
// timestamp is replaced.
func TestInMemoryCache_Set_Overwrites(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	c := NewInMemoryCache[models.MultiGeoData](time.Minute)
	c.now = clock.Now

	_ = c.Set(ctx, "k", models.MultiGeoData{Keyword: "old", FoundIn: []string{"US"}, TotalGeos: 6})
	clock.Advance(30 * time.Second)
	_ = c.Set(ctx, "k", models.MultiGeoData{Keyword: "new", FoundIn: []string{}})

	got, ok, _ := c.Get(ctx, "k")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Data.Keyword != "new" || len(got.Data.FoundIn) != 0 {
		t.Errorf("Get().Data = %+v, want replaced value", got.Data)
	}
	if !got.Timestamp.Equal(clock.t) {
		t.Errorf("Get().Timestamp = %v, want %v", got.Timestamp, clock.t)
	}
}

func TestStorageKey(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		hashed bool
	}{
		{"short plain key", "freshness?geo=us&keyword=llm", false},
		{"contains space", "trends?timeframe=now 1-d", true},
		{"too long", strings.Repeat("k", maxRawKeyLen+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storageKey(tt.in)
			if !strings.HasPrefix(got, keyPrefix) {
				t.Fatalf("storageKey(%q) = %q, missing prefix", tt.in, got)
			}
			if tt.hashed {
				if len(got) != len(keyPrefix)+64 {
					t.Errorf("storageKey(%q) = %q, want sha256 hex", tt.in, got)
				}
			} else if got != keyPrefix+tt.in {
				t.Errorf("storageKey(%q) = %q, want %q", tt.in, got, keyPrefix+tt.in)
			}
		})
	}
	if storageKey("a b") == storageKey("a  b") {
		t.Error("distinct keys hashed to the same storage key")
	}
}
